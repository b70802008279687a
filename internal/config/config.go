package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ledlink-node/internal/logger"

	"github.com/go-playground/validator/v10"
)

const (
	appDirName     = "LedLinkNode"
	configFileName = "node_config.json"

	defaultListenAddress = "0.0.0.0"
	defaultNetworkPort   = 8080
	defaultBaudRate      = 115200
	defaultLedPin        = 22
	defaultAckTimeoutMS  = 200
	defaultAckAttempts   = 20
	defaultMaxRoutes     = 16
	defaultLogLevel      = "INFO"
	defaultRetentionDays = 7
)

// AckConfig controls whether /send waits for the peer's reply frame.
type AckConfig struct {
	Enabled     bool `json:"enabled"`
	TimeoutMS   int  `json:"timeoutMs" validate:"min=1,max=10000"`
	MaxAttempts int  `json:"maxAttempts" validate:"min=1,max=100"`
}

// BasicAuthConfig enables the optional pass-through auth hook when Username is set.
type BasicAuthConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NodeConfig stores the node's runtime configuration.
type NodeConfig struct {
	ListenAddress        string          `json:"listenAddress" validate:"required,ip"`
	NetworkPort          int             `json:"networkPort" validate:"min=1,max=65535"`
	SerialPortName       string          `json:"serialPortName"`
	AutoDetectPort       bool            `json:"autoDetectPort"`
	BaudRate             int             `json:"baudRate" validate:"min=1200"`
	LedPin               int             `json:"ledPin" validate:"min=0,max=63"`
	Ack                  AckConfig       `json:"ack"`
	UnifyActuatorState   bool            `json:"unifyActuatorState"` // /send and /led_* share one flag
	MaxRoutes            int             `json:"maxRoutes" validate:"min=16,max=256"`
	BasicAuth            BasicAuthConfig `json:"basicAuth"`
	LogLevel             string          `json:"logLevel" validate:"oneof=DEBUG INFO WARN ERROR"`
	HistoryRetentionDays int             `json:"historyRetentionDays" validate:"min=0"`
	EnableDiscovery      bool            `json:"enableDiscovery"`
	EnableTray           bool            `json:"enableTray"`
}

var (
	mu         sync.RWMutex
	nodeConfig *NodeConfig // Singleton instance
	configFile string      // Full path to the config file
	validate   = validator.New(validator.WithRequiredStructEnabled())
)

// Defaults returns the configuration used when no file exists.
func Defaults() NodeConfig {
	return NodeConfig{
		ListenAddress:  defaultListenAddress,
		NetworkPort:    defaultNetworkPort,
		AutoDetectPort: true,
		BaudRate:       defaultBaudRate,
		LedPin:         defaultLedPin,
		Ack: AckConfig{
			TimeoutMS:   defaultAckTimeoutMS,
			MaxAttempts: defaultAckAttempts,
		},
		MaxRoutes:            defaultMaxRoutes,
		LogLevel:             defaultLogLevel,
		HistoryRetentionDays: defaultRetentionDays,
		EnableDiscovery:      true,
	}
}

// AppDir returns the per-user directory holding config, logs and history.
func AppDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, appDirName), nil
}

// SetPath selects the config file. An empty path selects the default
// location inside AppDir.
func SetPath(path string) error {
	if path == "" {
		dir, err := AppDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, configFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	mu.Lock()
	configFile = path
	nodeConfig = nil
	mu.Unlock()
	return nil
}

// Path returns the active config file path.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configFile
}

// Load reads the configuration from the JSON file into the singleton instance.
// If the file doesn't exist, it initializes a default configuration and saves it.
func Load() error {
	mu.Lock()
	defer mu.Unlock()
	return loadLocked()
}

func loadLocked() error {
	if configFile == "" {
		return errors.New("config path not set")
	}
	file, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("Config file '%s' not found. Using default settings.", configFile)
			def := Defaults()
			nodeConfig = &def
			logger.SetLevelFromString(nodeConfig.LogLevel)
			return saveLocked()
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Don't overwrite the active config if the file is broken.
	var tempConfig NodeConfig
	if err := json.Unmarshal(file, &tempConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	fillDefaults(&tempConfig)
	if err := validate.Struct(tempConfig); err != nil {
		return fmt.Errorf("invalid config '%s': %w", configFile, err)
	}
	nodeConfig = &tempConfig

	logger.SetLevelFromString(nodeConfig.LogLevel)
	logger.Info("Loaded config from '%s'", configFile)
	return nil
}

// fillDefaults back-fills keys missing from older config files.
func fillDefaults(c *NodeConfig) {
	if c.ListenAddress == "" {
		logger.Warn("Configuration key 'listenAddress' not found, using default '%s'.", defaultListenAddress)
		c.ListenAddress = defaultListenAddress
	}
	if c.NetworkPort == 0 {
		c.NetworkPort = defaultNetworkPort
	}
	if c.BaudRate == 0 {
		c.BaudRate = defaultBaudRate
	}
	if c.Ack.TimeoutMS == 0 {
		c.Ack.TimeoutMS = defaultAckTimeoutMS
	}
	if c.Ack.MaxAttempts == 0 {
		c.Ack.MaxAttempts = defaultAckAttempts
	}
	if c.MaxRoutes == 0 {
		c.MaxRoutes = defaultMaxRoutes
	}
	if c.LogLevel == "" {
		logger.Warn("Configuration key 'logLevel' not found, using default '%s'.", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	}
	// Without a port name there is nothing to connect to but auto-detection.
	if !c.AutoDetectPort && c.SerialPortName == "" {
		c.AutoDetectPort = true
	}
}

// Save writes the current configuration to the JSON file.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return saveLocked()
}

func saveLocked() error {
	if nodeConfig == nil {
		return errors.New("cannot save nil config")
	}
	logger.Debug("Attempting to save config to file: %s", configFile)
	data, err := json.MarshalIndent(nodeConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		logger.Error("Failed to write config file '%s': %v", configFile, err)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	logger.Info("Successfully saved config to file '%s'", configFile)
	return nil
}

// Get returns a copy of the active configuration, loading it on first use.
func Get() NodeConfig {
	mu.Lock()
	defer mu.Unlock()
	if nodeConfig == nil {
		if err := loadLocked(); err != nil {
			logger.Error("Failed to load configuration on demand: %v", err)
			return Defaults()
		}
	}
	return *nodeConfig
}

// Update applies fn to a copy of the configuration, validates the result
// and persists it. The active configuration is untouched on error.
func Update(fn func(c *NodeConfig)) (NodeConfig, error) {
	mu.Lock()
	defer mu.Unlock()
	if nodeConfig == nil {
		if err := loadLocked(); err != nil {
			return NodeConfig{}, err
		}
	}
	next := *nodeConfig
	fn(&next)
	if err := validate.Struct(next); err != nil {
		return *nodeConfig, fmt.Errorf("invalid config: %w", err)
	}
	prev := nodeConfig
	nodeConfig = &next
	if err := saveLocked(); err != nil {
		nodeConfig = prev
		return *prev, err
	}
	logger.SetLevelFromString(next.LogLevel)
	return next, nil
}
