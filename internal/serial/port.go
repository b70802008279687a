package serial

import (
	"errors"
	"time"

	"ledlink-node/internal/logger"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const defaultCheckInterval = 5 * time.Second

// Target describes which port the manager should keep open.
type Target struct {
	PortName   string
	AutoDetect bool
	BaudRate   int
}

// Open opens a real serial port in 8N1 mode.
func Open(name string, baud int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(name, mode)
}

// FindPort returns the first USB serial port on the system.
// The peer never speaks unprompted, so there is nothing to probe for.
func FindPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		logger.Warn("FindPort: enumerator.GetDetailedPortsList returned an error: %v.", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found on the system")
	}

	for _, port := range ports {
		logger.Debug("Checking port: %s (IsUSB: %t, VID: %s, PID: %s)", port.Name, port.IsUSB, port.VID, port.PID)
		if port.IsUSB {
			return port.Name, nil
		}
	}
	return "", errors.New("could not find a USB serial port")
}

// Manager keeps a Link attached to a port, reconnecting in the background.
type Manager struct {
	link      *Link
	target    func() Target
	onConnect func(portName string)
	interval  time.Duration

	open func(name string, baud int) (Transport, error)
	find func() (string, error)
}

// NewManager creates a manager for link. target is consulted on every
// attempt so configuration changes take effect without a restart.
// onConnect, if set, is told which port was opened.
func NewManager(link *Link, target func() Target, onConnect func(portName string)) *Manager {
	return &Manager{
		link:      link,
		target:    target,
		onConnect: onConnect,
		interval:  defaultCheckInterval,
		open:      Open,
		find:      FindPort,
	}
}

// Connect makes one connection attempt: the configured port first, then
// auto-detection if enabled. It reports whether the link is now attached.
func (m *Manager) Connect() bool {
	t := m.target()

	if t.PortName != "" {
		logger.Info("Trying configured port '%s'.", t.PortName)
		if m.reconnect(t.PortName, t.BaudRate) {
			return true
		}
		if !t.AutoDetect {
			return false
		}
		logger.Warn("Configured port '%s' failed. Falling back to auto-detection.", t.PortName)
	}

	logger.Info("Starting auto-detection...")
	found, err := m.find()
	if err != nil {
		logger.Warn("Auto-detection failed: %v", err)
		return false
	}
	logger.Info("Auto-detection found port %s. Connecting...", found)
	return m.reconnect(found, t.BaudRate)
}

// Run checks the link every interval until stop is closed.
func (m *Manager) Run(stop <-chan struct{}) {
	logger.Info("Connection manager task started.")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			logger.Info("Connection manager task stopped.")
			return
		case <-ticker.C:
			if m.link.Connected() {
				logger.Debug("Connection Manager: Device is connected.")
				continue
			}
			logger.Info("Connection Manager: Device is disconnected. Attempting to connect...")
			m.Connect()
		}
	}
}

// Reconnect drops the current port and opens portName; an empty name only
// disconnects and leaves recovery to Run.
func (m *Manager) Reconnect(portName string) bool {
	if portName == "" {
		logger.Info("Reconnect called with empty port name. Connection remains closed.")
		m.link.Attach(nil)
		return false
	}
	return m.reconnect(portName, m.target().BaudRate)
}

func (m *Manager) reconnect(portName string, baud int) bool {
	m.link.Attach(nil)

	logger.Info("Attempting to open serial port: %s", portName)
	p, err := m.open(portName, baud)
	if err != nil {
		logger.Error("Failed to open port %s: %v", portName, err)
		return false
	}
	m.link.Attach(p)
	logger.Info("Successfully opened serial port: %s", portName)
	if m.onConnect != nil {
		m.onConnect(portName)
	}
	return true
}
