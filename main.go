package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"ledlink-node/internal/actuator"
	"ledlink-node/internal/config"
	"ledlink-node/internal/database"
	"ledlink-node/internal/discovery"
	"ledlink-node/internal/gpio"
	"ledlink-node/internal/handlers"
	"ledlink-node/internal/history"
	"ledlink-node/internal/httpd"
	"ledlink-node/internal/logger"
	"ledlink-node/internal/logstream"
	"ledlink-node/internal/serial"
	"ledlink-node/internal/server"
	"ledlink-node/internal/systray"

	"github.com/spf13/pflag"
)

//go:embed web/index.html
var indexHTML []byte

//go:embed web/icon.png
var iconData []byte

const (
	logFileName = "ledlink_node.log"
	dbFileName  = "ledlink_node.db"
)

// app owns every long-lived component of the node.
type app struct {
	port     int
	hub      *logstream.Hub
	machine  *actuator.Machine
	toggler  *actuator.Toggler
	link     *serial.Link
	manager  *serial.Manager
	store    *database.Store
	recorder *history.Recorder
	node     *server.Node
	disco    *discovery.Responder

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the node configuration file")
	port := pflag.IntP("port", "p", 0, "HTTP port, overrides the configuration")
	headless := pflag.Bool("headless", false, "run without the system tray")
	pflag.Parse()

	if err := config.SetPath(*configPath); err != nil {
		logger.Fatal("Failed to resolve configuration path: %v", err)
	}
	if err := config.Load(); err != nil {
		logger.Fatal("Failed to load configuration from %s: %v", config.Path(), err)
	}

	hub := logstream.NewHub()
	go hub.Run()

	appDir := filepath.Dir(config.Path())
	if err := logger.Setup(logger.Options{
		FilePath:   filepath.Join(appDir, logFileName),
		MaxSizeMB:  5,
		MaxBackups: 1,
		Console:    true,
		Stream:     hub,
	}); err != nil {
		logger.Fatal("Failed to set up logging: %v", err)
	}
	conf := config.Get()
	logger.SetLevelFromString(conf.LogLevel)
	logger.Info("Using configuration file %s", config.Path())

	a, err := newApp(hub, appDir, *port)
	if err != nil {
		logger.Fatal("Failed to start node: %v", err)
	}

	if conf.EnableTray && !*headless {
		systray.Run(a.run, a.shutdown, iconData, systray.Menu{
			StatusURL: func() string { return fmt.Sprintf("http://localhost:%d/", a.port) },
			LedOn:     a.machine.TurnOn,
			LedOff:    a.machine.TurnOff,
			Toggle:    a.toggler.Toggle,
		})
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go a.run()
	<-ctx.Done()
	a.shutdown()
}

func newApp(hub *logstream.Hub, appDir string, portOverride int) (*app, error) {
	conf := config.Get()
	a := &app{port: conf.NetworkPort, hub: hub, stop: make(chan struct{})}
	if portOverride > 0 {
		a.port = portOverride
	}

	// The LED must be off before the first request can be served.
	machine, err := actuator.New(gpio.NewMemoryPin(conf.LedPin))
	if err != nil {
		return nil, err
	}
	a.machine = machine

	a.link = serial.NewLink(nil)
	a.manager = serial.NewManager(a.link, serialTarget, rememberPort)
	a.toggler = actuator.NewToggler(a.link, machine, ackPolicy, conf.UnifyActuatorState)
	if conf.UnifyActuatorState {
		logger.Info("Serial toggle shares the LED state.")
	}

	opts := server.Options{
		MaxRoutes: conf.MaxRoutes,
		Template:  indexHTML,
		Logs:      hub,
		Settings: &handlers.Settings{Reconnect: func(name string) {
			a.manager.Reconnect(name)
		}},
	}
	if conf.BasicAuth.Username != "" {
		logger.Info("Basic authentication enabled for user '%s'.", conf.BasicAuth.Username)
		opts.Authorizer = httpd.BasicAuth(conf.BasicAuth.Username, conf.BasicAuth.Password)
	}

	store, err := database.Open(filepath.Join(appDir, dbFileName))
	if err != nil {
		logger.Error("Failed to initialize database, history disabled: %v", err)
	} else {
		a.store = store
		a.recorder = history.NewRecorder(store, func() int { return config.Get().HistoryRetentionDays })
		machine.SetObserver(a.recorder.Observe)
		opts.History = a.recorder
	}

	a.node, err = server.New(machine, a.toggler, opts)
	if err != nil {
		return nil, err
	}

	if conf.EnableDiscovery {
		addr := fmt.Sprintf("%s:%d", conf.ListenAddress, discovery.DefaultPort)
		if a.disco, err = discovery.Listen(addr, func() int { return a.port }); err != nil {
			logger.Error("Discovery: %v", err)
			logger.Info("HINT: This may be caused by another node running, or a permissions issue.")
		}
	}
	return a, nil
}

func serialTarget() serial.Target {
	c := config.Get()
	return serial.Target{PortName: c.SerialPortName, AutoDetect: c.AutoDetectPort, BaudRate: c.BaudRate}
}

// rememberPort saves an auto-detected port so the next start tries it first.
func rememberPort(name string) {
	if config.Get().SerialPortName == name {
		return
	}
	if _, err := config.Update(func(c *config.NodeConfig) { c.SerialPortName = name }); err != nil {
		logger.Error("Failed to save serial port name: %v", err)
	}
}

func ackPolicy() serial.AckPolicy {
	c := config.Get().Ack
	return serial.AckPolicy{
		Enabled:     c.Enabled,
		Timeout:     time.Duration(c.TimeoutMS) * time.Millisecond,
		MaxAttempts: c.MaxAttempts,
	}
}

func (a *app) run() {
	conf := config.Get()

	if !a.manager.Connect() {
		logger.Warn("No serial peer yet; /send answers 9 until one is connected.")
	}
	a.goRun(func() { a.manager.Run(a.stop) })

	if a.recorder != nil {
		a.goRun(func() { a.recorder.Run(a.stop) })
	}

	if a.disco != nil {
		a.goRun(a.disco.Serve)
	}

	addr := fmt.Sprintf("%s:%d", conf.ListenAddress, a.port)
	if err := a.node.Start(addr); err != nil {
		logger.Fatal("HTTP server failed: %v. Please check your configuration.", err)
	}
}

func (a *app) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *app) shutdown() {
	a.stopOnce.Do(func() {
		logger.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.node.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown: %v", err)
		}
		if a.disco != nil {
			a.disco.Close()
		}
		close(a.stop)
		a.wg.Wait()
		a.link.Attach(nil)

		if a.store != nil {
			if err := a.store.Close(); err != nil {
				logger.Warn("Closing database: %v", err)
			}
		}
		a.hub.Stop()
		logger.Close()
	})
}
