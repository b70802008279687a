package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"ledlink-node/internal/actuator"
	"ledlink-node/internal/handlers"
	"ledlink-node/internal/history"
	"ledlink-node/internal/httpd"
	"ledlink-node/internal/logger"
	"ledlink-node/internal/logstream"
)

// Options configures a Node. Logs, History and Settings are optional; their
// routes are only registered when set.
type Options struct {
	MaxRoutes   int
	Template    []byte
	Authorizer  httpd.Authorizer
	RecvTimeout time.Duration

	Logs     *logstream.Hub
	History  *history.Recorder
	Settings *handlers.Settings
}

// Node is the shared server context every handler is bound to.
type Node struct {
	table      *httpd.Table
	dispatcher *httpd.Dispatcher
	machine    *actuator.Machine
	toggler    *actuator.Toggler
	template   []byte

	logs     *logstream.Hub
	history  *history.Recorder
	settings *handlers.Settings

	mu  sync.Mutex
	srv *http.Server
}

// New builds the route table with the built-in routes. The actuator must
// already be initialised so no request can observe an undefined state.
func New(machine *actuator.Machine, toggler *actuator.Toggler, opts Options) (*Node, error) {
	n := &Node{
		table:    httpd.NewTable(opts.MaxRoutes),
		machine:  machine,
		toggler:  toggler,
		template: opts.Template,
		logs:     opts.Logs,
		history:  opts.History,
		settings: opts.Settings,
	}
	n.dispatcher = httpd.NewDispatcher(n.table)
	n.dispatcher.Authorize = opts.Authorizer
	if opts.RecvTimeout > 0 {
		n.dispatcher.RecvTimeout = opts.RecvTimeout
	}

	if err := n.table.Update(n.registerRoutes); err != nil {
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}
	return n, nil
}

// Handler returns the dispatcher serving the node's routes.
func (n *Node) Handler() http.Handler { return n.dispatcher }

// Table returns the live route table.
func (n *Node) Table() *httpd.Table { return n.table }

func (n *Node) registerRoutes(tx *httpd.Tx) error {
	routes := []httpd.Route{
		{Path: "/", Method: http.MethodGet, Handler: n.handleIndex},
		{Path: "/ctrl", Method: http.MethodPut, Handler: n.handleCtrl},
		{Path: "/led_on", Method: http.MethodGet, Handler: n.handleLedOn},
		{Path: "/led_off", Method: http.MethodGet, Handler: n.handleLedOff},
		{Path: "/send", Method: http.MethodGet, Handler: n.handleSend},
	}
	routes = append(routes, n.debugRoutes()...)

	if n.logs != nil {
		routes = append(routes, httpd.Route{Path: "/ws/logs", Method: http.MethodGet, Handler: n.handleLogs})
	}
	if n.history != nil {
		routes = append(routes,
			httpd.Route{Path: "/api/v1/history", Method: http.MethodGet, Handler: n.history.HandleGetHistory},
			httpd.Route{Path: "/api/v1/history/dates", Method: http.MethodGet, Handler: n.history.HandleGetDates},
			httpd.Route{Path: "/api/v1/history/download", Method: http.MethodGet, Handler: n.history.HandleDownloadCSV},
		)
	}
	if n.settings != nil {
		routes = append(routes,
			httpd.Route{Path: "/api/v1/settings", Method: http.MethodGet, Handler: n.settings.HandleGetSettings},
			httpd.Route{Path: "/api/v1/settings", Method: http.MethodPost, Handler: n.settings.HandlePostSettings},
		)
	}

	for _, r := range routes {
		if err := tx.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// Start binds addr and serves until Shutdown.
func (n *Node) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not bind to address '%s': %w", addr, err)
	}
	logger.Info("Starting HTTP server on %s...", addr)
	return n.Serve(listener)
}

// Serve accepts connections on l until Shutdown.
func (n *Node) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           n.dispatcher,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	n.mu.Lock()
	n.srv = srv
	n.mu.Unlock()

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	srv := n.srv
	n.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
