package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"ledlink-node/internal/actuator"
	"ledlink-node/internal/httpd"
	"ledlink-node/internal/logger"
	"ledlink-node/internal/status"
)

const (
	helloReply     = "Hello World!"
	echoChunkSize  = 100
	queryValueSize = 32
)

// debugRoutes are the routes /ctrl switches off and on.
func (n *Node) debugRoutes() []httpd.Route {
	return []httpd.Route{
		{Path: "/hello", Method: http.MethodGet, Handler: n.hello(helloReply)},
		{Path: "/echo", Method: http.MethodPost, Handler: n.handleEcho},
	}
}

func (n *Node) disableDebugRoutes(tx *httpd.Tx) error {
	for _, r := range n.debugRoutes() {
		tx.UnregisterPath(r.Path)
	}
	tx.SetFallback(httpd.NotFound, n.handleNotFound)
	return nil
}

func (n *Node) enableDebugRoutes(tx *httpd.Tx) error {
	for _, r := range n.debugRoutes() {
		if err := tx.Register(r); err != nil && !errors.Is(err, httpd.ErrDuplicateRoute) {
			return err
		}
	}
	tx.SetFallback(httpd.NotFound, nil)
	return nil
}

func (n *Node) handleIndex(req *httpd.Request) error {
	page := status.Render(n.template, n.machine.State() == actuator.On)
	req.SetHeader("Cache-Control", "no-store")
	req.SetContentType("text/html; charset=UTF-8")
	return req.Send(page)
}

// hello logs a few headers and query parameters and replies with reply.
func (n *Node) hello(reply string) httpd.HandlerFunc {
	return func(req *httpd.Request) error {
		for _, name := range []string{"Host", "Test-Header-2", "Test-Header-1"} {
			if v, ok := req.Header(name); ok {
				logger.Info("Found header => %s: %s", name, v)
			}
		}

		if q, err := req.QueryString(256); err == nil {
			logger.Info("Found URL query => %s", q)
			for _, key := range []string{"query1", "query3", "query2"} {
				v, err := req.QueryValue(key, queryValueSize)
				switch {
				case err == nil:
					logger.Info("Found URL query parameter => %s=%s", key, v)
				case errors.Is(err, httpd.ErrQueryTruncated):
					logger.Warn("URL query parameter %s is too long", key)
				}
			}
		} else if !errors.Is(err, httpd.ErrNoQuery) {
			logger.Warn("Could not read URL query: %v", err)
		}

		req.SetHeader("Custom-Header-1", "Custom-Value-1")
		req.SetHeader("Custom-Header-2", "Custom-Value-2")
		if err := req.SendString(reply); err != nil {
			return err
		}

		if req.HeaderLen("Host") == 0 {
			logger.Info("Request headers lost")
		}
		return nil
	}
}

// handleEcho streams the request body back in fixed-size chunks.
func (n *Node) handleEcho(req *httpd.Request) error {
	buf := make([]byte, echoChunkSize)
	remaining := req.ContentLength()

	for remaining != 0 {
		size := len(buf)
		if remaining > 0 && remaining < int64(size) {
			size = int(remaining)
		}

		got, err := req.Recv(buf[:size])
		if errors.Is(err, httpd.ErrRecvTimeout) {
			if cerr := req.Context().Err(); cerr != nil {
				return cerr
			}
			// Retry receiving if timeout occurred
			continue
		}
		if got > 0 {
			logger.Debug("Echo received %d bytes: %q", got, buf[:got])
			if serr := req.SendChunk(buf[:got]); serr != nil {
				return serr
			}
			if remaining > 0 {
				remaining -= int64(got)
			}
		}
		if err == io.EOF {
			if remaining > 0 {
				return io.ErrUnexpectedEOF
			}
			break
		}
		if err != nil {
			return err
		}
	}

	return req.SendChunk(nil)
}

// handleCtrl turns /hello and /echo off with '0' and back on with anything else.
func (n *Node) handleCtrl(req *httpd.Request) error {
	var buf [1]byte
	got, err := req.Recv(buf[:])
	if got == 0 {
		if errors.Is(err, httpd.ErrRecvTimeout) {
			_ = req.SendTimeout()
			return httpd.ErrAbortConnection
		}
		_ = req.SendError(http.StatusBadRequest, "Expected one control byte")
		return httpd.ErrAbortConnection
	}

	if buf[0] == '0' {
		logger.Info("Unregistering /hello and /echo URIs")
		err = n.table.Update(n.disableDebugRoutes)
	} else {
		logger.Info("Registering /hello and /echo URIs")
		err = n.table.Update(n.enableDebugRoutes)
	}
	if err != nil {
		return fmt.Errorf("ctrl: %w", err)
	}
	return req.Send(nil)
}

// handleNotFound is the fallback installed while the debug routes are off.
func (n *Node) handleNotFound(req *httpd.Request, code httpd.ErrorCode) error {
	switch req.Path() {
	case "/hello":
		if err := req.SendError(http.StatusNotFound, "/hello URI is not available"); err != nil {
			return err
		}
		// Keep the connection for further requests.
		return nil
	case "/echo":
		if err := req.SendError(http.StatusNotFound, "/echo URI is not available"); err != nil {
			return err
		}
		return httpd.ErrAbortConnection
	}
	if err := req.SendError(http.StatusNotFound, "Some 404 error message"); err != nil {
		return err
	}
	return httpd.ErrAbortConnection
}

func (n *Node) handleLedOn(req *httpd.Request) error {
	return n.led(req, n.machine.TurnOn)
}

func (n *Node) handleLedOff(req *httpd.Request) error {
	return n.led(req, n.machine.TurnOff)
}

func (n *Node) led(req *httpd.Request, set func() (string, error)) error {
	body, err := set()
	if err != nil {
		logger.Error("Failed to switch LED: %v", err)
		return req.SendError(http.StatusInternalServerError, "Failed to switch LED")
	}
	logger.Info("LED %s", n.machine.State())
	return req.SendString(body)
}

func (n *Node) handleSend(req *httpd.Request) error {
	digit := n.toggler.Toggle()
	logger.Info("Serial toggle answered %s", digit)
	return req.SendString(digit)
}

func (n *Node) handleLogs(req *httpd.Request) error {
	w, r := req.Raw()
	if err := n.logs.Serve(w, r); err != nil {
		logger.Warn("Log stream upgrade failed: %v", err)
	}
	return nil
}
