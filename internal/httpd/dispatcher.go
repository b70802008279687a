// Package httpd routes requests through a table that can change while the
// server runs and lets each handler decide whether its connection survives.
package httpd

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"ledlink-node/internal/logger"
)

// Handler outcomes besides nil. Any other error is a failure: a 500 is sent
// if nothing was, and the connection is closed.
var (
	ErrAbortConnection = errors.New("close connection after response")
	ErrKeepConnection  = errors.New("handler failed, keep connection")
)

const (
	notFoundMessage         = "This URI does not exist"
	methodNotAllowedMessage = "Request method for this URI is not handled by server"

	DefaultRecvTimeout = 5 * time.Second
)

// Authorizer decides whether a request may reach the table.
type Authorizer func(req *Request) bool

// BasicAuth accepts requests carrying the given credentials.
func BasicAuth(username, password string) Authorizer {
	return func(req *Request) bool {
		u, p, ok := req.r.BasicAuth()
		if !ok {
			return false
		}
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
		return userOK && passOK
	}
}

// Dispatcher serves HTTP requests from a Table.
type Dispatcher struct {
	table *Table

	// Authorize, if set, runs before routing. Rejected requests get a 401.
	Authorize Authorizer
	// RecvTimeout bounds each Request.Recv call.
	RecvTimeout time.Duration
}

func NewDispatcher(table *Table) *Dispatcher {
	return &Dispatcher{table: table, RecvTimeout: DefaultRecvTimeout}
}

// Table returns the route table the dispatcher reads.
func (d *Dispatcher) Table() *Table { return d.table }

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger.Debug("HTTP Request: %s %s from %s", r.Method, r.URL.RequestURI(), r.RemoteAddr)

	req := newRequest(w, r, d.RecvTimeout)

	var err error
	if d.Authorize != nil && !d.Authorize(req) {
		err = unauthorized(req)
	} else if route, match := d.table.Resolve(r.URL.Path, r.Method); match == Matched {
		err = route.Handler(req)
	} else {
		err = d.miss(req, match)
	}
	finish(req, err)
}

func (d *Dispatcher) miss(req *Request, match Match) error {
	code := NotFound
	if match == PathOnly {
		code = MethodNotAllowed
	}
	if h := d.table.Fallback(code); h != nil {
		return h(req, code)
	}

	msg := notFoundMessage
	if code == MethodNotAllowed {
		msg = methodNotAllowedMessage
	}
	if err := req.SendError(int(code), msg); err != nil {
		return err
	}
	return ErrAbortConnection
}

func unauthorized(req *Request) error {
	req.SetHeader("WWW-Authenticate", `Basic realm="LedLink Node"`)
	return req.SendError(http.StatusUnauthorized, "")
}

func finish(req *Request, err error) {
	keep := err == nil || errors.Is(err, ErrKeepConnection)
	failed := err != nil && !errors.Is(err, ErrAbortConnection)
	if failed {
		logger.Warn("Handler for %s %s failed: %v", req.Method(), req.Path(), err)
	}

	switch {
	case req.raw:
		return
	case req.streaming:
		if !keep {
			hijackClose(req)
		}
		return
	case !req.sent && failed:
		_ = req.SendError(http.StatusInternalServerError, "")
	case !req.sent && !keep:
		// Nothing to say; just drop the connection.
		if hijackClose(req) {
			return
		}
	}

	if ferr := req.flush(!keep); ferr != nil {
		logger.Debug("Failed to write response for %s: %v", req.Path(), ferr)
	}
}

// hijackClose takes the connection from the server and closes it. A chunked
// body the handler ended is terminated first; an unfinished one is left
// truncated so the client sees the abort. It reports whether it succeeded.
func hijackClose(req *Request) bool {
	conn, buf, err := http.NewResponseController(req.w).Hijack()
	if err != nil {
		logger.Debug("Could not take over connection for %s: %v", req.Path(), err)
		return false
	}
	defer conn.Close()

	if req.chunkEnd && req.r.ProtoAtLeast(1, 1) {
		_, _ = buf.WriteString("0\r\n\r\n")
		_ = buf.Flush()
	}
	return true
}
