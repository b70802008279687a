package httpd

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

var (
	ErrDuplicateRoute = errors.New("route already registered")
	ErrRouteNotFound  = errors.New("route not registered")
	ErrTableFull      = errors.New("route table full")
	ErrNilHandler     = errors.New("route has no handler")
)

// RouteError reports which route an operation failed on.
type RouteError struct {
	Op     string
	Path   string
	Method string
	Err    error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Method, e.Path, e.Err)
}

func (e *RouteError) Unwrap() error { return e.Err }

// HandlerFunc serves one request. The returned error decides what happens
// to the connection; see Dispatcher.
type HandlerFunc func(req *Request) error

// ErrorHandlerFunc serves requests that matched no route.
type ErrorHandlerFunc func(req *Request, code ErrorCode) error

// ErrorCode is the class of a resolution failure.
type ErrorCode int

const (
	NotFound         ErrorCode = http.StatusNotFound
	MethodNotAllowed ErrorCode = http.StatusMethodNotAllowed
)

func (c ErrorCode) String() string {
	return http.StatusText(int(c))
}

// Route binds an exact path and method to a handler. Anything the handler
// needs is captured by the closure when the route is built.
type Route struct {
	Path    string
	Method  string
	Handler HandlerFunc
}

// Match is the outcome of Resolve.
type Match int

const (
	NoMatch  Match = iota
	Matched        // path and method matched
	PathOnly       // the path exists under other methods
)

// routeSet is the table's state. It is only touched with the table lock
// held, or on a private copy inside Update.
type routeSet struct {
	routes    []Route
	fallbacks map[ErrorCode]ErrorHandlerFunc
	capacity  int
}

func (s *routeSet) index(path, method string) int {
	for i, r := range s.routes {
		if r.Path == path && r.Method == method {
			return i
		}
	}
	return -1
}

func (s *routeSet) register(r Route) error {
	if r.Handler == nil {
		return &RouteError{Op: "register", Path: r.Path, Method: r.Method, Err: ErrNilHandler}
	}
	if s.index(r.Path, r.Method) >= 0 {
		return &RouteError{Op: "register", Path: r.Path, Method: r.Method, Err: ErrDuplicateRoute}
	}
	if s.capacity > 0 && len(s.routes) >= s.capacity {
		return &RouteError{Op: "register", Path: r.Path, Method: r.Method, Err: ErrTableFull}
	}
	s.routes = append(s.routes, r)
	return nil
}

func (s *routeSet) unregister(path, method string) error {
	i := s.index(path, method)
	if i < 0 {
		return &RouteError{Op: "unregister", Path: path, Method: method, Err: ErrRouteNotFound}
	}
	s.routes = append(s.routes[:i:i], s.routes[i+1:]...)
	return nil
}

func (s *routeSet) unregisterPath(path string) int {
	kept := s.routes[:0:0]
	for _, r := range s.routes {
		if r.Path != path {
			kept = append(kept, r)
		}
	}
	removed := len(s.routes) - len(kept)
	s.routes = kept
	return removed
}

func (s *routeSet) setFallback(code ErrorCode, h ErrorHandlerFunc) {
	if h == nil {
		delete(s.fallbacks, code)
		return
	}
	s.fallbacks[code] = h
}

func (s *routeSet) clone() *routeSet {
	c := &routeSet{
		routes:    append([]Route(nil), s.routes...),
		fallbacks: make(map[ErrorCode]ErrorHandlerFunc, len(s.fallbacks)),
		capacity:  s.capacity,
	}
	for k, v := range s.fallbacks {
		c.fallbacks[k] = v
	}
	return c
}

// Table maps (path, method) to handlers. Every lookup and mutation goes
// through one lock, and batches applied with Update become visible all at
// once.
type Table struct {
	mu  sync.RWMutex
	set *routeSet
}

// NewTable creates an empty table holding at most capacity routes;
// capacity <= 0 means unbounded.
func NewTable(capacity int) *Table {
	return &Table{set: &routeSet{
		fallbacks: make(map[ErrorCode]ErrorHandlerFunc),
		capacity:  capacity,
	}}
}

// Register adds a route. It fails with ErrDuplicateRoute, leaving the
// table unchanged, if the path and method are already bound.
func (t *Table) Register(r Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.register(r)
}

// Unregister removes one route, failing with ErrRouteNotFound if absent.
func (t *Table) Unregister(path, method string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.unregister(path, method)
}

// UnregisterPath removes every method bound to path and returns how many
// routes went away.
func (t *Table) UnregisterPath(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.unregisterPath(path)
}

// SetFallback installs the handler for a resolution failure class. A nil
// handler restores the built-in response.
func (t *Table) SetFallback(code ErrorCode, h ErrorHandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set.setFallback(code, h)
}

// Fallback returns the installed handler for code, or nil.
func (t *Table) Fallback(code ErrorCode) ErrorHandlerFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set.fallbacks[code]
}

// Resolve finds the route for an exact, case-sensitive path and method.
func (t *Table) Resolve(path, method string) (Route, Match) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	match := NoMatch
	for _, r := range t.set.routes {
		if r.Path != path {
			continue
		}
		if r.Method == method {
			return r, Matched
		}
		match = PathOnly
	}
	return Route{}, match
}

// Routes returns the registered routes in registration order.
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Route(nil), t.set.routes...)
}

// Tx is the view of the table handed to an Update batch.
type Tx struct {
	set *routeSet
}

func (tx *Tx) Register(r Route) error { return tx.set.register(r) }

func (tx *Tx) Unregister(path, method string) error { return tx.set.unregister(path, method) }

func (tx *Tx) UnregisterPath(path string) int { return tx.set.unregisterPath(path) }

func (tx *Tx) SetFallback(code ErrorCode, h ErrorHandlerFunc) { tx.set.setFallback(code, h) }

// Update applies fn as one batch. Resolve never observes a partially
// applied batch, and if fn returns an error nothing it did is kept.
func (t *Table) Update(fn func(tx *Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.set.clone()
	if err := fn(&Tx{set: next}); err != nil {
		return err
	}
	t.set = next
	return nil
}
