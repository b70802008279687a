package httpd

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

var (
	ErrRecvTimeout     = errors.New("timed out waiting for request body")
	ErrResponseStarted = errors.New("response already started")
	ErrBodyTooLarge    = errors.New("request body too large")
)

// Request is the handler's view of one HTTP exchange. Non-streaming bodies
// are held until the handler returns so the dispatcher can still decide
// whether the connection survives.
type Request struct {
	w http.ResponseWriter
	r *http.Request

	body        io.Reader
	recvTimeout time.Duration
	setDeadline func(time.Time) error

	status    int
	payload   []byte
	sent      bool
	streaming bool
	chunkEnd  bool
	raw       bool
}

func newRequest(w http.ResponseWriter, r *http.Request, recvTimeout time.Duration) *Request {
	rc := http.NewResponseController(w)
	return &Request{
		w:           w,
		r:           r,
		body:        r.Body,
		recvTimeout: recvTimeout,
		setDeadline: rc.SetReadDeadline,
		status:      http.StatusOK,
	}
}

// Method returns the request method.
func (req *Request) Method() string { return req.r.Method }

// Path returns the request path without the query.
func (req *Request) Path() string { return req.r.URL.Path }

// Context is cancelled when the client goes away.
func (req *Request) Context() context.Context { return req.r.Context() }

// RemoteAddr returns the peer address.
func (req *Request) RemoteAddr() string { return req.r.RemoteAddr }

// Started reports whether a response has been handed over for sending.
func (req *Request) Started() bool {
	return req.sent || req.streaming || req.raw
}

// Header returns a request header. Once the response has started the
// headers are gone and the lookup fails.
func (req *Request) Header(name string) (string, bool) {
	if req.Started() {
		return "", false
	}
	v := req.r.Header.Values(name)
	if len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// HeaderLen returns the length of a request header value, or 0.
func (req *Request) HeaderLen(name string) int {
	v, _ := req.Header(name)
	return len(v)
}

// QueryString returns the raw query if it fits a buffer of max bytes.
func (req *Request) QueryString(max int) (string, error) {
	q := req.r.URL.RawQuery
	if q == "" {
		return "", ErrNoQuery
	}
	if len(q) >= max {
		return "", ErrQueryTruncated
	}
	return q, nil
}

// QueryValue returns the raw value of key; see QueryKeyValue.
func (req *Request) QueryValue(key string, max int) (string, error) {
	if req.r.URL.RawQuery == "" {
		return "", ErrNoQuery
	}
	return QueryKeyValue(req.r.URL.RawQuery, key, max)
}

// ContentLength returns the declared body length, or -1 if unknown.
func (req *Request) ContentLength() int64 { return req.r.ContentLength }

// Recv reads up to len(buf) body bytes. A read that sees nothing before the
// receive timeout fails with ErrRecvTimeout and may be retried.
func (req *Request) Recv(buf []byte) (int, error) {
	if req.recvTimeout > 0 && req.setDeadline != nil {
		// Recorders and HTTP/2 streams may not support deadlines.
		_ = req.setDeadline(time.Now().Add(req.recvTimeout))
	}
	n, err := req.body.Read(buf)
	if err != nil && isTimeout(err) {
		return n, ErrRecvTimeout
	}
	return n, err
}

// ReadBody reads the whole body, failing if it exceeds limit bytes.
func (req *Request) ReadBody(limit int64) ([]byte, error) {
	if req.ContentLength() > limit {
		return nil, ErrBodyTooLarge
	}
	var body []byte
	buf := make([]byte, 512)
	for {
		n, err := req.Recv(buf)
		body = append(body, buf[:n]...)
		if int64(len(body)) > limit {
			return nil, ErrBodyTooLarge
		}
		if err == io.EOF {
			return body, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// SetStatus sets the status code for the response.
func (req *Request) SetStatus(code int) { req.status = code }

// SetHeader sets a response header. It has no effect once streaming began.
func (req *Request) SetHeader(name, value string) {
	req.w.Header().Set(name, value)
}

// SetContentType sets the response Content-Type.
func (req *Request) SetContentType(ct string) {
	req.SetHeader("Content-Type", ct)
}

// Send queues a complete body. It may only be called once and not after
// streaming has begun.
func (req *Request) Send(body []byte) error {
	if req.Started() {
		return ErrResponseStarted
	}
	req.payload = append([]byte(nil), body...)
	req.sent = true
	return nil
}

// SendString is Send for a string body.
func (req *Request) SendString(body string) error {
	return req.Send([]byte(body))
}

// SendChunk streams part of the body. An empty chunk ends the body.
func (req *Request) SendChunk(chunk []byte) error {
	if req.sent || req.raw || req.chunkEnd {
		return ErrResponseStarted
	}
	if !req.streaming {
		// Keep the request body readable while the reply streams.
		_ = http.NewResponseController(req.w).EnableFullDuplex()
		req.w.Header().Del("Content-Length")
		req.w.WriteHeader(req.status)
		req.streaming = true
	}
	if len(chunk) == 0 {
		req.chunkEnd = true
		return http.NewResponseController(req.w).Flush()
	}
	if _, err := req.w.Write(chunk); err != nil {
		return err
	}
	return http.NewResponseController(req.w).Flush()
}

// SendError queues an error response with msg as its plain text body.
func (req *Request) SendError(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	req.SetStatus(code)
	req.SetContentType("text/plain; charset=utf-8")
	return req.SendString(msg)
}

// SendTimeout queues a 408 Request Timeout.
func (req *Request) SendTimeout() error {
	return req.SendError(http.StatusRequestTimeout, "Server closed this connection")
}

// Raw hands the underlying writer and request to code that needs them
// directly, such as a websocket upgrade. The dispatcher writes nothing
// further for this request.
func (req *Request) Raw() (http.ResponseWriter, *http.Request) {
	req.raw = true
	return req.w, req.r
}

// flush writes a queued body, closing the connection afterwards if asked.
func (req *Request) flush(closeConn bool) error {
	h := req.w.Header()
	if closeConn {
		h.Set("Connection", "close")
	}
	h.Set("Content-Length", strconv.Itoa(len(req.payload)))
	req.w.WriteHeader(req.status)
	if len(req.payload) == 0 {
		return nil
	}
	_, err := req.w.Write(req.payload)
	return err
}
