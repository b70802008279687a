package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ledlink-node/internal/actuator"
	"ledlink-node/internal/gpio"
	"ledlink-node/internal/handlers"
	"ledlink-node/internal/history"
	"ledlink-node/internal/httpd"
	"ledlink-node/internal/logstream"
	"ledlink-node/internal/serial"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTemplate = `<div>LED is <span id='led' class="CCC">TTT</span></div>`

type fakeLink struct {
	mu   sync.Mutex
	sent []bool
}

func (f *fakeLink) Exchange(on bool, policy serial.AckPolicy) (serial.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, on)
	return serial.AckUnknown, nil
}

type fixture struct {
	node *Node
	srv  *httptest.Server
	pin  *gpio.MemoryPin
	link *fakeLink
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	pin := gpio.NewMemoryPin(22)
	machine, err := actuator.New(pin)
	require.NoError(t, err)
	link := &fakeLink{}
	toggler := actuator.NewToggler(link, machine, func() serial.AckPolicy { return serial.AckPolicy{} }, false)

	if opts.Template == nil {
		opts.Template = []byte(testTemplate)
	}
	if opts.MaxRoutes == 0 {
		opts.MaxRoutes = 16
	}
	node, err := New(machine, toggler, opts)
	require.NoError(t, err)

	srv := httptest.NewServer(node.Handler())
	t.Cleanup(srv.Close)
	return &fixture{node: node, srv: srv, pin: pin, link: link}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := f.srv.Client().Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// conn is one raw keep-alive connection to the test server.
type conn struct {
	t  *testing.T
	c  net.Conn
	br *bufio.Reader
}

func (f *fixture) dial(t *testing.T) *conn {
	t.Helper()
	c, err := net.Dial("tcp", f.srv.Listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return &conn{t: t, c: c, br: bufio.NewReader(c)}
}

func (c *conn) write(method, path, body string) {
	fmt.Fprintf(c.c, "%s %s HTTP/1.1\r\nHost: node\r\nContent-Length: %d\r\n\r\n%s", method, path, len(body), body)
}

func (c *conn) read() (*http.Response, string) {
	c.t.Helper()
	require.NoError(c.t, c.c.SetReadDeadline(time.Now().Add(3*time.Second)))
	resp, err := http.ReadResponse(c.br, nil)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(body)
}

func (c *conn) do(method, path, body string) (*http.Response, string) {
	c.t.Helper()
	c.write(method, path, body)
	return c.read()
}

func (c *conn) requireClosed() {
	c.t.Helper()
	require.NoError(c.t, c.c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.br.ReadByte()
	require.Error(c.t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		require.False(c.t, ne.Timeout(), "connection was left open")
	}
}

func TestLedOnShowsOnStatusPage(t *testing.T) {
	f := newFixture(t, Options{})

	_, body := f.get(t, "/")
	assert.Contains(t, body, `class="off">OFF<`)

	resp, body := f.get(t, "/led_on")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", body)
	assert.True(t, f.pin.Get())

	resp, body = f.get(t, "/")
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "text/html; charset=UTF-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `class="on ">ON <`)
	assert.Len(t, body, len(testTemplate))

	_, body = f.get(t, "/led_off")
	assert.Equal(t, "0", body)
	assert.False(t, f.pin.Get())
}

func TestSendAlternatesDigits(t *testing.T) {
	f := newFixture(t, Options{})

	_, first := f.get(t, "/send")
	_, second := f.get(t, "/send")
	assert.Equal(t, actuator.DigitOn, first)
	assert.Equal(t, actuator.DigitOff, second)
	assert.Equal(t, []bool{true, false}, f.link.sent)

	// The LED endpoints keep their own state.
	assert.False(t, f.pin.Get())
}

func TestHello(t *testing.T) {
	f := newFixture(t, Options{})

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/hello?query1=a&query2=b&query3=c", nil)
	require.NoError(t, err)
	req.Header.Set("Test-Header-1", "one")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, helloReply, string(body))
	assert.Equal(t, "Custom-Value-1", resp.Header.Get("Custom-Header-1"))
	assert.Equal(t, "Custom-Value-2", resp.Header.Get("Custom-Header-2"))
}

func TestEchoStreamsBody(t *testing.T) {
	f := newFixture(t, Options{})
	payload := strings.Repeat("0123456789", 25)

	resp, err := f.srv.Client().Post(f.srv.URL+"/echo", "text/plain", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, payload, string(body))

	c := f.dial(t)
	_, got := c.do(http.MethodPost, "/echo", "")
	assert.Empty(t, got)
}

func TestEchoKeepsReadingAfterFirstChunk(t *testing.T) {
	f := newFixture(t, Options{})
	payload := strings.Repeat("x", echoChunkSize+1)

	c := f.dial(t)
	resp, body := c.do(http.MethodPost, "/echo", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payload, body)
	assert.False(t, resp.Close)

	_, body = c.do(http.MethodPost, "/echo", "again")
	assert.Equal(t, "again", body)
}

func TestCtrlRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	before := len(f.node.Table().Routes())

	c := f.dial(t)
	resp, _ := c.do(http.MethodPut, "/ctrl", "0")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodGet, "/hello", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "/hello URI is not available", body)
	assert.False(t, resp.Close)

	// Same connection is still usable, and /echo closes it.
	resp, body = c.do(http.MethodPost, "/echo", "ping")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "/echo URI is not available", body)
	c.requireClosed()

	other := f.dial(t)
	resp, body = other.do(http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Some 404 error message", body)
	other.requireClosed()

	again := f.dial(t)
	resp, _ = again.do(http.MethodPut, "/ctrl", "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.get(t, "/hello")
	assert.Equal(t, helloReply, body)
	assert.Nil(t, f.node.Table().Fallback(httpd.NotFound))
	assert.Equal(t, before, len(f.node.Table().Routes()))

	resp, body = f.get(t, "/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "This URI does not exist", body)
}

func TestCtrlRecvTimeout(t *testing.T) {
	f := newFixture(t, Options{RecvTimeout: 100 * time.Millisecond})

	c := f.dial(t)
	// Promise a body and never send it.
	fmt.Fprint(c.c, "PUT /ctrl HTTP/1.1\r\nHost: node\r\nContent-Length: 1\r\n\r\n")
	resp, _ := c.read()
	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	c.requireClosed()

	_, m := f.node.Table().Resolve("/hello", http.MethodGet)
	assert.Equal(t, httpd.Matched, m)
}

func TestTooFewRouteSlots(t *testing.T) {
	pin := gpio.NewMemoryPin(22)
	machine, err := actuator.New(pin)
	require.NoError(t, err)
	toggler := actuator.NewToggler(&fakeLink{}, machine, func() serial.AckPolicy { return serial.AckPolicy{} }, false)

	_, err = New(machine, toggler, Options{MaxRoutes: 3})
	require.ErrorIs(t, err, httpd.ErrTableFull)
}

func TestMinimumRouteSlotsFitEveryRoute(t *testing.T) {
	hub := logstream.NewHub()
	f := newFixture(t, Options{
		MaxRoutes: 16,
		Logs:      hub,
		History:   history.NewRecorder(nil, func() int { return 1 }),
		Settings:  &handlers.Settings{},
	})
	assert.Len(t, f.node.Table().Routes(), 13)

	// /ctrl must still be able to bring its routes back.
	c := f.dial(t)
	resp, _ := c.do(http.MethodPut, "/ctrl", "0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = c.do(http.MethodPut, "/ctrl", "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.node.Table().Routes(), 13)
}

func TestLogStreamRoute(t *testing.T) {
	hub := logstream.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	f := newFixture(t, Options{Logs: hub})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/logs"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				hub.Write([]byte("LED ON\n"))
			}
		}
	}()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "LED ON")
}
