package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ledlink-node/internal/config"
	"ledlink-node/internal/httpd"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*httpd.Dispatcher, chan string) {
	t.Helper()
	require.NoError(t, config.SetPath(filepath.Join(t.TempDir(), "node_config.json")))
	require.NoError(t, config.Load())
	_, err := config.Update(func(c *config.NodeConfig) { c.BasicAuth.Password = "secret" })
	require.NoError(t, err)

	reconnects := make(chan string, 1)
	s := &Settings{Reconnect: func(name string) { reconnects <- name }}

	tbl := httpd.NewTable(0)
	require.NoError(t, tbl.Register(httpd.Route{Path: "/api/v1/settings", Method: http.MethodGet, Handler: s.HandleGetSettings}))
	require.NoError(t, tbl.Register(httpd.Route{Path: "/api/v1/settings", Method: http.MethodPost, Handler: s.HandlePostSettings}))
	return httpd.NewDispatcher(tbl), reconnects
}

func TestGetSettingsHidesPassword(t *testing.T) {
	d, _ := setup(t)

	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.NodeConfig.BasicAuth.Password)
	assert.Contains(t, resp.AvailableIPs, "127.0.0.1")
	assert.Equal(t, config.Defaults().NetworkPort, resp.NodeConfig.NetworkPort)
}

func TestPostSettingsUpdatesAndReconnects(t *testing.T) {
	d, reconnects := setup(t)

	next := config.Get()
	next.BasicAuth.Password = ""
	next.SerialPortName = "/dev/ttyUSB3"
	next.LogLevel = "DEBUG"
	body, err := json.Marshal(next)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := config.Get()
	assert.Equal(t, "/dev/ttyUSB3", got.SerialPortName)
	assert.Equal(t, "DEBUG", got.LogLevel)
	assert.Equal(t, "secret", got.BasicAuth.Password, "empty password keeps the stored one")

	select {
	case name := <-reconnects:
		assert.Equal(t, "/dev/ttyUSB3", name)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect was not triggered")
	}
}

func TestPostSettingsRejectsInvalid(t *testing.T) {
	d, _ := setup(t)

	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader("{nope")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := config.Get()
	bad.NetworkPort = 0
	body, _ := json.Marshal(bad)
	w = httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, config.Defaults().NetworkPort, config.Get().NetworkPort)
}
