package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"ledlink-node/internal/config"
	"ledlink-node/internal/httpd"
	"ledlink-node/internal/logger"
)

const maxSettingsBody = 64 << 10

// SettingsResponse defines the structure for the GET /api/v1/settings response.
type SettingsResponse struct {
	NodeConfig   config.NodeConfig `json:"node_config"`
	AvailableIPs []string          `json:"available_ips"`
}

// Settings serves the runtime configuration.
type Settings struct {
	// Reconnect is called when the serial port settings change.
	Reconnect func(portName string)
}

// HandleGetSettings provides the current node configuration and available IP addresses.
func (s *Settings) HandleGetSettings(req *httpd.Request) error {
	conf := config.Get()
	conf.BasicAuth.Password = ""

	ips, err := getAvailableIPs()
	if err != nil {
		logger.Error("Failed to get available IP addresses: %v", err)
		return req.SendError(http.StatusInternalServerError, "Failed to get IP addresses")
	}

	return sendJSON(req, SettingsResponse{NodeConfig: conf, AvailableIPs: ips})
}

// HandlePostSettings updates the node configuration. Listener, route and
// actuator settings take effect on the next start; log level and serial
// settings apply immediately.
func (s *Settings) HandlePostSettings(req *httpd.Request) error {
	body, err := req.ReadBody(maxSettingsBody)
	if err != nil {
		return req.SendError(http.StatusBadRequest, "Failed to read request body")
	}
	var newConfig config.NodeConfig
	if err := json.Unmarshal(body, &newConfig); err != nil {
		return req.SendError(http.StatusBadRequest, "Invalid JSON format")
	}

	prev := config.Get()
	conf, err := config.Update(func(c *config.NodeConfig) {
		password := c.BasicAuth.Password
		*c = newConfig
		// An empty password keeps the stored one, since GET never returns it.
		if c.BasicAuth.Password == "" {
			c.BasicAuth.Password = password
		}
	})
	if err != nil {
		logger.Error("Failed to update node config: %v", err)
		return req.SendError(http.StatusBadRequest, err.Error())
	}

	// Trigger reconnect in a goroutine if needed
	portChanged := prev.SerialPortName != conf.SerialPortName ||
		prev.AutoDetectPort != conf.AutoDetectPort ||
		prev.BaudRate != conf.BaudRate
	if portChanged && s.Reconnect != nil {
		logger.Info("Serial port configuration changed. Triggering reconnect.")
		go s.Reconnect(conf.SerialPortName)
	}

	logger.Info("Node settings updated via API.")
	conf.BasicAuth.Password = ""
	return sendJSON(req, conf)
}

func sendJSON(req *httpd.Request, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req.SetContentType("application/json")
	return req.Send(body)
}

// getAvailableIPs returns a list of local IPv4 addresses.
func getAvailableIPs() ([]string, error) {
	ips := []string{"127.0.0.1", "0.0.0.0"}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.String())
			}
		}
	}
	return ips, nil
}
