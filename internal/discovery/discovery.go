// Package discovery answers UDP broadcast probes with the node's HTTP port.
package discovery

import (
	"errors"
	"fmt"
	"net"

	"ledlink-node/internal/logger"
)

const (
	DefaultPort = 32230
	Message     = "ledlinkdiscovery1"
)

// Responder replies to discovery packets.
type Responder struct {
	conn *net.UDPConn
	port func() int
}

// Listen binds the responder to a UDP address. port is consulted on every
// probe so a changed HTTP port is announced without a restart.
func Listen(udpAddress string, port func() int) (*Responder, error) {
	addr, err := net.ResolveUDPAddr("udp4", udpAddress)
	if err != nil {
		return nil, fmt.Errorf("could not resolve UDP address '%s': %w", udpAddress, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on UDP address '%s': %w", udpAddress, err)
	}
	return &Responder{conn: conn, port: port}, nil
}

// Addr returns the bound address.
func (r *Responder) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Serve answers probes until the responder is closed.
func (r *Responder) Serve() {
	logger.Info("Discovery responder started on UDP address '%s'.", r.conn.LocalAddr())

	buffer := make([]byte, 1024)
	for {
		n, remoteAddr, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("Discovery: Error reading from UDP: %v", err)
			continue
		}
		if string(buffer[:n]) != Message {
			continue
		}

		logger.Debug("Discovery: Request received from %s", remoteAddr)
		response := fmt.Sprintf(`{"LedLinkPort": %d}`, r.port())
		if _, err := r.conn.WriteToUDP([]byte(response), remoteAddr); err != nil {
			logger.Error("Discovery: Failed to send response to %s: %v", remoteAddr, err)
		} else {
			logger.Debug("Discovery: Sent response '%s' to %s", response, remoteAddr)
		}
	}
}

// Close stops Serve.
func (r *Responder) Close() error {
	return r.conn.Close()
}
