package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponderAnswersProbe(t *testing.T) {
	port := 8080
	r, err := Listen("127.0.0.1:0", func() int { return port })
	require.NoError(t, err)
	done := make(chan struct{})
	go func() { r.Serve(); close(done) }()
	defer func() {
		r.Close()
		<-done
	}()

	conn, err := net.DialUDP("udp4", nil, r.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	// Unrelated traffic is ignored.
	_, err = conn.Write([]byte("alpacadiscovery1"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(Message))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"LedLinkPort": 8080}`, string(buf[:n]))
}
