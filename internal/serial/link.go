package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ledlink-node/internal/logger"
)

// ErrNotConnected is returned when no port is attached to the link.
var ErrNotConnected = errors.New("serial port is not open")

// Transport is the byte stream the link drives. go.bug.st/serial ports
// satisfy it; tests use in-memory fakes.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// AckPolicy bounds the wait for the peer's reply.
type AckPolicy struct {
	Enabled     bool
	Timeout     time.Duration // per poll
	MaxAttempts int
}

// Link owns the serial transport. At most one exchange is in flight; a
// second caller blocks until the first one, including its ack wait and
// input purge, has finished.
type Link struct {
	mu   sync.Mutex
	port Transport
}

// NewLink returns a link using port, which may be nil until Attach.
func NewLink(port Transport) *Link {
	return &Link{port: port}
}

// Attach swaps the underlying transport, closing the previous one if it
// can be closed. Attach(nil) disconnects.
func (l *Link) Attach(port Transport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropLocked()
	l.port = port
}

// Connected reports whether a transport is attached.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Send writes frame and purges unread input so a late or partial reply
// from an earlier exchange cannot be mistaken for the next one.
func (l *Link) Send(frame Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendLocked(frame)
}

// TryReceiveAck polls for a reply frame at most maxAttempts times, each
// poll waiting up to timeout. It never blocks longer than
// timeout*maxAttempts and reports AckUnknown when nothing valid arrived.
func (l *Link) TryReceiveAck(timeout time.Duration, maxAttempts int) Ack {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.receiveAckLocked(timeout, maxAttempts)
}

// Exchange sends the command for on and, if the policy asks for it, waits
// for the reply, all under one hold of the link. The exchange is not
// cancelable: a frame is never abandoned half-way.
func (l *Link) Exchange(on bool, policy AckPolicy) (Ack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.sendLocked(EncodeCommand(on)); err != nil {
		return AckUnknown, err
	}
	if !policy.Enabled {
		return AckUnknown, nil
	}
	return l.receiveAckLocked(policy.Timeout, policy.MaxAttempts), nil
}

func (l *Link) sendLocked(frame Frame) error {
	if l.port == nil {
		return ErrNotConnected
	}
	logger.Debug("Serial TX: %s", frame)

	n, err := l.port.Write(frame[:])
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		logger.Error("Serial write failed: %v. Marking port as disconnected.", err)
		l.dropLocked()
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	if err := l.port.ResetInputBuffer(); err != nil {
		logger.Warn("Failed to purge serial input: %v", err)
	}
	return nil
}

func (l *Link) receiveAckLocked(timeout time.Duration, maxAttempts int) Ack {
	if l.port == nil {
		return AckUnknown
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if err := l.port.SetReadTimeout(timeout); err != nil {
		logger.Warn("Failed to set serial read timeout: %v", err)
	}

	var buf [AckLen]byte
	got := 0
	for attempt := 0; attempt < maxAttempts && got < AckLen; attempt++ {
		n, err := l.port.Read(buf[got:])
		if err != nil {
			logger.Warn("Serial read failed while waiting for ack: %v", err)
			return AckUnknown
		}
		got += n
	}
	if got < AckLen {
		logger.Warn("No ack from peer after %d attempts of %v.", maxAttempts, timeout)
		return AckUnknown
	}

	ack, err := DecodeAck(buf[:])
	if err != nil {
		logger.Warn("Discarding reply % X: %v", buf[:], err)
		return AckUnknown
	}
	logger.Debug("Serial RX: % X (%s)", buf[:], ack)
	return ack
}

// dropLocked closes and forgets the current port. MUST be called with mu held.
func (l *Link) dropLocked() {
	if l.port == nil {
		return
	}
	if c, ok := l.port.(io.Closer); ok {
		c.Close()
	}
	l.port = nil
}
