package serial

import (
	"errors"
	"fmt"
)

// Wire layout of the actuator protocol. Commands are always four bytes,
// replies two. There is no length prefix, so framing relies on the fixed
// sizes and on purging stale input after every command.
const (
	SyncHi      byte = 0xAA
	SyncLo      byte = 0x55
	FrameMarker byte = 0x55

	PayloadOff byte = 0x00
	PayloadOn  byte = 0x01

	CommandLen = 4
	AckLen     = 2

	// ackOnASCII is what the peer firmware actually sends for ON.
	ackOnASCII byte = '1'
)

var (
	ErrShortAck = errors.New("serial: short ack frame")
	ErrBadSync  = errors.New("serial: ack sync byte mismatch")
)

// Frame is one outbound command.
type Frame [CommandLen]byte

// EncodeCommand builds the command frame for the desired actuator state.
func EncodeCommand(on bool) Frame {
	payload := PayloadOff
	if on {
		payload = PayloadOn
	}
	return Frame{SyncHi, SyncLo, payload, FrameMarker}
}

// On reports the state the frame asks for.
func (f Frame) On() bool {
	return f[2] == PayloadOn
}

func (f Frame) String() string {
	return fmt.Sprintf("% X", f[:])
}

// Ack is the actuator state reported by the peer.
type Ack int

const (
	AckUnknown Ack = iota
	AckOff
	AckOn
)

func (a Ack) String() string {
	switch a {
	case AckOn:
		return "on"
	case AckOff:
		return "off"
	default:
		return "unknown"
	}
}

// Known reports whether the peer actually answered.
func (a Ack) Known() bool {
	return a != AckUnknown
}

// DecodeAck parses a reply frame. Only the first AckLen bytes are inspected.
// Any state byte other than ON is read as OFF, matching the peer firmware.
func DecodeAck(b []byte) (Ack, error) {
	if len(b) < AckLen {
		return AckUnknown, ErrShortAck
	}
	if b[0] != SyncHi {
		return AckUnknown, fmt.Errorf("%w: got 0x%02X", ErrBadSync, b[0])
	}
	if b[1] == ackOnASCII || b[1] == PayloadOn {
		return AckOn, nil
	}
	return AckOff, nil
}
