package actuator

import (
	"sync"

	"ledlink-node/internal/logger"
	"ledlink-node/internal/serial"
)

// Bodies returned by the serial toggle endpoint.
const (
	DigitOff   = "7"
	DigitOn    = "8"
	DigitError = "9"
)

func digitFor(s State) string {
	if s == On {
		return DigitOn
	}
	return DigitOff
}

// Commander performs one serial exchange.
type Commander interface {
	Exchange(on bool, policy serial.AckPolicy) (serial.Ack, error)
}

// Toggler flips the remote actuator over the serial link.
//
// By default it keeps its own flag, independent of the pin driven by the
// LED endpoints, so the two can drift apart exactly like the firmware this
// node replaces. A unified toggler reads and writes the Machine instead.
type Toggler struct {
	mu      sync.Mutex
	link    Commander
	machine *Machine
	policy  func() serial.AckPolicy
	unified bool
	on      bool
}

// NewToggler creates a toggler. policy is read on every toggle.
func NewToggler(link Commander, machine *Machine, policy func() serial.AckPolicy, unified bool) *Toggler {
	return &Toggler{
		link:    link,
		machine: machine,
		policy:  policy,
		unified: unified,
	}
}

// Unified reports whether the toggler shares the Machine's state.
func (t *Toggler) Unified() bool {
	return t.unified
}

// Flag returns the state the toggler believes the peer is in.
func (t *Toggler) Flag() State {
	if t.unified {
		return t.machine.State()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return stateOf(t.on)
}

// Toggle sends the opposite of the current flag to the peer and returns
// DigitOn or DigitOff for the new state, or DigitError when the command
// could not be written or an expected acknowledgement never came.
func (t *Toggler) Toggle() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	policy := t.policy()

	if t.unified {
		result, err := t.machine.transition(func(cur State) (State, bool, serial.Ack, string) {
			return t.exchange(cur == On, policy)
		})
		if err != nil {
			logger.Error("Serial toggle could not drive the output pin: %v", err)
			return DigitError
		}
		return result
	}

	next, drive, ack, result := t.exchange(t.on, policy)
	t.on = next == On
	if err := t.machine.recordAck(ack, next, drive, result); err != nil {
		logger.Error("Serial toggle could not drive the output pin: %v", err)
		return DigitError
	}
	return result
}

// exchange performs the serial round trip for a flag that was wasOn. It
// returns the state to adopt, whether the pin should follow it, the ack
// seen and the digit to report.
func (t *Toggler) exchange(wasOn bool, policy serial.AckPolicy) (State, bool, serial.Ack, string) {
	target := stateOf(!wasOn)

	ack, err := t.link.Exchange(target == On, policy)
	if err != nil {
		logger.Warn("Serial toggle to %s failed: %v", target, err)
		return stateOf(wasOn), false, serial.AckUnknown, DigitError
	}
	if !policy.Enabled {
		return target, t.unified, serial.AckUnknown, digitFor(target)
	}
	if !ack.Known() {
		// The command went out; assume it landed but report the missing reply.
		return target, t.unified, ack, DigitError
	}

	// The peer's word wins over our guess, and the LED mirrors it.
	reported := stateOf(ack == serial.AckOn)
	return reported, true, ack, digitFor(reported)
}
