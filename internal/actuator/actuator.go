// Package actuator tracks the on/off state of the LED and of the serial peer.
package actuator

import (
	"fmt"
	"sync"
	"time"

	"ledlink-node/internal/gpio"
	"ledlink-node/internal/serial"
)

// State is the logical actuator level.
type State int

const (
	Off State = iota
	On
)

func (s State) String() string {
	if s == On {
		return "ON"
	}
	return "OFF"
}

// Digit is the body returned by the LED endpoints.
func (s State) Digit() string {
	if s == On {
		return "1"
	}
	return "0"
}

func stateOf(on bool) State {
	if on {
		return On
	}
	return Off
}

// Source names who caused a transition.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceSerial Source = "serial"
)

// Event describes one completed transition.
type Event struct {
	Time   time.Time
	Source Source
	State  State
	Ack    serial.Ack
	Result string
}

// Observer is told about every completed transition. It runs while the
// state is locked and must not block.
type Observer func(Event)

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	State State
	Ack   serial.Ack
}

// Machine owns the output pin and the state it reports. The pin write and
// the state change happen in one critical section, so readers never see a
// state the pin has not reached.
type Machine struct {
	mu       sync.Mutex
	pin      gpio.Pin
	state    State
	ack      serial.Ack
	observer Observer
}

// New drives pin low and returns a machine in the OFF state.
func New(pin gpio.Pin) (*Machine, error) {
	if err := pin.Set(false); err != nil {
		return nil, fmt.Errorf("failed to initialise output pin: %w", err)
	}
	return &Machine{pin: pin, state: Off}, nil
}

// SetObserver installs the transition observer.
func (m *Machine) SetObserver(o Observer) {
	m.mu.Lock()
	m.observer = o
	m.mu.Unlock()
}

// TurnOn drives the pin high and returns "1".
func (m *Machine) TurnOn() (string, error) {
	return m.apply(On)
}

// TurnOff drives the pin low and returns "0".
func (m *Machine) TurnOff() (string, error) {
	return m.apply(Off)
}

func (m *Machine) apply(s State) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setLocked(s); err != nil {
		return "", err
	}
	m.notifyLocked(Event{Source: SourceHTTP, State: s, Ack: m.ack, Result: s.Digit()})
	return s.Digit(), nil
}

// State returns the last state written.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns state and last acknowledgement together.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Ack: m.ack}
}

// transition runs fn with the current state under the machine lock. fn
// returns the new state, whether the pin should follow it, and the result
// string reported to the caller and the observer.
func (m *Machine) transition(fn func(cur State) (next State, drive bool, ack serial.Ack, result string)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, drive, ack, result := fn(m.state)
	m.ack = ack
	if drive {
		if err := m.setLocked(next); err != nil {
			return DigitError, err
		}
	}
	m.notifyLocked(Event{Source: SourceSerial, State: next, Ack: ack, Result: result})
	return result, nil
}

func (m *Machine) recordAck(ack serial.Ack, next State, drive bool, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ack = ack
	if drive {
		if err := m.setLocked(next); err != nil {
			return err
		}
	}
	m.notifyLocked(Event{Source: SourceSerial, State: next, Ack: ack, Result: result})
	return nil
}

func (m *Machine) setLocked(s State) error {
	if err := m.pin.Set(s == On); err != nil {
		return fmt.Errorf("failed to drive output pin: %w", err)
	}
	m.state = s
	return nil
}

func (m *Machine) notifyLocked(e Event) {
	if m.observer == nil {
		return
	}
	e.Time = time.Now()
	m.observer(e)
}
