// Package gpio describes the digital output driven by the LED endpoints.
package gpio

import (
	"sync"

	"ledlink-node/internal/logger"
)

// Pin is a digital output.
type Pin interface {
	Set(high bool) error
	Get() bool
}

// MemoryPin keeps its level in memory and logs every change. It stands in
// for a board pin on hosts without GPIO and in tests.
type MemoryPin struct {
	mu     sync.Mutex
	number int
	high   bool
	writes int
}

// NewMemoryPin returns a low pin labelled with its board number.
func NewMemoryPin(number int) *MemoryPin {
	return &MemoryPin{number: number}
}

func (p *MemoryPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.high != high {
		logger.Debug("GPIO %d -> %t", p.number, high)
	}
	p.high = high
	p.writes++
	return nil
}

func (p *MemoryPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// Writes returns how many times the level was driven.
func (p *MemoryPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}
