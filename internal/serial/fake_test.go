package serial

import (
	"errors"
	"sync"
	"time"
)

// fakePort is an in-memory Transport. Each Read pops one scripted chunk;
// an exhausted script behaves like a read timeout (0, nil).
type fakePort struct {
	mu        sync.Mutex
	written   [][]byte
	reads     [][]byte
	readErr   error
	writeErr  error
	resets    int
	timeouts  []time.Duration
	readCalls int
	closed    bool
	// inFlight detects overlapping exchanges.
	inFlight int
	overlap  bool
	delay    time.Duration
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	delay := f.delay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.reads) == 0 {
		return 0, nil
	}
	n := copy(p, f.reads[0])
	f.reads[0] = f.reads[0][n:]
	if len(f.reads[0]) == 0 {
		f.reads = f.reads[1:]
	}
	return n, nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, t)
	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var errUnplugged = errors.New("device unplugged")
