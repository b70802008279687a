// Package history records actuator transitions in the database and serves
// them back over HTTP.
package history

import (
	"time"

	"ledlink-node/internal/actuator"
	"ledlink-node/internal/database"
	"ledlink-node/internal/logger"
)

const queueSize = 64

// Recorder persists actuator events off the request path.
type Recorder struct {
	store     *database.Store
	retention func() int
	events    chan actuator.Event
	now       func() time.Time
}

// NewRecorder creates a recorder writing to store. retention returns the
// number of recorded days to keep and is read on every cleanup.
func NewRecorder(store *database.Store, retention func() int) *Recorder {
	return &Recorder{
		store:     store,
		retention: retention,
		events:    make(chan actuator.Event, queueSize),
		now:       time.Now,
	}
}

// Observe queues an event. It never blocks; when the queue is full the event
// is dropped.
func (r *Recorder) Observe(e actuator.Event) {
	select {
	case r.events <- e:
	default:
		logger.Warn("History queue full, dropping %s event (%s)", e.Source, e.State)
	}
}

// Cleanup prunes old events and checkpoints the WAL.
func (r *Recorder) Cleanup() {
	if days := r.retention(); days > 0 {
		if err := r.store.PruneOldEvents(days); err != nil {
			logger.Error("Failed to prune old history: %v", err)
		}
	}
	// Always checkpoint to keep WAL size under control
	if err := r.store.Checkpoint(); err != nil {
		logger.Error("Failed to checkpoint WAL: %v", err)
	}
}

// Run writes queued events until stop is closed, and cleans up once at
// start and then daily at noon.
func (r *Recorder) Run(stop <-chan struct{}) {
	r.Cleanup()

	now := r.now()
	nextPruneTime := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	if now.After(nextPruneTime) {
		nextPruneTime = nextPruneTime.Add(24 * time.Hour)
	}
	logger.Info("Next history cleanup scheduled for: %v", nextPruneTime.Format(time.RFC1123))

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			r.drain()
			return
		case e := <-r.events:
			r.write(e)
		case <-ticker.C:
			if r.now().After(nextPruneTime) {
				logger.Info("Running scheduled history cleanup...")
				r.Cleanup()
				nextPruneTime = nextPruneTime.Add(24 * time.Hour)
			}
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.events:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) write(e actuator.Event) {
	record := database.EventRecord{
		Timestamp: e.Time.Unix(),
		Source:    string(e.Source),
		State:     e.State.String(),
		Ack:       e.Ack.String(),
		Result:    e.Result,
	}
	if err := r.store.InsertEvent(record); err != nil {
		logger.Error("Failed to insert history event: %v", err)
	}
}
