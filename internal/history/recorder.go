package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/callcaster/internal/session"
)

// Recorder turns controller events into stored records. Observe never blocks: records are queued and
// written by one goroutine, and dropped when the queue is full.
type Recorder struct {
	store  Store
	logger *zap.Logger
	queue  chan Record

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewRecorder(store Store, buffer int, logger *zap.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:  store,
		logger: logger.With(zap.String("component", "history")),
		queue:  make(chan Record, buffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) Observe(e session.Event) {
	rec := Record{
		Op:         string(e.Op),
		ChatID:     e.ChatID,
		RequestID:  e.RequestID,
		Kind:       string(e.Kind),
		Outcome:    e.Outcome,
		DurationMS: e.Duration.Milliseconds(),
		CreatedAt:  e.At,
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Debug("history queue full, record dropped", zap.String("op", rec.Op))
	}
}

// Close flushes queued records. The store itself stays open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Save(ctx, rec); err != nil {
			r.logger.Warn("history save failed", zap.Error(err))
		}
		cancel()
	}
}
