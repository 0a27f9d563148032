package reaper

import (
	"container/heap"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result labels passed to the observer.
const (
	ResultDeleted = "deleted"
	ResultMissing = "missing"
	ResultFailed  = "failed"
)

// Observer is told about every deletion attempt.
type Observer func(path, result string)

// Reaper deletes acquired media files a fixed delay after they were scheduled. Pending work is a
// deadline-ordered queue drained by one goroutine, so the number of goroutines stays constant no matter how
// many files are scheduled.
type Reaper struct {
	delay    time.Duration
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
	remove   func(string) error

	mu     sync.Mutex
	queue  deadlineQueue
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

type Option func(*Reaper)

func WithObserver(o Observer) Option { return func(r *Reaper) { r.observer = o } }

func WithClock(now func() time.Time) Option { return func(r *Reaper) { r.now = now } }

func New(delay time.Duration, logger *zap.Logger, opts ...Option) *Reaper {
	if delay <= 0 {
		delay = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reaper{
		delay:  delay,
		logger: logger.With(zap.String("component", "reaper")),
		now:    time.Now,
		remove: os.Remove,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// Schedule registers path for deletion after the configured delay. After Close the file is deleted at once.
func (r *Reaper) Schedule(path string) {
	if path == "" {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.delete(path)
		return
	}
	heap.Push(&r.queue, item{deadline: r.now().Add(r.delay), path: path})
	select {
	case r.wake <- struct{}{}:
	default:
	}
	r.mu.Unlock()
}

// Pending is the number of files waiting for their deadline.
func (r *Reaper) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Close stops the drain goroutine and deletes everything still pending.
func (r *Reaper) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.wake)
	r.mu.Unlock()
	<-r.done
}

func (r *Reaper) loop() {
	defer close(r.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := r.popDue()
		for _, path := range due {
			r.delete(path)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case _, ok := <-r.wake:
			if !ok {
				r.flush()
				return
			}
		case <-timer.C:
		}
	}
}

// popDue removes every expired entry and reports how long to sleep until the next one.
func (r *Reaper) popDue() ([]string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var due []string
	for r.queue.Len() > 0 && !r.queue[0].deadline.After(now) {
		due = append(due, heap.Pop(&r.queue).(item).path)
	}
	if r.queue.Len() == 0 {
		return due, time.Hour
	}
	return due, r.queue[0].deadline.Sub(now)
}

func (r *Reaper) flush() {
	r.mu.Lock()
	pending := make([]string, 0, r.queue.Len())
	for r.queue.Len() > 0 {
		pending = append(pending, heap.Pop(&r.queue).(item).path)
	}
	r.mu.Unlock()
	for _, path := range pending {
		r.delete(path)
	}
}

// delete is best effort: a file that is already gone is not an error.
func (r *Reaper) delete(path string) {
	result := ResultDeleted
	if err := r.remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result = ResultMissing
		} else {
			result = ResultFailed
			r.logger.Debug("temp file delete failed", zap.String("path", path), zap.Error(err))
		}
	}
	if r.observer != nil {
		r.observer(path, result)
	}
}

// Sweep removes regular files in dir older than maxAge, returning how many were deleted. Used at startup to
// collect files orphaned by a previous crash.
func Sweep(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

type item struct {
	deadline time.Time
	path     string
}

type deadlineQueue []item

func (q deadlineQueue) Len() int           { return len(q) }
func (q deadlineQueue) Less(i, j int) bool { return q[i].deadline.Before(q[j].deadline) }
func (q deadlineQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *deadlineQueue) Push(x any)        { *q = append(*q, x.(item)) }
func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
