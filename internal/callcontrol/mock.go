package callcontrol

import (
	"context"
	"sync"
	"time"
)

// Call records one operation observed by MockAdapter. Start and End are positions on a shared clock so
// overlapping or out-of-order operations can be detected.
type Call struct {
	Op     Op
	ChatID int64
	Path   string
	Start  int
	End    int
	Err    error
}

// ScriptFunc decides the outcome of a mock operation. Returning nil means success.
type ScriptFunc func(op Op, chatID int64, path string) error

// MockAdapter is an in-process call service used for dry runs and tests.
type MockAdapter struct {
	mu          sync.Mutex
	clock       int
	calls       []Call
	inFlight    int
	maxInFlight int
	script      ScriptFunc
	delay       time.Duration
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (m *MockAdapter) SetScript(fn ScriptFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = fn
}

func (m *MockAdapter) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockAdapter) Join(ctx context.Context, chatID int64) error {
	return m.run(ctx, OpJoin, chatID, "")
}

func (m *MockAdapter) Leave(ctx context.Context, chatID int64) error {
	return m.run(ctx, OpLeave, chatID, "")
}

func (m *MockAdapter) ChangeStream(ctx context.Context, chatID int64, path string) error {
	return m.run(ctx, OpChangeStream, chatID, path)
}

// Calls returns a copy of every recorded operation in start order.
func (m *MockAdapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsOf returns the recorded operations of one kind.
func (m *MockAdapter) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// MaxInFlight is the highest number of operations observed running at once.
func (m *MockAdapter) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockAdapter) run(ctx context.Context, op Op, chatID int64, path string) error {
	m.mu.Lock()
	m.clock++
	idx := len(m.calls)
	m.calls = append(m.calls, Call{Op: op, ChatID: chatID, Path: path, Start: m.clock})
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	script := m.script
	delay := m.delay
	m.mu.Unlock()

	var err error
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			err = newError(op, KindTransport, chatID, "", "", ctx.Err())
		case <-timer.C:
		}
		timer.Stop()
	}
	if err == nil && script != nil {
		err = script(op, chatID, path)
	}

	m.mu.Lock()
	m.clock++
	m.calls[idx].End = m.clock
	m.calls[idx].Err = err
	m.inFlight--
	m.mu.Unlock()
	return err
}

// Fail builds a typed failure, handy for scripts.
func Fail(op Op, kind Kind, chatID int64, message string) error {
	return newError(op, kind, chatID, "", message, nil)
}
