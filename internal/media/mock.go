package media

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/callcaster/internal/audio"
)

const mockSampleRate = 16000

// Mock renders silence whose length tracks the text. It keeps the pipeline runnable without a TTS backend.
type Mock struct {
	mu       sync.Mutex
	requests []SynthesisRequest
	fail     error
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Ext() string { return ".wav" }

// FailWith makes every later call return err.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Requests returns every request seen so far, in order.
func (m *Mock) Requests() []SynthesisRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SynthesisRequest(nil), m.requests...)
}

func (m *Mock) Synthesize(_ context.Context, req SynthesisRequest, dst string) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fail := m.fail
	m.mu.Unlock()
	if fail != nil {
		return newSynthesisError(m.Name(), "scripted", "scripted failure", fail, false)
	}
	if strings.TrimSpace(req.Text) == "" {
		return newSynthesisError(m.Name(), "empty_text", "nothing to synthesize", nil, false)
	}

	d := time.Duration(len([]rune(req.Text))) * 60 * time.Millisecond
	if d < 300*time.Millisecond {
		d = 300 * time.Millisecond
	} else if d > 5*time.Second {
		d = 5 * time.Second
	}
	if err := audio.WriteWAVPCM16LEFile(dst, audio.SilencePCM16LE(d, mockSampleRate), mockSampleRate); err != nil {
		return newSynthesisError(m.Name(), "write_failed", "write wav", err, false)
	}
	return nil
}
