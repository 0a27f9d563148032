package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type stubSynth struct {
	name  string
	err   error
	calls int
}

func (s *stubSynth) Name() string { return s.name }
func (s *stubSynth) Ext() string  { return ".mp3" }

func (s *stubSynth) Synthesize(_ context.Context, _ SynthesisRequest, dst string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dst, []byte("audio"), 0o600)
}

func TestFailoverSwitchesToFallbackAndSticks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	primary := &stubSynth{name: "primary", err: errors.New("primary unavailable")}
	fallback := &stubSynth{name: "fallback"}
	f := NewFailover(primary, fallback, nil)

	for i := 0; i < 2; i++ {
		if err := f.Synthesize(ctx, SynthesisRequest{Text: "hi"}, filepath.Join(dir, "a.mp3")); err != nil {
			t.Fatalf("Synthesize() unexpected error = %v", err)
		}
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
	if !f.FallbackActive() || f.Name() != "fallback" {
		t.Fatalf("fallback should be active, name = %q", f.Name())
	}
}

func TestFailoverRetriesPrimaryWhenFallbackFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	primary := &stubSynth{name: "primary", err: errors.New("down")}
	fallback := &stubSynth{name: "fallback"}
	f := NewFailover(primary, fallback, nil)

	if err := f.Synthesize(ctx, SynthesisRequest{Text: "hi"}, filepath.Join(dir, "a.mp3")); err != nil {
		t.Fatalf("Synthesize() unexpected error = %v", err)
	}
	primary.err = nil
	fallback.err = errors.New("fallback down")
	if err := f.Synthesize(ctx, SynthesisRequest{Text: "hi"}, filepath.Join(dir, "b.mp3")); err != nil {
		t.Fatalf("Synthesize() unexpected error = %v", err)
	}
	if f.FallbackActive() {
		t.Fatalf("primary should be preferred again")
	}
}

func TestFailoverBothFail(t *testing.T) {
	f := NewFailover(&stubSynth{name: "a", err: errors.New("x")}, &stubSynth{name: "b", err: errors.New("y")}, nil)
	err := f.Synthesize(context.Background(), SynthesisRequest{Text: "hi"}, filepath.Join(t.TempDir(), "a.mp3"))
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error = %v, want *SynthesisError", err)
	}
	if synthErr.Code != "all_failed" {
		t.Fatalf("code = %q", synthErr.Code)
	}
}
