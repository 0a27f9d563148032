package media

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

// Failover prefers the primary backend and switches to the fallback when it fails. Once the fallback works
// it stays active until it fails too; then the primary is retried.
type Failover struct {
	primary        Synthesizer
	fallback       Synthesizer
	fallbackActive atomic.Bool
	logger         *zap.Logger
}

func NewFailover(primary, fallback Synthesizer, logger *zap.Logger) *Failover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Failover{primary: primary, fallback: fallback, logger: logger.With(zap.String("component", "tts_failover"))}
}

func (f *Failover) Name() string {
	if f.fallbackActive.Load() {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

func (f *Failover) Ext() string { return f.primary.Ext() }

// FallbackActive reports whether the fallback backend is currently preferred.
func (f *Failover) FallbackActive() bool { return f.fallbackActive.Load() }

func (f *Failover) Synthesize(ctx context.Context, req SynthesisRequest, dst string) error {
	first, second := f.primary, f.fallback
	if f.fallbackActive.Load() {
		first, second = f.fallback, f.primary
	}

	firstErr := first.Synthesize(ctx, req, dst)
	if firstErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return firstErr
	}
	_ = os.Remove(dst)
	f.logger.Warn("tts backend failed, trying alternate", zap.String("failed", first.Name()), zap.String("alternate", second.Name()), zap.Error(firstErr))

	secondErr := second.Synthesize(ctx, req, dst)
	if secondErr != nil {
		return newSynthesisError("failover", "all_failed",
			fmt.Sprintf("%s failed: %v", first.Name(), firstErr), secondErr, false)
	}
	f.fallbackActive.Store(second == f.fallback)
	return nil
}
