package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run serves the status API, consumes the messaging bridge and drives the ingest workers until ctx is done.
// It does not leave the call; Close does that after Run returns.
func (b *BuildResult) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.Config.StatusAddr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Handler:           b.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Logger.Info("status api listening", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			b.Logger.Warn("status api shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(b.Router.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(b.Bridge.Run(gctx, b.Router.Handle))
	})

	b.API.SetReady(true)
	b.Logger.Info("callcaster running",
		zap.String("bridge", b.Bridge.String()),
		zap.String("tts", b.Acquirer.Backend()),
		zap.String("join_trigger", b.Config.JoinTrigger),
	)

	err = g.Wait()
	b.API.SetReady(false)
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
