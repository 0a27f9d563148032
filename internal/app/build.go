package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/callcaster/internal/audio"
	"github.com/ent0n29/callcaster/internal/callcontrol"
	"github.com/ent0n29/callcaster/internal/config"
	"github.com/ent0n29/callcaster/internal/history"
	"github.com/ent0n29/callcaster/internal/httpapi"
	"github.com/ent0n29/callcaster/internal/ingest"
	"github.com/ent0n29/callcaster/internal/media"
	"github.com/ent0n29/callcaster/internal/observability"
	"github.com/ent0n29/callcaster/internal/reaper"
	"github.com/ent0n29/callcaster/internal/session"
	"github.com/ent0n29/callcaster/internal/transport"
)

// BuildResult holds the wired components. Run drives them; Close releases them in dependency order.
type BuildResult struct {
	Config  config.Config
	Control config.ControlConfig
	Logger  *zap.Logger
	Decoder string

	Metrics    *observability.Metrics
	History    history.Store
	Recorder   *history.Recorder
	Reaper     *reaper.Reaper
	Adapter    callcontrol.Adapter
	Acquirer   *media.Acquirer
	Bridge     *transport.Client
	Controller *session.Controller
	Router     *ingest.Router
	API        *httpapi.Server
}

// Build wires every component. A missing decoder is fatal because no playback could ever succeed.
func Build(ctx context.Context, cfg config.Config, cc config.ControlConfig, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	wd, _ := os.Getwd()
	decoder, err := audio.LocateDecoder(cfg.Decoder, wd)
	if err != nil {
		return nil, err
	}
	logger.Info("audio decoder located", zap.String("path", decoder))

	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}
	recorder := history.NewRecorder(store, 0, logger)

	if n, err := reaper.Sweep(cfg.MediaDir, cfg.ReaperDelay, time.Now()); err != nil {
		logger.Warn("stale media sweep failed", zap.String("dir", cfg.MediaDir), zap.Error(err))
	} else if n > 0 {
		logger.Info("removed stale media files", zap.Int("count", n))
	}
	rp := reaper.New(cfg.ReaperDelay, logger, reaper.WithObserver(metrics.ObserveReaper))
	metrics.RegisterGaugeFunc(cfg.MetricsNamespace, "reaper_pending_files", "Temporary files waiting for deletion.", func() float64 {
		return float64(rp.Pending())
	})

	cleanup := func() {
		rp.Close()
		recorder.Close()
		_ = store.Close()
	}

	adapter, err := callcontrol.NewAdapter(callcontrol.Config{
		Mode:    cfg.CallAdapterMode,
		BaseURL: cfg.CallBridgeURL,
		Token:   cfg.CallBridgeToken,
		APIID:   cc.APIID,
		APIHash: cc.APIHash,
		Session: cc.SessionToken,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("call adapter init failed: %w", err)
	}
	if _, ok := adapter.(*callcontrol.MockAdapter); ok {
		logger.Warn("call adapter is mock; nothing will be streamed", zap.String("mode", cfg.CallAdapterMode))
	}

	bridge, err := transport.New(transport.Config{
		BaseURL: cfg.MessagingBridgeURL,
		Credentials: transport.Credentials{
			APIID:   cc.APIID,
			APIHash: cc.APIHash,
			Session: cc.SessionToken,
		},
	}, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("messaging bridge init failed: %w", err)
	}

	synth, err := media.NewSynthesizer(media.SynthConfig{
		Provider:            cfg.TTSProvider,
		EdgeTTSCLI:          cfg.EdgeTTSCLI,
		ElevenLabsAPIKey:    cfg.ElevenLabsAPIKey,
		ElevenLabsWSBaseURL: cfg.ElevenLabsWSBaseURL,
		ElevenLabsModelID:   cfg.ElevenLabsModelID,
		ElevenLabsVoiceID:   cfg.ElevenLabsVoiceID,
	}, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("tts init failed: %w", err)
	}
	acquirer, err := media.NewAcquirer(synth, bridge, media.AcquirerConfig{
		Dir:   cfg.MediaDir,
		Voice: cc.Voice,
		Rate:  cfg.TTSRate,
	}, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	logger.Info("tts backend ready", zap.String("backend", acquirer.Backend()), zap.String("voice", cc.Voice))

	controller := session.NewController(adapter, rp, session.Options{
		Logger:   logger,
		Notifier: bridgeNotifier{client: bridge},
		Observer: session.ObserverFunc(func(e session.Event) {
			metrics.ObserveSession(e)
			recorder.Observe(e)
		}),
	})

	router := ingest.New(controller, acquirer, bridge, bridge.SelfID, ingest.Config{
		JoinTrigger:  cfg.JoinTrigger,
		LeaveTrigger: cfg.LeaveTrigger,
		SelfOnly:     cfg.JoinSelfOnly,
		Buffer:       cfg.IngestBuffer,
	}, metrics.ObserveIngest, logger)

	api := httpapi.New(httpapi.Options{
		Config:   cfg,
		Sessions: controller,
		Bridge:   bridge,
		Metrics:  metrics,
		History:  store,
		Pending:  rp.Pending,
		Backend:  acquirer.Backend(),
		Decoder:  decoder,
		Voice:    cc.Voice,
	})

	return &BuildResult{
		Config:     cfg,
		Control:    cc,
		Logger:     logger,
		Decoder:    decoder,
		Metrics:    metrics,
		History:    store,
		Recorder:   recorder,
		Reaper:     rp,
		Adapter:    adapter,
		Acquirer:   acquirer,
		Bridge:     bridge,
		Controller: controller,
		Router:     router,
		API:        api,
	}, nil
}

// Close leaves the active call, then flushes the reaper and history. It is safe to call once after Run.
func (b *BuildResult) Close(ctx context.Context) error {
	var errs []string
	if err := b.Controller.Close(ctx); err != nil {
		errs = append(errs, "session: "+err.Error())
	}
	b.Reaper.Close()
	b.Recorder.Close()
	if err := b.History.Close(); err != nil {
		errs = append(errs, "history: "+err.Error())
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// bridgeNotifier posts controller notices as replies through the messaging bridge.
type bridgeNotifier struct {
	client *transport.Client
}

func (n bridgeNotifier) Notify(ctx context.Context, notice session.Notice) error {
	return n.client.Send(ctx, transport.OutgoingMessage{
		ChatID:  notice.ChatID,
		ReplyTo: notice.ReplyTo,
		Text:    notice.Text,
	})
}
