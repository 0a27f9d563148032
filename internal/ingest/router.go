package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/callcaster/internal/media"
	"github.com/ent0n29/callcaster/internal/policy"
	"github.com/ent0n29/callcaster/internal/session"
	"github.com/ent0n29/callcaster/internal/transport"
)

const startupText = "Bot is online and ready."

// Controller is the part of the session controller the router drives.
type Controller interface {
	Join(ctx context.Context, chatID int64, origin session.EventRef) error
	Leave(ctx context.Context, chatID int64) error
	Submit(ctx context.Context, req session.PlaybackRequest) error
	Snapshot() session.Snapshot
}

// Acquirer turns message content into a local audio file.
type Acquirer interface {
	Text(ctx context.Context, text string) (string, error)
	Attachment(ctx context.Context, att media.Attachment) (string, error)
}

// Announcer posts to the operator's own chat.
type Announcer interface {
	SendToSelf(ctx context.Context, text string) error
}

// Drop and acquisition outcomes reported to the observer.
const (
	OutcomeQueued         = "queued"
	OutcomeNotInCall      = "not_in_call"
	OutcomeCommand        = "command"
	OutcomeUnsupported    = "unsupported"
	OutcomeBackpressure   = "backpressure"
	OutcomeSynthFailed    = "synthesis_failed"
	OutcomeDownloadFailed = "download_failed"
	OutcomeSubmitFailed   = "submit_failed"
)

// Observer is told how each control-channel message was handled and how long acquisition took.
type Observer func(kind session.Kind, outcome string, took time.Duration)

type Config struct {
	JoinTrigger  string
	LeaveTrigger string
	SelfOnly     bool
	Buffer       int
}

type command struct {
	op     session.Op
	chatID int64
	origin session.EventRef
}

type job struct {
	msg transport.Message
	at  time.Time
}

// Router classifies bridge events. Join and leave commands go to a command worker; control-channel content
// goes to a single acquisition worker so synthesis and downloads never block the transport reader and
// playback keeps arrival order.
type Router struct {
	ctrl      Controller
	acquirer  Acquirer
	announcer Announcer
	selfID    func() int64
	cfg       Config
	observer  Observer
	logger    *zap.Logger

	commands chan command
	jobs     chan job

	announceOnce sync.Once
}

func New(ctrl Controller, acquirer Acquirer, announcer Announcer, selfID func() int64, cfg Config, observer Observer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	if strings.TrimSpace(cfg.JoinTrigger) == "" {
		cfg.JoinTrigger = ".join"
	}
	return &Router{
		ctrl:      ctrl,
		acquirer:  acquirer,
		announcer: announcer,
		selfID:    selfID,
		cfg:       cfg,
		observer:  observer,
		logger:    logger.With(zap.String("component", "ingest")),
		commands:  make(chan command, cfg.Buffer),
		jobs:      make(chan job, cfg.Buffer),
	}
}

// Run drives both workers until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.commandLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.acquireLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// Handle is the transport handler.
func (r *Router) Handle(ctx context.Context, event any) {
	switch ev := event.(type) {
	case transport.Ready:
		r.announceOnce.Do(func() {
			if r.announcer == nil {
				return
			}
			if err := r.announcer.SendToSelf(ctx, startupText); err != nil {
				r.logger.Warn("startup message failed", zap.Error(err))
			}
		})
	case transport.Message:
		r.route(ev)
	}
}

func (r *Router) route(msg transport.Message) {
	if msg.Service {
		return
	}
	origin := session.EventRef{ChatID: msg.ChatID, MessageID: msg.MessageID}
	sender := policy.CommandSender{FromSelf: msg.FromSelf, Forwarded: msg.Forwarded}

	if msg.IsGroup() {
		switch {
		case policy.MatchCommand(msg.Text, r.cfg.JoinTrigger):
			if policy.AuthorizeCommand(sender, r.cfg.SelfOnly) {
				r.enqueueCommand(command{op: session.OpJoin, chatID: msg.ChatID, origin: origin})
			}
		case policy.MatchCommand(msg.Text, r.cfg.LeaveTrigger):
			if policy.AuthorizeCommand(sender, r.cfg.SelfOnly) {
				r.enqueueCommand(command{op: session.OpLeave, chatID: msg.ChatID, origin: origin})
			}
		}
		return
	}

	if !r.isControlChannel(msg) {
		return
	}

	kind := session.KindText
	if msg.HasAudio() {
		kind = session.KindAudio
	} else if msg.Attachment != nil {
		// Photos, videos and documents are never played; their captions are not spoken either.
		r.observe(session.KindAudio, OutcomeUnsupported, 0)
		return
	}

	if kind == session.KindText {
		if policy.MatchCommand(msg.Text, r.cfg.LeaveTrigger) {
			if snap := r.ctrl.Snapshot(); snap.HasCall && !msg.Forwarded {
				r.enqueueCommand(command{op: session.OpLeave, chatID: snap.ActiveCallID, origin: origin})
			}
			r.observe(kind, OutcomeCommand, 0)
			return
		}
		if policy.LooksLikeCommand(msg.Text, r.cfg.JoinTrigger, r.cfg.LeaveTrigger) {
			r.observe(kind, OutcomeCommand, 0)
			return
		}
		if strings.TrimSpace(msg.Text) == "" {
			r.observe(kind, OutcomeUnsupported, 0)
			return
		}
	}

	// Not in a call: drop before paying for synthesis or download.
	if !r.ctrl.Snapshot().InCall() {
		r.observe(kind, OutcomeNotInCall, 0)
		return
	}

	select {
	case r.jobs <- job{msg: msg, at: time.Now()}:
	default:
		r.logger.Warn("acquisition queue full, dropping message", zap.Int64("message_id", msg.MessageID))
		r.observe(kind, OutcomeBackpressure, 0)
	}
}

func (r *Router) isControlChannel(msg transport.Message) bool {
	self := int64(0)
	if r.selfID != nil {
		self = r.selfID()
	}
	return self != 0 && msg.ChatID == self
}

func (r *Router) enqueueCommand(cmd command) {
	select {
	case r.commands <- cmd:
	default:
		r.logger.Warn("command queue full, dropping", zap.String("op", string(cmd.op)), zap.Int64("chat_id", cmd.chatID))
	}
}

func (r *Router) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			var err error
			switch cmd.op {
			case session.OpJoin:
				err = r.ctrl.Join(ctx, cmd.chatID, cmd.origin)
			case session.OpLeave:
				err = r.ctrl.Leave(ctx, cmd.chatID)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Info("command finished with error", zap.String("op", string(cmd.op)), zap.Int64("chat_id", cmd.chatID), zap.Error(err))
			}
		}
	}
}

func (r *Router) acquireLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			r.acquire(ctx, j)
		}
	}
}

func (r *Router) acquire(ctx context.Context, j job) {
	msg := j.msg
	kind := session.KindText
	if msg.HasAudio() {
		kind = session.KindAudio
	}
	// The call may have ended while this message waited in the queue.
	if !r.ctrl.Snapshot().InCall() {
		r.observe(kind, OutcomeNotInCall, 0)
		return
	}

	start := time.Now()
	var (
		path string
		err  error
	)
	if kind == session.KindAudio {
		path, err = r.acquirer.Attachment(ctx, *msg.Attachment)
	} else {
		path, err = r.acquirer.Text(ctx, msg.Text)
	}
	took := time.Since(start)
	if err != nil {
		outcome := OutcomeSynthFailed
		var dlErr *media.DownloadError
		if errors.As(err, &dlErr) {
			outcome = OutcomeDownloadFailed
		}
		r.logger.Warn("acquisition failed", zap.String("kind", string(kind)), zap.Int64("message_id", msg.MessageID), zap.Error(err))
		r.observe(kind, outcome, took)
		return
	}

	req := session.NewPlaybackRequest(path, session.EventRef{ChatID: msg.ChatID, MessageID: msg.MessageID}, kind)
	if err := r.ctrl.Submit(ctx, req); err != nil {
		r.logger.Warn("playback submit failed", zap.String("request_id", req.ID), zap.Error(err))
		r.observe(kind, OutcomeSubmitFailed, took)
		return
	}
	r.logger.Debug("playback queued",
		zap.String("request_id", req.ID),
		zap.String("kind", string(kind)),
		zap.Duration("acquire", took),
		zap.Duration("since_arrival", time.Since(j.at)),
	)
	r.observe(kind, OutcomeQueued, took)
}

func (r *Router) observe(kind session.Kind, outcome string, took time.Duration) {
	if r.observer != nil {
		r.observer(kind, outcome, took)
	}
}
