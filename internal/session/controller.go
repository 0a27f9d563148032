package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/callcaster/internal/callcontrol"
)

var (
	ErrNotInCall = errors.New("no active voice call")
	ErrClosed    = errors.New("session controller closed")
)

const (
	defaultQueueSize  = 64
	defaultNoticeSize = 16
)

type Options struct {
	Logger     *zap.Logger
	Notifier   Notifier
	Observer   Observer
	QueueSize  int
	NoticeSize int
}

// Controller owns the call membership. Every state change and every adapter call happens on a single
// goroutine, so commands are applied strictly in the order they were accepted.
type Controller struct {
	adapter  callcontrol.Adapter
	reaper   Scheduler
	notifier Notifier
	observer Observer
	logger   *zap.Logger

	// Loop-owned.
	state  Snapshot
	closer context.Context

	snapshot atomic.Pointer[Snapshot]
	quitting atomic.Bool

	mu     sync.RWMutex
	closed bool
	cmds   chan command

	notices    chan Notice
	loopDone   chan struct{}
	noticeDone chan struct{}
}

type command struct {
	op     Op
	ctx    context.Context
	chatID int64
	origin EventRef
	req    PlaybackRequest
	reply  chan error
}

func NewController(adapter callcontrol.Adapter, reaper Scheduler, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}
	noticeSize := opts.NoticeSize
	if noticeSize <= 0 {
		noticeSize = defaultNoticeSize
	}
	c := &Controller{
		adapter:    adapter,
		reaper:     reaper,
		notifier:   opts.Notifier,
		observer:   opts.Observer,
		logger:     logger.With(zap.String("component", "session")),
		state:      Snapshot{Status: StatusIdle, UpdatedAt: time.Now().UTC()},
		closer:     context.Background(),
		cmds:       make(chan command, queue),
		notices:    make(chan Notice, noticeSize),
		loopDone:   make(chan struct{}),
		noticeDone: make(chan struct{}),
	}
	c.publish()
	go c.loop()
	go c.deliverNotices()
	return c
}

// Snapshot returns the most recently published state.
func (c *Controller) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// Join makes chatID the active call, leaving any other call first. Joining the active call again is a no-op.
func (c *Controller) Join(ctx context.Context, chatID int64, origin EventRef) error {
	return c.call(ctx, command{op: OpJoin, chatID: chatID, origin: origin})
}

// Leave asks the call service to leave chatID. Local membership for that chat is cleared even when the
// service reports an error.
func (c *Controller) Leave(ctx context.Context, chatID int64) error {
	return c.call(ctx, command{op: OpLeave, chatID: chatID})
}

// Play streams req into the active call and waits for the outcome. The source file is handed to the reaper
// whatever happens.
func (c *Controller) Play(ctx context.Context, req PlaybackRequest) error {
	return c.call(ctx, command{op: OpPlay, req: req})
}

// Submit queues req behind earlier commands without waiting for the stream change. When the queue is full it
// blocks until there is room or ctx is done, so no request is ever skipped. On failure the file is scheduled
// for deletion immediately.
func (c *Controller) Submit(ctx context.Context, req PlaybackRequest) error {
	cmd := command{op: OpPlay, ctx: context.Background(), req: req}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.discard(cmd)
		return ErrClosed
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-ctx.Done():
		c.discard(cmd)
		return ctx.Err()
	}
}

// Close stops accepting commands, leaves the active call and waits for the loop to finish. Queued playback
// requests are dropped and their files scheduled for deletion.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.closer = ctx
		c.quitting.Store(true)
		close(c.cmds)
	}
	c.mu.Unlock()

	select {
	case <-c.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.noticeDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) call(ctx context.Context, cmd command) error {
	cmd.ctx = ctx
	cmd.reply = make(chan error, 1)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.discard(cmd)
		return ErrClosed
	}
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		c.mu.RUnlock()
		c.discard(cmd)
		return ctx.Err()
	}
	c.mu.RUnlock()

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	defer close(c.notices)

	for cmd := range c.cmds {
		if c.quitting.Load() {
			c.discard(cmd)
			continue
		}
		if err := cmd.ctx.Err(); err != nil {
			c.discard(cmd)
			continue
		}
		var err error
		switch cmd.op {
		case OpJoin:
			err = c.handleJoin(cmd)
		case OpLeave:
			err = c.handleLeave(cmd.ctx, cmd.chatID)
		case OpPlay:
			err = c.handlePlay(cmd)
		}
		if cmd.reply != nil {
			cmd.reply <- err
		}
	}

	if c.state.HasCall {
		c.handleLeave(c.closer, c.state.ActiveCallID)
	}
}

// discard answers a command that will not run. Play requests still hand their file to the reaper.
func (c *Controller) discard(cmd command) {
	if cmd.op == OpPlay {
		c.schedule(cmd.req.SourcePath)
	}
	if cmd.reply != nil {
		select {
		case cmd.reply <- ErrClosed:
		default:
		}
	}
}

func (c *Controller) handleJoin(cmd command) error {
	start := time.Now()
	chatID := cmd.chatID
	if c.state.InCall() && c.state.ActiveCallID == chatID {
		c.observe(Event{Op: OpJoin, ChatID: chatID, Outcome: OutcomeNoop, Duration: time.Since(start)})
		return nil
	}

	if c.state.HasCall {
		c.handleLeave(cmd.ctx, c.state.ActiveCallID)
	}

	c.transition(StatusJoining, 0, false, chatID)
	err := c.adapter.Join(cmd.ctx, chatID)
	replyChat := cmd.origin.ChatID
	if replyChat == 0 {
		replyChat = chatID
	}
	if err != nil {
		c.transition(StatusIdle, 0, false, 0)
		c.logger.Warn("join failed",
			zap.Int64("chat_id", chatID),
			zap.String("kind", string(callcontrol.KindOf(err))),
			zap.Error(err),
		)
		c.notify(Notice{ChatID: replyChat, ReplyTo: cmd.origin.MessageID, Text: joinFailedText + callcontrol.Reason(err), Kind: NoticeJoinFailed})
		c.observe(Event{Op: OpJoin, ChatID: chatID, Outcome: OutcomeFailed, Err: err, Duration: time.Since(start)})
		return err
	}

	c.transition(StatusInCall, chatID, true, 0)
	c.logger.Info("joined voice chat", zap.Int64("chat_id", chatID))
	c.notify(Notice{ChatID: replyChat, ReplyTo: cmd.origin.MessageID, Text: joinedText, Kind: NoticeJoined})
	c.observe(Event{Op: OpJoin, ChatID: chatID, Outcome: OutcomeOK, Duration: time.Since(start)})
	return nil
}

func (c *Controller) handleLeave(ctx context.Context, chatID int64) error {
	start := time.Now()
	owned := c.state.HasCall && c.state.ActiveCallID == chatID
	if owned {
		c.transition(StatusLeaving, chatID, true, chatID)
	}

	err := c.adapter.Leave(ctx, chatID)
	if owned {
		c.transition(StatusIdle, 0, false, 0)
	}

	if err != nil {
		c.logger.Warn("leave failed",
			zap.Int64("chat_id", chatID),
			zap.String("kind", string(callcontrol.KindOf(err))),
			zap.Error(err),
		)
		c.observe(Event{Op: OpLeave, ChatID: chatID, Outcome: OutcomeFailed, Err: err, Duration: time.Since(start)})
		return err
	}
	c.logger.Info("left voice chat", zap.Int64("chat_id", chatID))
	c.observe(Event{Op: OpLeave, ChatID: chatID, Outcome: OutcomeOK, Duration: time.Since(start)})
	return nil
}

func (c *Controller) handlePlay(cmd command) error {
	req := cmd.req
	defer c.schedule(req.SourcePath)

	start := time.Now()
	if !c.state.InCall() {
		c.state.Dropped++
		c.publish()
		c.logger.Debug("playback dropped, not in a call", zap.String("request_id", req.ID), zap.String("status", string(c.state.Status)))
		c.observe(Event{Op: OpPlay, RequestID: req.ID, Kind: req.Kind, Outcome: OutcomeDropped, Err: ErrNotInCall})
		return ErrNotInCall
	}

	chatID := c.state.ActiveCallID
	err := c.adapter.ChangeStream(cmd.ctx, chatID, req.SourcePath)
	elapsed := time.Since(start)
	if err != nil {
		c.state.Failed++
		c.publish()
		c.logger.Warn("playback failed",
			zap.Int64("chat_id", chatID),
			zap.String("request_id", req.ID),
			zap.String("kind", string(callcontrol.KindOf(err))),
			zap.Error(err),
		)
		if req.Origin.ChatID != 0 {
			c.notify(Notice{ChatID: req.Origin.ChatID, ReplyTo: req.Origin.MessageID, Text: playFailedText + callcontrol.Reason(err), Kind: NoticePlayFailed})
		}
		c.observe(Event{Op: OpPlay, ChatID: chatID, RequestID: req.ID, Kind: req.Kind, Outcome: OutcomeFailed, Err: err, Duration: elapsed})
		return err
	}

	c.state.Played++
	c.publish()
	c.logger.Debug("playback started", zap.Int64("chat_id", chatID), zap.String("request_id", req.ID), zap.Duration("latency", elapsed))
	c.observe(Event{Op: OpPlay, ChatID: chatID, RequestID: req.ID, Kind: req.Kind, Outcome: OutcomeOK, Duration: elapsed})
	return nil
}

func (c *Controller) transition(status Status, active int64, hasCall bool, target int64) {
	c.state.Status = status
	c.state.ActiveCallID = active
	c.state.HasCall = hasCall
	c.state.TargetCallID = target
	c.publish()
}

func (c *Controller) publish() {
	c.state.UpdatedAt = time.Now().UTC()
	s := c.state
	c.snapshot.Store(&s)
}

func (c *Controller) schedule(path string) {
	if c.reaper != nil && path != "" {
		c.reaper.Schedule(path)
	}
}

func (c *Controller) observe(e Event) {
	if c.observer == nil {
		return
	}
	e.At = time.Now().UTC()
	c.observer.Observe(e)
}

func (c *Controller) notify(n Notice) {
	if c.notifier == nil {
		return
	}
	select {
	case c.notices <- n:
	default:
		c.logger.Warn("notice dropped, queue full", zap.String("kind", string(n.Kind)))
	}
}

func (c *Controller) deliverNotices() {
	defer close(c.noticeDone)
	for n := range c.notices {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.logger.Warn("notice delivery failed", zap.String("kind", string(n.Kind)), zap.Error(err))
		}
		cancel()
	}
}
