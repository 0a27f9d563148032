package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ent0n29/callcaster/internal/callcontrol"
	"github.com/ent0n29/callcaster/internal/media"
	"github.com/ent0n29/callcaster/internal/session"
	"github.com/ent0n29/callcaster/internal/transport"
)

const selfID = 4242

type fakeAcquirer struct {
	mu    sync.Mutex
	texts []string
	atts  []string
	fail  error
	delay time.Duration
}

func (a *fakeAcquirer) Text(ctx context.Context, text string) (string, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	if a.fail != nil {
		return "", a.fail
	}
	return "/tmp/tts-" + text, nil
}

func (a *fakeAcquirer) Attachment(_ context.Context, att media.Attachment) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.atts = append(a.atts, att.FileID)
	return "/tmp/audio-" + att.FileID, nil
}

func (a *fakeAcquirer) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.texts) + len(a.atts)
}

type nopScheduler struct{}

func (nopScheduler) Schedule(string) {}

type fakeAnnouncer struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAnnouncer) SendToSelf(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return nil
}

type harness struct {
	adapter   *callcontrol.MockAdapter
	ctrl      *session.Controller
	acquirer  *fakeAcquirer
	announcer *fakeAnnouncer
	router    *Router
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	outcomes []string
}

func newHarness(cfg Config) *harness {
	h := &harness{
		adapter:   callcontrol.NewMockAdapter(),
		acquirer:  &fakeAcquirer{},
		announcer: &fakeAnnouncer{},
		done:      make(chan struct{}),
	}
	h.ctrl = session.NewController(h.adapter, nopScheduler{}, session.Options{})
	h.router = New(h.ctrl, h.acquirer, h.announcer, func() int64 { return selfID }, cfg, func(_ session.Kind, outcome string, _ time.Duration) {
		h.mu.Lock()
		h.outcomes = append(h.outcomes, outcome)
		h.mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.router.Run(ctx)
	}()
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.ctrl.Close(ctx)
}

func (h *harness) outcomeList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.outcomes...)
}

func groupText(chatID, msgID int64, text string) transport.Message {
	return transport.Message{Type: transport.TypeMessage, ChatID: chatID, MessageID: msgID, ChatType: transport.ChatSupergroup, Text: text, FromSelf: true}
}

func selfText(msgID int64, text string) transport.Message {
	return transport.Message{Type: transport.TypeMessage, ChatID: selfID, MessageID: msgID, ChatType: transport.ChatPrivate, Text: text, FromSelf: true}
}

func (h *harness) waitInCall(t *testing.T, chatID int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := h.ctrl.Snapshot()
		return snap.InCall() && snap.ActiveCallID == chatID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGroupJoinCommandJoins(t *testing.T) {
	h := newHarness(Config{JoinTrigger: ".join", LeaveTrigger: ".leave"})
	defer h.stop()
	ctx := context.Background()

	h.router.Handle(ctx, groupText(-100, 1, ".join"))
	h.waitInCall(t, -100)

	h.router.Handle(ctx, groupText(-200, 2, " .join "))
	h.waitInCall(t, -200)

	calls := h.adapter.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, callcontrol.OpLeave, calls[1].Op)
	assert.Equal(t, int64(-100), calls[1].ChatID)
	assert.Zero(t, h.acquirer.calls())
}

func TestJoinCommandFilters(t *testing.T) {
	h := newHarness(Config{JoinTrigger: ".join", LeaveTrigger: ".leave", SelfOnly: true})
	defer h.stop()
	ctx := context.Background()

	fwd := groupText(-1, 1, ".join")
	fwd.Forwarded = true
	h.router.Handle(ctx, fwd)

	other := groupText(-1, 2, ".join")
	other.FromSelf = false
	h.router.Handle(ctx, other)

	h.router.Handle(ctx, groupText(-1, 3, ".join now"))

	svc := groupText(-1, 4, ".join")
	svc.Service = true
	h.router.Handle(ctx, svc)

	private := groupText(77, 5, ".join")
	private.ChatType = transport.ChatPrivate
	h.router.Handle(ctx, private)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.adapter.Calls())
	assert.Equal(t, session.StatusIdle, h.ctrl.Snapshot().Status)
}

func TestTextWhileIdleNeverAcquires(t *testing.T) {
	h := newHarness(Config{})
	defer h.stop()

	h.router.Handle(context.Background(), selfText(1, "hello"))
	time.Sleep(30 * time.Millisecond)

	assert.Zero(t, h.acquirer.calls())
	assert.Empty(t, h.adapter.Calls())
	assert.Equal(t, []string{OutcomeNotInCall}, h.outcomeList())
}

func TestControlChannelPlaysInArrivalOrder(t *testing.T) {
	h := newHarness(Config{})
	defer h.stop()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Join(ctx, 100, session.EventRef{}))

	h.adapter.SetDelay(20 * time.Millisecond)
	h.acquirer.delay = 5 * time.Millisecond
	h.router.Handle(ctx, selfText(1, "a"))
	h.router.Handle(ctx, selfText(2, "b"))

	require.Eventually(t, func() bool {
		streams := h.adapter.CallsOf(callcontrol.OpChangeStream)
		return len(streams) == 2 && streams[1].End != 0
	}, 2*time.Second, 5*time.Millisecond)

	streams := h.adapter.CallsOf(callcontrol.OpChangeStream)
	assert.Equal(t, "/tmp/tts-a", streams[0].Path)
	assert.Equal(t, "/tmp/tts-b", streams[1].Path)
	assert.Less(t, streams[0].End, streams[1].Start)
	assert.Equal(t, 2, h.acquirer.calls())
}

func TestAudioAttachmentIsDownloaded(t *testing.T) {
	h := newHarness(Config{})
	defer h.stop()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Join(ctx, 100, session.EventRef{}))

	msg := selfText(3, "")
	msg.Attachment = &media.Attachment{FileID: "voice-1", Voice: true}
	h.router.Handle(ctx, msg)

	require.Eventually(t, func() bool {
		return len(h.adapter.CallsOf(callcontrol.OpChangeStream)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "/tmp/audio-voice-1", h.adapter.CallsOf(callcontrol.OpChangeStream)[0].Path)
}

func TestNonAudioAttachmentIsIgnored(t *testing.T) {
	h := newHarness(Config{})
	defer h.stop()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Join(ctx, 100, session.EventRef{}))

	photo := selfText(9, "look at this")
	photo.Attachment = &media.Attachment{FileID: "photo-1", FileName: "cat.jpg", MimeType: "image/jpeg"}
	h.router.Handle(ctx, photo)
	h.router.Handle(ctx, selfText(10, "after"))

	require.Eventually(t, func() bool {
		return len(h.adapter.CallsOf(callcontrol.OpChangeStream)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "/tmp/tts-after", h.adapter.CallsOf(callcontrol.OpChangeStream)[0].Path)

	h.acquirer.mu.Lock()
	defer h.acquirer.mu.Unlock()
	assert.Empty(t, h.acquirer.atts)
	assert.Equal(t, []string{"after"}, h.acquirer.texts)
	assert.Contains(t, h.outcomeList(), OutcomeUnsupported)
}

func TestAcquisitionFailureIsDropped(t *testing.T) {
	h := newHarness(Config{})
	defer h.stop()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Join(ctx, 100, session.EventRef{}))
	h.acquirer.fail = &media.SynthesisError{Provider: "mock", Message: "boom", Cause: errors.New("x")}

	h.router.Handle(ctx, selfText(1, "hello"))
	require.Eventually(t, func() bool {
		out := h.outcomeList()
		return len(out) == 1 && out[0] == OutcomeSynthFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.adapter.CallsOf(callcontrol.OpChangeStream))
}

func TestLeaveFromControlChannel(t *testing.T) {
	h := newHarness(Config{LeaveTrigger: ".leave"})
	defer h.stop()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Join(ctx, 100, session.EventRef{}))

	h.router.Handle(ctx, selfText(1, ".leave"))
	require.Eventually(t, func() bool { return !h.ctrl.Snapshot().HasCall }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.acquirer.calls())
}

func TestReadyAnnouncesOnce(t *testing.T) {
	h := newHarness(Config{})
	defer h.stop()

	h.router.Handle(context.Background(), transport.Ready{Type: transport.TypeReady, SelfID: selfID})
	h.router.Handle(context.Background(), transport.Ready{Type: transport.TypeReady, SelfID: selfID})

	h.announcer.mu.Lock()
	defer h.announcer.mu.Unlock()
	assert.Equal(t, []string{"Bot is online and ready."}, h.announcer.sent)
}

// Text that is exactly the join trigger never reaches the acquirer, whatever chat it arrives in and whatever
// the call state is.
func TestJoinTriggerNeverAcquired(t *testing.T) {
	h := newHarness(Config{JoinTrigger: ".join", LeaveTrigger: ".leave"})
	defer h.stop()
	require.NoError(t, h.ctrl.Join(context.Background(), 100, session.EventRef{}))

	rapid.Check(t, func(rt *rapid.T) {
		msg := transport.Message{
			Type:      transport.TypeMessage,
			ChatID:    rapid.SampledFrom([]int64{selfID, -100, 55}).Draw(rt, "chat"),
			MessageID: rapid.Int64Range(1, 1<<20).Draw(rt, "message"),
			ChatType:  rapid.SampledFrom([]string{transport.ChatPrivate, transport.ChatGroup, transport.ChatSupergroup}).Draw(rt, "chat_type"),
			Text:      rapid.SampledFrom([]string{"", " ", "\t"}).Draw(rt, "pad") + ".join" + rapid.SampledFrom([]string{"", " ", "\n"}).Draw(rt, "tail"),
			FromSelf:  rapid.Bool().Draw(rt, "from_self"),
			Forwarded: rapid.Bool().Draw(rt, "forwarded"),
		}
		if msg.ChatID == selfID {
			msg.ChatType = transport.ChatPrivate
		}
		h.router.Handle(context.Background(), msg)
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.acquirer.calls())
}
