package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/callcaster/internal/callcontrol"
	"github.com/ent0n29/callcaster/internal/config"
	"github.com/ent0n29/callcaster/internal/transport"
)

const selfID = 99

// fakeBridge is a messaging bridge that pushes queued frames down the event stream and records replies.
type fakeBridge struct {
	frames   chan []byte
	upgrader websocket.Upgrader

	mu   sync.Mutex
	sent []transport.OutgoingMessage
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{frames: make(chan []byte, 16)}
}

func (b *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteJSON(transport.Ready{Type: transport.TypeReady, SelfID: selfID}); err != nil {
			return
		}
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case <-gone:
				return
			case f := <-b.frames:
				if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
					return
				}
			}
		}
	})
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg transport.OutgoingMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.sent = append(b.sent, msg)
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (b *fakeBridge) push(t *testing.T, msg transport.Message) {
	t.Helper()
	msg.Type = transport.TypeMessage
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	b.frames <- raw
}

func (b *fakeBridge) sentTexts() []transport.OutgoingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transport.OutgoingMessage(nil), b.sent...)
}

func fakeDecoder(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func testConfig(t *testing.T, bridgeURL string) config.Config {
	return config.Config{
		StatusAddr:         "127.0.0.1:0",
		ShutdownTimeout:    2 * time.Second,
		MetricsNamespace:   "apptest",
		MediaDir:           t.TempDir(),
		ReaperDelay:        time.Second,
		Decoder:            fakeDecoder(t),
		JoinTrigger:        ".join",
		LeaveTrigger:       ".leave",
		IngestBuffer:       8,
		CallAdapterMode:    "mock",
		MessagingBridgeURL: bridgeURL,
		TTSProvider:        "mock",
		TTSRate:            "+10%",
	}
}

func TestBuildFailsWithoutDecoder(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Decoder = filepath.Join(t.TempDir(), "missing-ffmpeg")
	_, err := Build(context.Background(), cfg, config.ControlConfig{APIID: 1, APIHash: "h", SessionToken: "s"}, nil)
	require.Error(t, err)
}

func TestJoinSpeakAndShutdown(t *testing.T) {
	fb := newFakeBridge()
	ts := httptest.NewServer(fb.handler())
	defer ts.Close()

	cc := config.ControlConfig{APIID: 1, APIHash: "hash", SessionToken: "session", Voice: config.DefaultVoice}
	b, err := Build(context.Background(), testConfig(t, ts.URL), cc, nil)
	require.NoError(t, err)
	mock, ok := b.Adapter.(*callcontrol.MockAdapter)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, m := range fb.sentTexts() {
			if m.Peer == transport.PeerSelf && m.Text == "Bot is online and ready." {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	fb.push(t, transport.Message{ChatID: -100, MessageID: 5, ChatType: transport.ChatSupergroup, Text: ".join", FromSelf: true})
	require.Eventually(t, func() bool { return b.Controller.Snapshot().InCall() }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, m := range fb.sentTexts() {
			if m.ChatID == -100 && m.ReplyTo == 5 && m.Text == "Joined voice chat." {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	fb.push(t, transport.Message{ChatID: selfID, MessageID: 6, ChatType: transport.ChatPrivate, Text: "vanakkam", FromSelf: true})
	require.Eventually(t, func() bool {
		return len(mock.CallsOf(callcontrol.OpChangeStream)) == 1
	}, 3*time.Second, 10*time.Millisecond)
	stream := mock.CallsOf(callcontrol.OpChangeStream)[0]
	assert.Equal(t, int64(-100), stream.ChatID)
	assert.True(t, strings.HasPrefix(stream.Path, b.Config.MediaDir))

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, b.Close(closeCtx))

	leaves := mock.CallsOf(callcontrol.OpLeave)
	require.Len(t, leaves, 1)
	assert.Equal(t, int64(-100), leaves[0].ChatID)
	assert.False(t, b.Controller.Snapshot().HasCall)

	// Closing the reaper flushes every temp file.
	_, statErr := os.Stat(stream.Path)
	assert.True(t, os.IsNotExist(statErr))

	recs, err := b.History.Recent(context.Background(), 10)
	require.NoError(t, err)
	ops := make([]string, 0, len(recs))
	for _, r := range recs {
		ops = append(ops, r.Op)
	}
	assert.Equal(t, []string{"join", "play", "leave"}, ops)
}
