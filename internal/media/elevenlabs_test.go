package media

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func elevenServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestElevenLabsWritesChunks(t *testing.T) {
	type seen struct {
		path, key string
		texts     []string
	}
	seenCh := make(chan seen, 1)
	base := elevenServer(t, func(conn *websocket.Conn, r *http.Request) {
		got := seen{path: r.URL.Path, key: r.Header.Get("xi-api-key")}
		defer func() { seenCh <- got }()
		for i := 0; i < 3; i++ {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			got.texts = append(got.texts, msg["text"].(string))
		}
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte("ab"))})
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte("cd"))})
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	})

	e := NewElevenLabs(ElevenLabsConfig{APIKey: "k", WSBaseURL: base, VoiceID: "voice-1"})
	dst := filepath.Join(t.TempDir(), "out.mp3")
	require.NoError(t, e.Synthesize(context.Background(), SynthesisRequest{Text: "hello", Voice: "ignored", Rate: "+10%"}, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
	got := <-seenCh
	assert.Equal(t, "/v1/text-to-speech/voice-1/stream-input", got.path)
	assert.Equal(t, "k", got.key)
	assert.Equal(t, []string{" ", "hello", ""}, got.texts)
}

func TestElevenLabsServerError(t *testing.T) {
	base := elevenServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		_ = conn.ReadJSON(&msg)
		_ = conn.WriteJSON(map[string]any{"error": "quota exceeded", "message_type": "quota_exceeded"})
	})

	e := NewElevenLabs(ElevenLabsConfig{APIKey: "k", WSBaseURL: base, VoiceID: "voice-1"})
	err := e.Synthesize(context.Background(), SynthesisRequest{Text: "hello", Voice: "v"}, filepath.Join(t.TempDir(), "o.mp3"))
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "quota_exceeded", synthErr.Code)
	assert.Equal(t, "quota exceeded", synthErr.Message)
}

func TestElevenLabsRequiresVoice(t *testing.T) {
	e := NewElevenLabs(ElevenLabsConfig{APIKey: "k"})
	err := e.Synthesize(context.Background(), SynthesisRequest{Text: "hello", Voice: "ta-IN-ValluvarNeural"}, filepath.Join(t.TempDir(), "o.mp3"))
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "voice_required", synthErr.Code)
}
