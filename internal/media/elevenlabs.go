package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callcaster/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	ModelID      string
	VoiceID      string
	OutputFormat string
}

// ElevenLabs renders text through the stream-input websocket and appends the audio chunks to the file.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	return &ElevenLabs{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Ext() string { return ".mp3" }

type elevenMessage struct {
	Audio       string `json:"audio"`
	IsFinal     bool   `json:"isFinal"`
	IsFinalAlt  bool   `json:"is_final"`
	Error       string `json:"error"`
	MessageType string `json:"message_type"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, req SynthesisRequest, dst string) error {
	if strings.TrimSpace(req.Text) == "" {
		return newSynthesisError(e.Name(), "empty_text", "nothing to synthesize", nil, false)
	}
	// req.Voice names an edge-tts profile; ElevenLabs voices live in a different id space.
	voiceID := strings.TrimSpace(e.cfg.VoiceID)
	if voiceID == "" {
		return newSynthesisError(e.Name(), "voice_required", "voice_id is required", nil, false)
	}

	u, err := url.Parse(strings.TrimRight(e.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return newSynthesisError(e.Name(), "bad_url", "invalid websocket url", err, false)
	}
	q := u.Query()
	q.Set("model_id", e.cfg.ModelID)
	q.Set("output_format", e.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", e.cfg.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		retryable := reliability.IsTransportError(err)
		if resp != nil {
			retryable = reliability.IsRetryableHTTPStatus(resp.StatusCode)
		}
		return newSynthesisError(e.Name(), "dial_failed", "dial tts websocket", err, retryable)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	speed := RateMultiplier(req.Rate)
	for _, payload := range []map[string]any{
		{"text": " ", "voice_settings": map[string]any{"stability": 0.42, "similarity_boost": 0.85, "speed": speed}},
		{"text": req.Text, "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(payload); err != nil {
			return newSynthesisError(e.Name(), "write_failed", "send text", err, true)
		}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return newSynthesisError(e.Name(), "write_failed", "create output", err, false)
	}
	defer out.Close()

	written := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return newSynthesisError(e.Name(), "canceled", "synthesis interrupted", ctxErr, false)
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure && written > 0 {
				return nil
			}
			return newSynthesisError(e.Name(), "read_failed", "stream closed early", err, true)
		}
		var msg elevenMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return newSynthesisError(e.Name(), msg.MessageType, msg.Error, nil, false)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return newSynthesisError(e.Name(), "bad_audio", "decode audio chunk", err, false)
			}
			n, err := out.Write(chunk)
			if err != nil {
				return newSynthesisError(e.Name(), "write_failed", "write audio chunk", err, false)
			}
			written += n
		}
		if msg.IsFinal || msg.IsFinalAlt {
			if written == 0 {
				return newSynthesisError(e.Name(), "no_output", "stream produced no audio", nil, true)
			}
			return nil
		}
	}
}

func (e *ElevenLabs) String() string {
	return fmt.Sprintf("elevenlabs(model=%s)", e.cfg.ModelID)
}
