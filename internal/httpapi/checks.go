package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

type check struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type checksResponse struct {
	TTSBackend   string  `json:"tts_backend"`
	CallAdapter  string  `json:"call_adapter"`
	HistoryStore string  `json:"history_store"`
	Voice        string  `json:"voice"`
	Checks       []check `json:"checks"`
}

func (s *Server) handleChecks(w http.ResponseWriter, _ *http.Request) {
	cfg := s.opts.Config
	mode := strings.ToLower(strings.TrimSpace(cfg.CallAdapterMode))
	if mode == "" {
		mode = "auto"
	}

	checks := make([]check, 0, 8)
	checks = append(checks, s.decoderCheck())
	checks = append(checks, s.bridgeChecks()...)
	checks = append(checks, s.callAdapterCheck(mode))
	checks = append(checks, s.ttsChecks()...)
	checks = append(checks, s.mediaDirCheck())

	switch s.historyMode() {
	case "postgres":
		checks = append(checks, check{ID: "history_store", Status: "ok", Label: "Call history", Detail: "postgres"})
	default:
		checks = append(checks, check{
			ID:     "history_store",
			Status: "warn",
			Label:  "Call history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep call history across restarts.",
		})
	}

	respondJSON(w, http.StatusOK, checksResponse{
		TTSBackend:   s.opts.Backend,
		CallAdapter:  mode,
		HistoryStore: s.historyMode(),
		Voice:        s.opts.Voice,
		Checks:       checks,
	})
}

func (s *Server) decoderCheck() check {
	if strings.TrimSpace(s.opts.Decoder) == "" {
		return check{
			ID:     "decoder",
			Status: "error",
			Label:  "Audio decoder",
			Detail: "ffmpeg not found",
			Fix:    "Place ffmpeg in the working directory or on PATH.",
		}
	}
	return check{ID: "decoder", Status: "ok", Label: "Audio decoder", Detail: s.opts.Decoder}
}

func (s *Server) bridgeChecks() []check {
	out := make([]check, 0, 2)
	if s.opts.Bridge == nil || !s.opts.Bridge.Connected() {
		out = append(out, check{
			ID:     "messaging_bridge",
			Status: "error",
			Label:  "Messaging bridge",
			Detail: "event stream disconnected",
			Fix:    fmt.Sprintf("Start the messaging bridge at %s.", s.opts.Config.MessagingBridgeURL),
		})
	} else {
		out = append(out, check{ID: "messaging_bridge", Status: "ok", Label: "Messaging bridge", Detail: "connected"})
	}

	if s.opts.Bridge == nil || s.opts.Bridge.SelfID() == 0 {
		out = append(out, check{
			ID:     "control_channel",
			Status: "warn",
			Label:  "Control channel",
			Detail: "waiting for the bridge to report the account",
		})
	} else {
		out = append(out, check{
			ID:     "control_channel",
			Status: "ok",
			Label:  "Control channel",
			Detail: fmt.Sprintf("chat %d", s.opts.Bridge.SelfID()),
		})
	}
	return out
}

func (s *Server) callAdapterCheck(mode string) check {
	base := strings.TrimSpace(s.opts.Config.CallBridgeURL)
	if mode == "mock" || (mode == "auto" && base == "") {
		return check{
			ID:     "call_bridge",
			Status: "warn",
			Label:  "Call bridge",
			Detail: "mock adapter, nothing is streamed",
			Fix:    "Set CALL_BRIDGE_URL to the voice-call bridge.",
		}
	}
	if err := probeTCP(base); err != nil {
		return check{
			ID:     "call_bridge",
			Status: "error",
			Label:  "Call bridge",
			Detail: "unreachable: " + err.Error(),
			Fix:    "Start the call bridge or fix CALL_BRIDGE_URL.",
		}
	}
	return check{ID: "call_bridge", Status: "ok", Label: "Call bridge", Detail: base}
}

func (s *Server) ttsChecks() []check {
	cfg := s.opts.Config
	out := make([]check, 0, 2)
	backend := strings.TrimSpace(s.opts.Backend)

	if strings.Contains(backend, "elevenlabs") || strings.EqualFold(cfg.TTSProvider, "elevenlabs") {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			out = append(out, check{
				ID:     "elevenlabs_key",
				Status: "error",
				Label:  "ElevenLabs API key",
				Detail: "ELEVENLABS_API_KEY is not set",
				Fix:    "Set ELEVENLABS_API_KEY or switch to TTS_PROVIDER=edge.",
			})
		} else {
			out = append(out, check{ID: "elevenlabs_key", Status: "ok", Label: "ElevenLabs API key", Detail: "present"})
		}
	}

	if strings.Contains(backend, "edge") {
		cli := strings.TrimSpace(cfg.EdgeTTSCLI)
		if cli == "" {
			cli = "edge-tts"
		}
		if _, err := exec.LookPath(cli); err != nil {
			out = append(out, check{
				ID:     "edge_tts",
				Status: "error",
				Label:  "Edge TTS",
				Detail: cli + " not found",
				Fix:    "Install edge-tts or set EDGE_TTS_CLI.",
			})
		} else {
			out = append(out, check{ID: "edge_tts", Status: "ok", Label: "Edge TTS", Detail: cli + " found"})
		}
	}

	if backend == "mock" {
		out = append(out, check{
			ID:     "mock_tts",
			Status: "warn",
			Label:  "TTS backend is mock",
			Detail: "Text messages are played as silence.",
			Fix:    "Install edge-tts or set ELEVENLABS_API_KEY.",
		})
	}
	return out
}

func (s *Server) mediaDirCheck() check {
	dir := strings.TrimSpace(s.opts.Config.MediaDir)
	if dir == "" {
		return check{ID: "media_dir", Status: "warn", Label: "Media directory", Detail: "not configured"}
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return check{
			ID:     "media_dir",
			Status: "error",
			Label:  "Media directory",
			Detail: "not writable",
			Fix:    "Point APP_MEDIA_DIR at a writable directory.",
		}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return check{ID: "media_dir", Status: "ok", Label: "Media directory", Detail: filepath.Clean(dir)}
}

func probeTCP(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" || u.Scheme == "wss" {
			port = "443"
		}
		addr = net.JoinHostPort(host, port)
	}
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
