package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/callcaster/internal/config"
)

type voiceSummary struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Labels   map[string]string `json:"labels,omitempty"`
}

type listVoicesResponse struct {
	DefaultVoiceID string         `json:"default_voice_id"`
	Voices         []voiceSummary `json:"voices"`
	Upstream       []voiceSummary `json:"upstream,omitempty"`
	UpstreamError  string         `json:"upstream_error,omitempty"`
}

// handleListVoices lists the edge voice profiles offered at setup, plus the ElevenLabs account voices when a
// key is configured.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	defaultID := strings.TrimSpace(s.opts.Voice)
	if defaultID == "" {
		defaultID = config.DefaultVoice
	}
	voices := make([]voiceSummary, 0, len(config.Voices))
	for _, v := range config.Voices {
		voices = append(voices, voiceSummary{VoiceID: v.ID, Name: v.Label, Provider: "edge-tts"})
	}
	out := listVoicesResponse{DefaultVoiceID: defaultID, Voices: voices}

	if strings.TrimSpace(s.opts.Config.ElevenLabsAPIKey) == "" {
		respondJSON(w, http.StatusOK, out)
		return
	}

	upstream, err := s.elevenLabsVoices(r)
	if err != nil {
		out.UpstreamError = err.Error()
	} else {
		out.Upstream = upstream
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) elevenLabsVoices(r *http.Request) ([]voiceSummary, error) {
	base, err := elevenLabsHTTPBase(s.opts.Config.ElevenLabsWSBaseURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, base+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.opts.Config.ElevenLabsAPIKey)

	client := &http.Client{Timeout: 10 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("elevenlabs status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Voices []struct {
			VoiceID string            `json:"voice_id"`
			Name    string            `json:"name"`
			Labels  map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("elevenlabs invalid json: %w", err)
	}

	out := make([]voiceSummary, 0, len(parsed.Voices))
	for _, v := range parsed.Voices {
		item := voiceSummary{
			VoiceID:  strings.TrimSpace(v.VoiceID),
			Name:     strings.TrimSpace(v.Name),
			Provider: "elevenlabs",
			Labels:   v.Labels,
		}
		if item.VoiceID == "" || item.Name == "" {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// elevenLabsHTTPBase maps the streaming base URL to its REST counterpart.
func elevenLabsHTTPBase(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "wss://api.elevenlabs.io"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse ELEVENLABS_WS_BASE_URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "wss", "https":
		u.Scheme = "https"
	case "ws", "http":
		u.Scheme = "http"
	default:
		return "", fmt.Errorf("unsupported elevenlabs url scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
