package media

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultRate = "+10%"
	minRatePct  = 10
	maxRatePct  = 12
)

type SynthesisRequest struct {
	Text  string
	Voice string
	Rate  string
}

// Synthesizer renders text into an audio file at dst.
type Synthesizer interface {
	Name() string
	// Ext is the file extension of the rendered audio, including the dot.
	Ext() string
	Synthesize(ctx context.Context, req SynthesisRequest, dst string) error
}

// NormalizeRate parses a signed percentage such as "+11%" and clamps it into the supported window. Anything
// unparsable falls back to DefaultRate.
func NormalizeRate(rate string) string {
	pct, ok := parseRate(rate)
	if !ok {
		return DefaultRate
	}
	if pct < minRatePct {
		pct = minRatePct
	} else if pct > maxRatePct {
		pct = maxRatePct
	}
	return fmt.Sprintf("+%d%%", pct)
}

// RateMultiplier converts a rate string into a speed factor, e.g. "+10%" -> 1.10.
func RateMultiplier(rate string) float64 {
	pct, ok := parseRate(NormalizeRate(rate))
	if !ok {
		return 1
	}
	return 1 + float64(pct)/100
}

func parseRate(rate string) (int, bool) {
	v := strings.TrimSpace(rate)
	if !strings.HasSuffix(v, "%") {
		return 0, false
	}
	v = strings.TrimSuffix(v, "%")
	v = strings.TrimPrefix(v, "+")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

type SynthConfig struct {
	Provider string

	EdgeTTSCLI string

	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsModelID   string
	ElevenLabsVoiceID   string
}

// NewSynthesizer picks a backend. "auto" prefers ElevenLabs when a key and voice id are configured, with edge-tts as the
// fallback, then edge-tts alone when its CLI is on PATH, and finally the silent mock.
func NewSynthesizer(cfg SynthConfig, logger *zap.Logger) (Synthesizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	eleven := func() *ElevenLabs {
		return NewElevenLabs(ElevenLabsConfig{
			APIKey:    cfg.ElevenLabsAPIKey,
			WSBaseURL: cfg.ElevenLabsWSBaseURL,
			ModelID:   cfg.ElevenLabsModelID,
			VoiceID:   cfg.ElevenLabsVoiceID,
		})
	}

	switch provider {
	case "edge", "edge-tts":
		return NewEdgeTTS(cfg.EdgeTTSCLI), nil
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return nil, fmt.Errorf("ELEVENLABS_API_KEY is required when TTS_PROVIDER=elevenlabs")
		}
		if strings.TrimSpace(cfg.ElevenLabsVoiceID) == "" {
			return nil, fmt.Errorf("ELEVENLABS_VOICE_ID is required when TTS_PROVIDER=elevenlabs")
		}
		return eleven(), nil
	case "mock":
		return NewMock(), nil
	case "", "auto":
		edge := NewEdgeTTS(cfg.EdgeTTSCLI)
		_, lookErr := exec.LookPath(edge.cliPath)
		hasKey := strings.TrimSpace(cfg.ElevenLabsAPIKey) != ""
		if hasKey && strings.TrimSpace(cfg.ElevenLabsVoiceID) == "" {
			logger.Warn("ELEVENLABS_API_KEY is set without ELEVENLABS_VOICE_ID, skipping ElevenLabs")
			hasKey = false
		}
		if hasKey {
			if lookErr == nil {
				return NewFailover(eleven(), edge, logger), nil
			}
			return eleven(), nil
		}
		if lookErr == nil {
			return edge, nil
		}
		logger.Warn("no TTS backend available, using silent mock", zap.String("edge_tts_cli", edge.cliPath))
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported TTS_PROVIDER %q", cfg.Provider)
	}
}
