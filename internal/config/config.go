package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice-call agent.
type Config struct {
	StatusAddr       string
	SetupAddr        string
	OpenBrowser      bool
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	LogLevel  string
	LogFormat string

	ControlFile string
	MediaDir    string
	ReaperDelay time.Duration
	Decoder     string

	JoinTrigger  string
	LeaveTrigger string
	JoinSelfOnly bool
	IngestBuffer int

	CallAdapterMode string
	CallBridgeURL   string
	CallBridgeToken string

	MessagingBridgeURL string

	TTSProvider         string
	TTSRate             string
	EdgeTTSCLI          string
	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsModelID   string
	ElevenLabsVoiceID   string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		StatusAddr:       envOrDefault("APP_STATUS_ADDR", "127.0.0.1:8090"),
		SetupAddr:        envOrDefault("APP_SETUP_ADDR", "127.0.0.1:5000"),
		OpenBrowser:      true,
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "callcaster"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "console"),
		ControlFile:      envOrDefault("APP_CONTROL_FILE", "config.txt"),
		MediaDir:         envOrDefault("APP_MEDIA_DIR", filepath.Join(os.TempDir(), "callcaster")),
		Decoder:          stringsTrimSpace("APP_DECODER"),
		JoinTrigger:      envOrDefault("APP_JOIN_TRIGGER", ".join"),
		LeaveTrigger:     envOrDefault("APP_LEAVE_TRIGGER", ".leave"),
		JoinSelfOnly:     false,
		IngestBuffer:     32,
		CallAdapterMode:  envOrDefault("CALL_ADAPTER_MODE", "auto"),
		CallBridgeURL:    stringsTrimSpace("CALL_BRIDGE_URL"),
		CallBridgeToken:  stringsTrimSpace("CALL_BRIDGE_TOKEN"),
		// The bridge owns the messaging session; we only consume its event stream.
		MessagingBridgeURL:  envOrDefault("MESSAGING_BRIDGE_URL", "http://127.0.0.1:8787"),
		TTSProvider:         envOrDefault("TTS_PROVIDER", "auto"),
		TTSRate:             envOrDefault("TTS_RATE", "+10%"),
		EdgeTTSCLI:          envOrDefault("EDGE_TTS_CLI", "edge-tts"),
		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsModelID:   envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsVoiceID:   stringsTrimSpace("ELEVENLABS_VOICE_ID"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		// Long enough to outlast stream start-up on the call bridge.
		ReaperDelay: 10 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperDelay, err = durationFromEnv("APP_REAPER_DELAY", cfg.ReaperDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.JoinSelfOnly, err = boolFromEnv("APP_JOIN_SELF_ONLY", cfg.JoinSelfOnly)
	if err != nil {
		return Config{}, err
	}
	cfg.IngestBuffer, err = intFromEnv("APP_INGEST_BUFFER", cfg.IngestBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenBrowser, err = boolFromEnv("APP_OPEN_BROWSER", cfg.OpenBrowser)
	if err != nil {
		return Config{}, err
	}

	if cfg.ReaperDelay < time.Second {
		return Config{}, fmt.Errorf("APP_REAPER_DELAY must be at least 1s")
	}
	if cfg.IngestBuffer <= 0 {
		return Config{}, fmt.Errorf("APP_INGEST_BUFFER must be positive")
	}
	if strings.TrimSpace(cfg.JoinTrigger) == "" {
		return Config{}, fmt.Errorf("APP_JOIN_TRIGGER must not be empty")
	}
	if strings.TrimSpace(cfg.ControlFile) == "" {
		return Config{}, fmt.Errorf("APP_CONTROL_FILE must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
