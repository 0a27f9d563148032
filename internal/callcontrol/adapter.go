package callcontrol

import (
	"context"
	"fmt"
	"strings"
)

// Adapter is the only boundary to the remote voice-call service. Implementations never retry; a failure
// surfaces once as an *Error.
type Adapter interface {
	Join(ctx context.Context, chatID int64) error
	Leave(ctx context.Context, chatID int64) error
	ChangeStream(ctx context.Context, chatID int64, path string) error
}

// Config controls adapter construction.
type Config struct {
	Mode     string
	BaseURL  string
	Token    string
	APIID    int
	APIHash  string
	Session  string
	ClientID string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.BaseURL) != "" {
			return NewHTTPAdapter(cfg), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("call bridge url is required for http mode")
		}
		return NewHTTPAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported call adapter mode %q", cfg.Mode)
	}
}
