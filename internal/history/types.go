package history

import (
	"context"
	"time"
)

// Record is one completed join, leave or playback.
type Record struct {
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	ChatID     int64     `json:"chat_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists and retrieves call history.
type Store interface {
	Save(ctx context.Context, record Record) error
	// Recent returns up to limit records, oldest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
