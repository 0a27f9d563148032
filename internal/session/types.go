package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusJoining Status = "joining"
	StatusInCall  Status = "in_call"
	StatusLeaving Status = "leaving"
)

// Snapshot is an immutable copy of the controller state. ActiveCallID is only meaningful when HasCall is set;
// TargetCallID names the chat of an in-progress join or leave.
type Snapshot struct {
	Status       Status    `json:"status"`
	ActiveCallID int64     `json:"active_call_id,omitempty"`
	HasCall      bool      `json:"has_call"`
	TargetCallID int64     `json:"target_call_id,omitempty"`
	Played       uint64    `json:"played"`
	Dropped      uint64    `json:"dropped"`
	Failed       uint64    `json:"failed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// InCall reports whether playback would currently be accepted.
func (s Snapshot) InCall() bool {
	return s.Status == StatusInCall && s.HasCall
}

type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// EventRef identifies the transport message a request originated from.
type EventRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

type PlaybackRequest struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	Origin     EventRef  `json:"origin"`
	Kind       Kind      `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewPlaybackRequest(path string, origin EventRef, kind Kind) PlaybackRequest {
	return PlaybackRequest{
		ID:         uuid.NewString(),
		SourcePath: path,
		Origin:     origin,
		Kind:       kind,
		CreatedAt:  time.Now().UTC(),
	}
}

type NoticeKind string

const (
	NoticeJoined     NoticeKind = "joined"
	NoticeJoinFailed NoticeKind = "join_failed"
	NoticePlayFailed NoticeKind = "play_failed"
)

const (
	joinedText     = "Joined voice chat."
	joinFailedText = "Failed to join: "
	playFailedText = "Failed to play: "
)

// Notice is an operator-visible message. ReplyTo is zero when the notice is not a reply.
type Notice struct {
	ChatID  int64      `json:"chat_id"`
	ReplyTo int64      `json:"reply_to,omitempty"`
	Text    string     `json:"text"`
	Kind    NoticeKind `json:"kind"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Scheduler takes ownership of a temp file and deletes it later.
type Scheduler interface {
	Schedule(path string)
}

// Op names a controller operation in an Event.
type Op string

const (
	OpJoin  Op = "join"
	OpLeave Op = "leave"
	OpPlay  Op = "play"
)

const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
	OutcomeNoop    = "noop"
)

// Event describes one completed controller operation.
type Event struct {
	Op        Op
	ChatID    int64
	RequestID string
	Kind      Kind
	Outcome   string
	Err       error
	Duration  time.Duration
	At        time.Time
}

// Observer receives an Event after every operation. It runs on the controller goroutine and must not block.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
