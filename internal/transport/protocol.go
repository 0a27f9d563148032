package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/callcaster/internal/media"
)

// EventType identifies bridge event variants.
type EventType string

const (
	TypeReady   EventType = "ready"
	TypeMessage EventType = "message"
	TypeError   EventType = "error"
)

// Chat types reported by the bridge.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

var ErrUnsupportedType = errors.New("unsupported event type")

type Envelope struct {
	Type EventType `json:"type"`
}

// Ready is sent once per connection after the bridge has authorized the session.
type Ready struct {
	Type   EventType `json:"type"`
	SelfID int64     `json:"self_id"`
	Name   string    `json:"name,omitempty"`
}

// Message is one incoming chat message.
type Message struct {
	Type       EventType         `json:"type"`
	ChatID     int64             `json:"chat_id"`
	MessageID  int64             `json:"message_id"`
	ChatType   string            `json:"chat_type"`
	Text       string            `json:"text,omitempty"`
	FromSelf   bool              `json:"from_self"`
	Forwarded  bool              `json:"forwarded"`
	Service    bool              `json:"service"`
	Attachment *media.Attachment `json:"attachment,omitempty"`
}

// IsGroup reports whether the message came from a chat that can host a voice call.
func (m Message) IsGroup() bool {
	switch m.ChatType {
	case ChatGroup, ChatSupergroup:
		return true
	default:
		return false
	}
}

// HasAudio reports whether the message carries an audio file or voice note.
func (m Message) HasAudio() bool {
	return m.Attachment != nil && m.Attachment.IsAudio()
}

type ErrorEvent struct {
	Type      EventType `json:"type"`
	Code      string    `json:"code"`
	Detail    string    `json:"detail"`
	Retryable bool      `json:"retryable"`
}

// OutgoingMessage is posted to the bridge. Peer "me" addresses the operator's own saved-messages chat and
// takes precedence over ChatID.
type OutgoingMessage struct {
	ChatID  int64  `json:"chat_id,omitempty"`
	Peer    string `json:"peer,omitempty"`
	ReplyTo int64  `json:"reply_to,omitempty"`
	Text    string `json:"text"`
}

const PeerSelf = "me"

// ParseEvent decodes one bridge frame into Ready, Message or ErrorEvent.
func ParseEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeReady:
		var ev Ready
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.SelfID == 0 {
			return nil, errors.New("invalid ready: missing self_id")
		}
		return ev, nil
	case TypeMessage:
		var ev Message
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.ChatID == 0 || ev.MessageID == 0 {
			return nil, errors.New("invalid message: missing chat_id or message_id")
		}
		return ev, nil
	case TypeError:
		var ev ErrorEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, ErrUnsupportedType
	}
}
