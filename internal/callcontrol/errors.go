package callcontrol

import (
	"errors"
	"fmt"
	"strings"
)

// Op names a call-control operation.
type Op string

const (
	OpJoin         Op = "join"
	OpLeave        Op = "leave"
	OpChangeStream Op = "change_stream"
)

// Kind classifies why a call-control operation failed.
type Kind string

const (
	// KindTransport: the call service was unreachable or unavailable.
	KindTransport Kind = "transport"
	// KindProtocol: the call service rejected the operation.
	KindProtocol Kind = "protocol"
	// KindMedia: the audio source could not be read or decoded.
	KindMedia Kind = "media"
)

// Error is the typed failure returned by every Adapter operation.
type Error struct {
	Op      Op
	Kind    Kind
	ChatID  int64
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "callcontrol %s %d: %s error", e.Op, e.ChatID, e.Kind)
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Reason is the short operator-facing explanation.
func (e *Error) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind) + " error"
}

func newError(op Op, kind Kind, chatID int64, code, message string, cause error) *Error {
	return &Error{Op: op, Kind: kind, ChatID: chatID, Code: code, Message: message, Cause: cause}
}

// KindOf extracts the failure kind. Untyped errors are treated as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransport
}

// Reason returns an operator-facing explanation for any error.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason()
	}
	return err.Error()
}
