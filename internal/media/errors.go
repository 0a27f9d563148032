package media

import "fmt"

// SynthesisError is returned when a TTS backend fails to render text.
type SynthesisError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

func newSynthesisError(provider, code, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{Provider: provider, Code: code, Message: message, Cause: cause, Retryable: retryable}
}

// DownloadError is returned when an attachment cannot be fetched into the work dir.
type DownloadError struct {
	FileID string
	Status int
	Cause  error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d", e.FileID, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("download %s: %v", e.FileID, e.Cause)
	}
	return "download " + e.FileID + " failed"
}

func (e *DownloadError) Unwrap() error { return e.Cause }
