package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Attachment describes an audio file carried by a transport message.
type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	// Voice marks a recorded voice note rather than an uploaded audio file.
	Voice bool `json:"voice,omitempty"`
}

var audioExts = map[string]bool{
	".mp3": true, ".ogg": true, ".oga": true, ".opus": true, ".m4a": true,
	".wav": true, ".flac": true, ".aac": true, ".weba": true,
}

// IsAudio reports whether the attachment is a voice note or an audio file. Photos, videos and other documents
// are not playable.
func (a Attachment) IsAudio() bool {
	if strings.TrimSpace(a.FileID) == "" {
		return false
	}
	if a.Voice {
		return true
	}
	if mime := strings.ToLower(strings.TrimSpace(a.MimeType)); mime != "" {
		return strings.HasPrefix(mime, "audio/")
	}
	return audioExts[strings.ToLower(filepath.Ext(a.FileName))]
}

// Ext guesses a file extension from the name or MIME type.
func (a Attachment) Ext() string {
	if ext := filepath.Ext(a.FileName); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	switch strings.ToLower(a.MimeType) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/flac":
		return ".flac"
	}
	if a.Voice {
		return ".ogg"
	}
	return ".bin"
}

// Downloader fetches an attachment into dst.
type Downloader interface {
	Download(ctx context.Context, att Attachment, dst string) error
}

type AcquirerConfig struct {
	Dir   string
	Voice string
	Rate  string
}

// Acquirer turns message content into a local audio file under its work dir. The caller owns the returned
// path and must hand it to the reaper.
type Acquirer struct {
	synth      Synthesizer
	downloader Downloader
	dir        string
	voice      string
	rate       string
	logger     *zap.Logger
}

func NewAcquirer(synth Synthesizer, downloader Downloader, cfg AcquirerConfig, logger *zap.Logger) (*Acquirer, error) {
	if synth == nil {
		return nil, errors.New("synthesizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "callcaster")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Acquirer{
		synth:      synth,
		downloader: downloader,
		dir:        dir,
		voice:      cfg.Voice,
		rate:       NormalizeRate(cfg.Rate),
		logger:     logger.With(zap.String("component", "media")),
	}, nil
}

func (a *Acquirer) Dir() string { return a.dir }

// Backend names the synthesizer in use.
func (a *Acquirer) Backend() string { return a.synth.Name() }

// Text synthesizes text with the configured voice and rate. Markup and emoji are dropped first; a message
// with nothing speakable left fails with code empty_text.
func (a *Acquirer) Text(ctx context.Context, text string) (string, error) {
	text = SpeechText(text)
	if text == "" {
		return "", newSynthesisError(a.synth.Name(), "empty_text", "nothing to synthesize", nil, false)
	}
	dst := a.newPath("tts", a.synth.Ext())
	start := time.Now()
	req := SynthesisRequest{Text: text, Voice: a.voice, Rate: a.rate}
	if err := a.synth.Synthesize(ctx, req, dst); err != nil {
		_ = os.Remove(dst)
		var synthErr *SynthesisError
		if !errors.As(err, &synthErr) {
			err = newSynthesisError(a.synth.Name(), "unknown", "synthesis failed", err, false)
		}
		return "", err
	}
	a.logger.Debug("synthesized", zap.String("backend", a.synth.Name()), zap.Int("chars", len(text)), zap.Duration("took", time.Since(start)))
	return dst, nil
}

// Attachment downloads att into the work dir.
func (a *Acquirer) Attachment(ctx context.Context, att Attachment) (string, error) {
	if a.downloader == nil {
		return "", &DownloadError{FileID: att.FileID, Cause: errors.New("no downloader configured")}
	}
	if strings.TrimSpace(att.FileID) == "" {
		return "", &DownloadError{Cause: errors.New("attachment has no file id")}
	}
	dst := a.newPath("audio", att.Ext())
	start := time.Now()
	if err := a.downloader.Download(ctx, att, dst); err != nil {
		_ = os.Remove(dst)
		var dlErr *DownloadError
		if !errors.As(err, &dlErr) {
			err = &DownloadError{FileID: att.FileID, Cause: err}
		}
		return "", err
	}
	a.logger.Debug("downloaded", zap.String("file_id", att.FileID), zap.Duration("took", time.Since(start)))
	return dst, nil
}

func (a *Acquirer) newPath(prefix, ext string) string {
	return filepath.Join(a.dir, prefix+"-"+uuid.NewString()+ext)
}
