package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
)

// EdgeTTS shells out to the edge-tts command line client.
type EdgeTTS struct {
	cliPath string
}

func NewEdgeTTS(cliPath string) *EdgeTTS {
	if strings.TrimSpace(cliPath) == "" {
		cliPath = "edge-tts"
	}
	return &EdgeTTS{cliPath: cliPath}
}

func (e *EdgeTTS) Name() string { return "edge-tts" }

func (e *EdgeTTS) Ext() string { return ".mp3" }

func (e *EdgeTTS) Synthesize(ctx context.Context, req SynthesisRequest, dst string) error {
	if strings.TrimSpace(req.Text) == "" {
		return newSynthesisError(e.Name(), "empty_text", "nothing to synthesize", nil, false)
	}
	args := []string{
		"--voice", req.Voice,
		// A signed rate must be attached with "=" or the CLI reads it as a flag.
		"--rate=" + NormalizeRate(req.Rate),
		"--text", req.Text,
		"--write-media", dst,
	}
	cmd := exec.CommandContext(ctx, e.cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return newSynthesisError(e.Name(), "canceled", "synthesis interrupted", ctxErr, false)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
			return newSynthesisError(e.Name(), "cli_missing", "edge-tts CLI not found", err, false)
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 2<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(2<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return newSynthesisError(e.Name(), "cli_failed", detail, err, true)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return newSynthesisError(e.Name(), "no_output", "edge-tts wrote no audio", err, true)
	}
	if info.Size() == 0 {
		return newSynthesisError(e.Name(), "no_output", "edge-tts wrote an empty file", nil, true)
	}
	return nil
}
