package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrDecoderNotFound means the local audio decoder the call bridge relies on is not resolvable.
var ErrDecoderNotFound = errors.New("audio decoder not found")

// ErrUnreadable means a media file is missing, empty, or cannot be opened.
var ErrUnreadable = errors.New("media file unreadable")

// DefaultDecoderName returns the ffmpeg executable name for the current OS.
func DefaultDecoderName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// LocateDecoder resolves the decoder binary. A copy in workDir wins and its directory is prepended to PATH so
// child processes resolve the same binary; otherwise PATH is searched.
func LocateDecoder(name, workDir string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDecoderName()
	}

	if workDir != "" && !strings.ContainsRune(name, os.PathSeparator) {
		candidate := filepath.Join(workDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				abs = candidate
			}
			dir := filepath.Dir(abs)
			if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH")); err != nil {
				return "", fmt.Errorf("extend PATH: %w", err)
			}
			return abs, nil
		}
	}

	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not in %s or on PATH", ErrDecoderNotFound, name, workDir)
	}
	return p, nil
}

// Probe checks that path is a regular, non-empty, readable file.
func Probe(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrUnreadable, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()
	var head [1]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return nil
}
