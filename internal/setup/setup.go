// Package setup serves the one-time local form that collects the account credentials and voice profile.
package setup

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/ent0n29/callcaster/internal/config"
)

const savedText = "Configuration saved. You may close this window."

//go:embed form.html
var formHTML string

var formTemplate = template.Must(template.New("form").Parse(formHTML))

type Config struct {
	Addr        string
	ControlFile string
	OpenBrowser bool
	Logger      *zap.Logger
}

type formData struct {
	APIID   string
	APIHash string
	Voice   string
	Voices  []config.Voice
	Error   string
}

// Server accepts exactly one successful submission.
type Server struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	saved config.ControlConfig
	done  chan struct{}
}

func NewServer(controlFile string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		path:   controlFile,
		logger: logger.With(zap.String("component", "setup")),
		done:   make(chan struct{}),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleForm)
	r.Post("/save", s.handleSave)
	return r
}

func (s *Server) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed after the configuration has been persisted.
func (s *Server) Done() <-chan struct{} { return s.done }

// Saved returns the persisted configuration once Done is closed.
func (s *Server) Saved() config.ControlConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func (s *Server) handleForm(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, formData{Voice: config.DefaultVoice})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.isDone() {
		http.Error(w, "configuration already saved", http.StatusConflict)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, formData{Voice: config.DefaultVoice, Error: "invalid form submission"})
		return
	}
	field := func(name string) string { return strings.TrimSpace(r.PostForm.Get(name)) }
	data := formData{APIID: field("api_id"), APIHash: field("api_hash"), Voice: field("voice")}

	if data.Voice != "" && !knownVoice(data.Voice) {
		data.Error = fmt.Sprintf("unknown voice %q", data.Voice)
		data.Voice = config.DefaultVoice
		s.render(w, http.StatusBadRequest, data)
		return
	}
	cc, err := config.ParseControl(map[string]string{
		config.KeyAPIID:         data.APIID,
		config.KeyAPIHash:       data.APIHash,
		config.KeyStringSession: field("string_session"),
		config.KeyVoice:         data.Voice,
	})
	if err != nil {
		data.Error = err.Error()
		if data.Voice == "" {
			data.Voice = config.DefaultVoice
		}
		s.render(w, http.StatusBadRequest, data)
		return
	}

	// Only the first submission may write the file.
	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		http.Error(w, "configuration already saved", http.StatusConflict)
		return
	}
	if err := config.SaveControl(s.path, cc); err != nil {
		s.mu.Unlock()
		s.logger.Error("saving configuration failed", zap.String("path", s.path), zap.Error(err))
		http.Error(w, "could not save configuration", http.StatusInternalServerError)
		return
	}
	s.saved = cc
	close(s.done)
	s.mu.Unlock()
	s.logger.Info("configuration saved", zap.String("path", s.path), zap.String("voice", cc.Voice))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(savedText))
}

func (s *Server) render(w http.ResponseWriter, status int, data formData) {
	data.Voices = config.Voices
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := formTemplate.Execute(w, data); err != nil {
		s.logger.Warn("render setup form", zap.Error(err))
	}
}

func knownVoice(id string) bool {
	for _, v := range config.Voices {
		if v.ID == id {
			return true
		}
	}
	return false
}

// Run serves the form until a configuration is saved or ctx is done, then shuts the listener down.
func Run(ctx context.Context, cfg Config) (config.ControlConfig, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:5000"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return config.ControlConfig{}, fmt.Errorf("setup listen on %s: %w", addr, err)
	}
	srv := NewServer(cfg.ControlFile, logger)
	httpServer := &http.Server{Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	url := "http://" + ln.Addr().String()
	logger.Info("configuration not found, setup form listening", zap.String("url", url))
	if cfg.OpenBrowser {
		browser.Stdout = nopWriter{}
		browser.Stderr = nopWriter{}
		if err := browser.OpenURL(url); err != nil {
			logger.Warn("could not open browser", zap.String("url", url), zap.Error(err))
		}
	}

	var runErr error
	select {
	case <-srv.Done():
	case <-ctx.Done():
		runErr = ctx.Err()
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("setup server: %w", err)
		}
	}

	// Let the confirmation response flush before the listener goes away.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
	}
	if runErr != nil {
		return config.ControlConfig{}, runErr
	}
	return srv.Saved(), nil
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
