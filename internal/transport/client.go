package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/callcaster/internal/media"
	"github.com/ent0n29/callcaster/internal/policy"
	"github.com/ent0n29/callcaster/internal/reliability"
)

type Credentials struct {
	APIID   int
	APIHash string
	Session string
}

type Config struct {
	BaseURL     string
	Credentials Credentials
	BackoffBase time.Duration
	BackoffCap  time.Duration
	HTTPTimeout time.Duration
}

// Handler receives every decoded event. It runs on the reader goroutine and must return quickly.
type Handler func(ctx context.Context, event any)

// Client talks to the local messaging bridge that holds the user session: a websocket event stream in,
// plain HTTP for replies and media downloads.
type Client struct {
	baseURL string
	wsURL   string
	creds   Credentials
	base    time.Duration
	cap     time.Duration
	http    *http.Client
	dialer  websocket.Dialer
	logger  *zap.Logger

	connected atomic.Bool
	selfID    atomic.Int64
	reconnect atomic.Int64
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("messaging bridge url is required")
	}
	wsURL, err := eventsURL(base)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	return &Client{
		baseURL: base,
		wsURL:   wsURL,
		creds:   cfg.Credentials,
		base:    cfg.BackoffBase,
		cap:     cfg.BackoffCap,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 5 * time.Second,
		},
		logger: logger.With(zap.String("component", "transport")),
	}, nil
}

func eventsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse MESSAGING_BRIDGE_URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported bridge url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	return u.String(), nil
}

// Connected reports whether the event stream is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// SelfID is the operator's own user id, known after the first ready event.
func (c *Client) SelfID() int64 { return c.selfID.Load() }

// Reconnects counts how many times the stream was re-established.
func (c *Client) Reconnects() int64 { return c.reconnect.Load() }

// Run streams events into handle until ctx is done, reconnecting with capped exponential backoff.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	attempt := 0
	for {
		connectedAt := time.Now()
		err := c.stream(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up for a while resets the backoff.
		if time.Since(connectedAt) > c.cap {
			attempt = 0
		}
		wait := reliability.ExponentialBackoff(attempt, c.base, c.cap)
		attempt++
		c.logger.Warn("event stream disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		c.reconnect.Add(1)
	}
}

func (c *Client) stream(ctx context.Context, handle Handler) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, c.headers())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial event stream: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info("event stream connected", zap.String("url", c.wsURL))

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		event, err := ParseEvent(data)
		if err != nil {
			c.logger.Debug("skipping bridge frame", zap.Error(err))
			continue
		}
		switch ev := event.(type) {
		case Ready:
			c.selfID.Store(ev.SelfID)
			c.logger.Info("bridge session ready", zap.Int64("self_id", ev.SelfID))
		case ErrorEvent:
			c.logger.Warn("bridge reported error", zap.String("code", ev.Code), zap.String("detail", ev.Detail))
		}
		handle(ctx, event)
	}
}

// Send posts a text message through the bridge.
func (c *Client) Send(ctx context.Context, msg OutgoingMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		return errors.New("message text is empty")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = c.headers()
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("bridge http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// SendToSelf posts text to the operator's saved-messages chat.
func (c *Client) SendToSelf(ctx context.Context, text string) error {
	return c.Send(ctx, OutgoingMessage{Peer: PeerSelf, Text: text})
}

// Download streams an attachment into dst.
func (c *Client) Download(ctx context.Context, att media.Attachment, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/media/"+url.PathEscape(att.FileID), nil)
	if err != nil {
		return &media.DownloadError{FileID: att.FileID, Cause: err}
	}
	req.Header = c.headers()

	res, err := c.http.Do(req)
	if err != nil {
		return &media.DownloadError{FileID: att.FileID, Cause: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &media.DownloadError{FileID: att.FileID, Status: res.StatusCode}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return &media.DownloadError{FileID: att.FileID, Cause: err}
	}
	n, copyErr := io.Copy(out, res.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return &media.DownloadError{FileID: att.FileID, Cause: copyErr}
	}
	if closeErr != nil {
		return &media.DownloadError{FileID: att.FileID, Cause: closeErr}
	}
	if n == 0 {
		return &media.DownloadError{FileID: att.FileID, Cause: errors.New("empty body")}
	}
	c.logger.Debug("attachment downloaded", zap.String("file_id", att.FileID), zap.Int64("bytes", n))
	return nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.creds.APIID != 0 {
		h.Set("X-Api-Id", strconv.Itoa(c.creds.APIID))
	}
	if c.creds.APIHash != "" {
		h.Set("X-Api-Hash", c.creds.APIHash)
	}
	if c.creds.Session != "" {
		h.Set("X-String-Session", c.creds.Session)
	}
	return h
}

// String describes the client without leaking the session.
func (c *Client) String() string {
	return fmt.Sprintf("bridge(%s, session=%s)", c.baseURL, policy.RedactSecret(c.creds.Session))
}
