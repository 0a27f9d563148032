package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/callcaster/internal/audio"
	"github.com/ent0n29/callcaster/internal/reliability"
)

// HTTPAdapter drives a call bridge service that owns the group-call media session.
type HTTPAdapter struct {
	baseURL string
	cfg     Config
	client  *http.Client
}

func NewHTTPAdapter(cfg Config) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		cfg:     cfg,
		// No overall timeout: a hung bridge stalls only the operation waiting on it.
		client: &http.Client{},
	}
}

type streamRequest struct {
	Path string `json:"path"`
}

type bridgeError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

var mediaCodes = map[string]bool{
	"media_unreadable":  true,
	"unsupported_media": true,
	"decoder_failed":    true,
}

func (a *HTTPAdapter) Join(ctx context.Context, chatID int64) error {
	return a.do(ctx, OpJoin, chatID, nil)
}

func (a *HTTPAdapter) Leave(ctx context.Context, chatID int64) error {
	return a.do(ctx, OpLeave, chatID, nil)
}

func (a *HTTPAdapter) ChangeStream(ctx context.Context, chatID int64, path string) error {
	if err := audio.Probe(path); err != nil {
		return newError(OpChangeStream, KindMedia, chatID, "media_unreadable", "", err)
	}
	return a.do(ctx, OpChangeStream, chatID, streamRequest{Path: path})
}

func (a *HTTPAdapter) do(ctx context.Context, op Op, chatID int64, body any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return newError(op, KindProtocol, chatID, "", "marshal request", err)
		}
	}

	endpoint := a.baseURL + "/v1/calls/" + strconv.FormatInt(chatID, 10) + "/" + pathFor(op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return newError(op, KindTransport, chatID, "", "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	res, err := a.client.Do(req)
	if err != nil {
		return newError(op, KindTransport, chatID, "", "call bridge unreachable", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return nil
	}
	return classifyResponse(op, chatID, res)
}

func (a *HTTPAdapter) authorize(req *http.Request) {
	if tok := strings.TrimSpace(a.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if a.cfg.APIID > 0 {
		req.Header.Set("X-Api-Id", strconv.Itoa(a.cfg.APIID))
	}
	if a.cfg.APIHash != "" {
		req.Header.Set("X-Api-Hash", a.cfg.APIHash)
	}
	if a.cfg.Session != "" {
		req.Header.Set("X-String-Session", a.cfg.Session)
	}
	if a.cfg.ClientID != "" {
		req.Header.Set("X-Client-Id", a.cfg.ClientID)
	}
}

func pathFor(op Op) string {
	switch op {
	case OpChangeStream:
		return "stream"
	default:
		return string(op)
	}
}

func classifyResponse(op Op, chatID int64, res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	var be bridgeError
	if err := json.Unmarshal(raw, &be); err != nil {
		be.Error = strings.TrimSpace(string(raw))
	}
	if be.Error == "" {
		be.Error = http.StatusText(res.StatusCode)
	}
	cause := fmt.Errorf("call bridge status %d", res.StatusCode)

	switch {
	case mediaCodes[be.Code], res.StatusCode == http.StatusUnsupportedMediaType, res.StatusCode == http.StatusUnprocessableEntity:
		return newError(op, KindMedia, chatID, be.Code, be.Error, cause)
	case reliability.IsRetryableHTTPStatus(res.StatusCode):
		return newError(op, KindTransport, chatID, be.Code, be.Error, cause)
	default:
		return newError(op, KindProtocol, chatID, be.Code, be.Error, cause)
	}
}
