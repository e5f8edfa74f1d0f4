package booth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/charbooth/internal/protocol"
	"github.com/antoniostano/charbooth/internal/reliability"
)

var (
	// ErrSessionExpired is returned when the backend no longer knows the session.
	ErrSessionExpired = errors.New("backend session expired")
	ErrBackend        = errors.New("backend request failed")
)

// Backend is the booth's view of the character backend.
type Backend interface {
	StartSession(ctx context.Context, req protocol.StartSessionRequest) (protocol.StartSessionResponse, error)
	Generate(ctx context.Context, req protocol.GenerateRequest) (protocol.GenerateResponse, error)
	Release(ctx context.Context, sessionID string) error
}

// StatusError carries a non-2xx backend response.
type StatusError struct {
	Status int
	Code   string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend status %d (%s): %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Detail)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrSessionExpired
	}
	return ErrBackend
}

// HTTPBackend talks to the backend over JSON/HTTP. Session start and release
// retry transient failures with the same session id; generation does not.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	retry   reliability.Policy
}

func NewHTTPBackend(baseURL string, timeout time.Duration, retry reliability.Policy) *HTTPBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
	}
}

func (b *HTTPBackend) StartSession(ctx context.Context, req protocol.StartSessionRequest) (protocol.StartSessionResponse, error) {
	var out protocol.StartSessionResponse
	err := reliability.Do(ctx, b.retry, func(int) error {
		return retryable(b.do(ctx, http.MethodPost, "/v1/session/start", req, &out))
	})
	return out, err
}

func (b *HTTPBackend) Generate(ctx context.Context, req protocol.GenerateRequest) (protocol.GenerateResponse, error) {
	var out protocol.GenerateResponse
	if err := b.do(ctx, http.MethodPost, "/v1/generate", req, &out); err != nil {
		return protocol.GenerateResponse{}, err
	}
	return out, nil
}

// Release is idempotent on the backend, so a retried release is harmless.
func (b *HTTPBackend) Release(ctx context.Context, sessionID string) error {
	return reliability.Do(ctx, b.retry, func(int) error {
		var out protocol.OKResponse
		return retryable(b.do(ctx, http.MethodPost, "/v1/session/release", protocol.ReleaseRequest{SessionID: sessionID}, &out))
	})
}

func (b *HTTPBackend) Health(ctx context.Context) error {
	var out protocol.OKResponse
	if err := b.do(ctx, http.MethodGet, "/v1/healthz", nil, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("%w: backend reports unhealthy", ErrBackend)
	}
	return nil
}

func (b *HTTPBackend) CurrentModel(ctx context.Context) (protocol.ModelInfo, error) {
	var out protocol.ModelInfo
	err := b.do(ctx, http.MethodGet, "/v1/models/current", nil, &out)
	return out, err
}

func (b *HTTPBackend) Personas(ctx context.Context) (protocol.PersonasResponse, error) {
	var out protocol.PersonasResponse
	err := b.do(ctx, http.MethodGet, "/v1/personas", nil, &out)
	return out, err
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		se := &StatusError{Status: res.StatusCode, Detail: strings.TrimSpace(string(raw))}
		var e protocol.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Code != "" {
			se.Code, se.Detail = e.Code, e.Error
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}
	return nil
}

// retryable marks everything except transport failures and transient
// statuses as permanent for reliability.Do.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &reliability.Permanent{Err: err}
	}
	var se *StatusError
	if errors.As(err, &se) && !reliability.IsRetryableHTTPStatus(se.Status) {
		return &reliability.Permanent{Err: err}
	}
	return err
}
