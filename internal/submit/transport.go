package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"portfoliorelay/internal/contact"
)

var (
	// ErrOpaque covers every failure where no usable response reached the
	// caller: refused connection, DNS failure, or a response withheld by
	// cross-origin rules. They cannot be told apart at this layer.
	ErrOpaque = errors.New("request failed before a response was available")

	// ErrTimeout is the cancellation cause set when the request deadline fires.
	ErrTimeout = errors.New("request timed out")
)

// StatusError is a completed exchange with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Mode mirrors the browser fetch modes used by the form.
type Mode int

const (
	// ModeCORS sends Origin and withholds responses the server did not
	// explicitly allow for that origin.
	ModeCORS Mode = iota
	// ModeNoCORS accepts any response, treating it as opaque proof the
	// server answered.
	ModeNoCORS
)

// Transport executes single HTTP exchanges on behalf of the controller.
type Transport struct {
	client Doer
	origin string
}

func NewTransport(client Doer, origin string) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{client: client, origin: origin}
}

// Post sends the trimmed request as JSON. Callers bound ctx with a
// cancellation cause of ErrTimeout to get timeout classification.
func (t *Transport) Post(ctx context.Context, url string, req contact.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return t.do(ctx, http.MethodPost, url, body, ModeCORS)
}

// Get issues a bodyless GET in the given mode.
func (t *Transport) Get(ctx context.Context, url string, mode Mode) error {
	return t.do(ctx, http.MethodGet, url, nil, mode)
}

func (t *Transport) do(ctx context.Context, method, url string, body []byte, mode Mode) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpaque, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if mode == ModeCORS && t.origin != "" {
		httpReq.Header.Set("Origin", t.origin)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrTimeout) {
			return ErrTimeout
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrOpaque, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if mode == ModeNoCORS {
		return nil
	}

	if t.origin != "" && !originPermitted(resp.Header.Get("Access-Control-Allow-Origin"), t.origin) {
		return fmt.Errorf("%w: response not permitted for origin %s", ErrOpaque, t.origin)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func originPermitted(allowOrigin, origin string) bool {
	return allowOrigin == "*" || allowOrigin == origin
}
