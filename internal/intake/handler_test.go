package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"portfoliorelay/internal/config"
	"portfoliorelay/internal/logtest"
	"portfoliorelay/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const allowedOrigin = "https://cv.example.com"

func TestMain(m *testing.M) {
	logtest.Main(m, "intake")
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []relay.MailMessage
	err   error
	panic bool
}

func (f *fakeSender) Send(_ context.Context, msg relay.MailMessage) error {
	if f.panic {
		panic("relay exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.FromAddr = "site@example.com"
	cfg.SMTP.ToAddr = "me@example.com"
	cfg.Server.AllowedOrigins = []string{allowedOrigin, "http://localhost:5173"}
	return &cfg
}

const validBody = `{"name":" Ada Lovelace ","email":"ada@example.com","message":"I'd like to talk about a role."}`

func newSubmit(body, origin string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/interest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitSuccess(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(testConfig(), sender)

	rec := serve(h, newSubmit(validBody, allowedOrigin))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
	assert.Equal(t, allowedOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))

	require.Equal(t, 1, sender.count())
	msg := sender.sent[0]
	assert.Equal(t, "ada@example.com", msg.ReplyTo)
	assert.Equal(t, "me@example.com", msg.To)
	assert.Equal(t, "site@example.com", msg.From)
	assert.Equal(t, "Portfolio interest from Ada Lovelace", msg.Subject)
}

func TestSubmitWithoutOrigin(t *testing.T) {
	sender := &fakeSender{}
	rec := serve(NewHandler(testConfig(), sender), newSubmit(validBody, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 1, sender.count())
}

func TestDisallowedOrigin(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(testConfig(), sender)

	for _, method := range []string{http.MethodPost, http.MethodOptions} {
		req := newSubmit(validBody, "https://evil.example.net")
		req.Method = method
		rec := serve(h, req)

		assert.Equal(t, http.StatusForbidden, rec.Code, method)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), method)
	}
	assert.Zero(t, sender.count())
}

func TestOriginMatchIgnoresTrailingSlash(t *testing.T) {
	rec := serve(NewHandler(testConfig(), &fakeSender{}), newSubmit(validBody, allowedOrigin+"/"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreflight(t *testing.T) {
	sender := &fakeSender{}
	req := httptest.NewRequest(http.MethodOptions, "/api/interest", nil)
	req.Header.Set("Origin", allowedOrigin)
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := serve(NewHandler(testConfig(), sender), req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, allowedOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	assert.Zero(t, sender.count())
}

func TestRouteAndMethodGates(t *testing.T) {
	h := NewHandler(testConfig(), &fakeSender{})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"Unknown path", http.MethodPost, "/api/other", http.StatusNotFound},
		{"Root", http.MethodGet, "/", http.StatusNotFound},
		{"GET on submit path", http.MethodGet, "/api/interest", http.StatusMethodNotAllowed},
		{"PUT on submit path", http.MethodPut, "/api/interest", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(validBody))
			req.Header.Set("Origin", allowedOrigin)
			rec := serve(h, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRateLimitSixthRequestRejected(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(5, time.Hour)
	limiter.now = func() time.Time { return now }

	sender := &fakeSender{}
	h := NewHandler(testConfig(), sender, WithRateLimiter(limiter))

	for i := 0; i < 5; i++ {
		rec := serve(h, newSubmit(validBody, allowedOrigin))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		now = now.Add(time.Minute)
	}

	rec := serve(h, newSubmit(validBody, allowedOrigin))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3300", rec.Header().Get("Retry-After"))
	assert.Equal(t, 5, sender.count())

	now = now.Add(time.Hour)
	rec = serve(h, newSubmit(validBody, allowedOrigin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, sender.count())
}

func TestRateLimitPerClient(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour)
	h := NewHandler(testConfig(), &fakeSender{}, WithRateLimiter(limiter))

	first := newSubmit(validBody, allowedOrigin)
	first.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	second := newSubmit(validBody, allowedOrigin)
	second.Header.Set("X-Forwarded-For", "198.51.100.2")

	assert.Equal(t, http.StatusOK, serve(h, first).Code)
	assert.Equal(t, http.StatusOK, serve(h, second).Code)

	again := newSubmit(validBody, allowedOrigin)
	again.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, serve(h, again).Code)
}

func TestThrottle(t *testing.T) {
	h := NewHandler(testConfig(), &fakeSender{}, WithThrottle(rate.NewLimiter(rate.Every(time.Hour), 1)))

	assert.Equal(t, http.StatusOK, serve(h, newSubmit(validBody, allowedOrigin)).Code)
	rec := serve(h, newSubmit(validBody, allowedOrigin))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, allowedOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyTooLargeRejectedBeforeParsing(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(testConfig(), sender)
	oversized := "{" + strings.Repeat("x", 11*1024)

	rec := serve(h, newSubmit(oversized, allowedOrigin))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Request too large", decodeBody(t, rec)["error"])

	// Unknown length: the cap is enforced while reading.
	req := newSubmit(oversized, allowedOrigin)
	req.ContentLength = -1
	req.Body = io.NopCloser(strings.NewReader(oversized))
	rec = serve(h, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Request too large", decodeBody(t, rec)["error"])

	assert.Zero(t, sender.count())
}

func TestMalformedJSON(t *testing.T) {
	rec := serve(NewHandler(testConfig(), &fakeSender{}), newSubmit(`{"name":`, allowedOrigin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON", decodeBody(t, rec)["error"])
}

func TestInvalidFieldsAreGeneric(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(testConfig(), sender)

	bodies := []string{
		`{"name":"","email":"ada@example.com","message":"hi"}`,
		`{"name":"Ada","email":"a@b.c","message":"hi"}`,
		`{"name":"Ada","email":"ada@example.com","message":""}`,
		`{"name":"Ada","email":"ada@example.com","message":"` + strings.Repeat("m", 2001) + `"}`,
	}
	for _, body := range bodies {
		rec := serve(h, newSubmit(body, allowedOrigin))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "Invalid fields"}, decodeBody(t, rec))
	}
	assert.Zero(t, sender.count())
}

func TestOptionalMessageVariant(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RequireMessage = false
	sender := &fakeSender{}

	rec := serve(NewHandler(cfg, sender), newSubmit(`{"name":"Ada","email":"ada@example.com"}`, allowedOrigin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sender.count())
}

func TestHoneypotNotRelayed(t *testing.T) {
	tests := []struct {
		name     string
		honeypot string
	}{
		{"Text", "gotcha"},
		{"Single space", " "},
		{"Tab", "\\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			body := `{"name":"Bot","email":"bot@example.com","message":"buy","_honeypot":"` + tt.honeypot + `"}`

			rec := serve(NewHandler(testConfig(), sender), newSubmit(body, allowedOrigin))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, true, decodeBody(t, rec)["success"])
			assert.Zero(t, sender.count())
		})
	}
}

func TestWrongFieldTypeIsInvalidFields(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(testConfig(), sender)

	for _, body := range []string{
		`{"name":123,"email":"ada@example.com","message":"hi"}`,
		`{"name":"Ada","email":["ada@example.com"],"message":"hi"}`,
	} {
		rec := serve(h, newSubmit(body, allowedOrigin))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid fields", decodeBody(t, rec)["error"])
	}
	assert.Zero(t, sender.count())
}

func TestRelayFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("dial tcp 10.0.0.5:587: connection refused")}

	rec := serve(NewHandler(testConfig(), sender), newSubmit(validBody, allowedOrigin))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to send message", decodeBody(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestHealthIsOpenToAnyOrigin(t *testing.T) {
	h := NewHandler(testConfig(), &fakeSender{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://not-listed.example.org")
	rec := serve(h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(h, httptest.NewRequest(http.MethodOptions, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodDelete, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouterRecoversFromPanic(t *testing.T) {
	router := NewRouter(NewHandler(testConfig(), &fakeSender{panic: true}))

	var rec *httptest.ResponseRecorder
	require.NotPanics(t, func() {
		rec = serve(router, newSubmit(validBody, allowedOrigin))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeBody(t, rec)["error"])
}

func TestRouterPanicReportCarriesRequestID(t *testing.T) {
	var reported string
	prev := reportPanic
	reportPanic = func(r *http.Request, _ any) { reported = RequestIDFrom(r.Context()) }
	t.Cleanup(func() { reportPanic = prev })

	router := NewRouter(NewHandler(testConfig(), &fakeSender{panic: true}))
	req := newSubmit(validBody, allowedOrigin)
	req.Header.Set("X-Request-ID", "req-42")

	rec := serve(router, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-42", reported)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRouterRequestID(t *testing.T) {
	router := NewRouter(NewHandler(testConfig(), &fakeSender{}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", serve(router, req).Header().Get("X-Request-ID"))

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}
