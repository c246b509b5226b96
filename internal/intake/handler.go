// Package intake implements the HTTP endpoint that accepts interest
// submissions from allowed front-end origins and relays them by email.
package intake

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"portfoliorelay/internal/config"
	"portfoliorelay/internal/contact"
	"portfoliorelay/internal/relay"

	"github.com/LixenWraith/logger"
	"golang.org/x/time/rate"
)

// Handler runs every submission through the gates in a fixed order: health,
// origin, preflight, route, throttle, rate limit, body size, parse,
// validation, relay.
type Handler struct {
	submitPath     string
	healthPath     string
	allowed        map[string]struct{}
	maxBody        int64
	requireMessage bool
	trustProxy     bool
	smtp           config.SMTPConfig

	sender   relay.Sender
	limiter  *RateLimiter
	throttle *rate.Limiter
}

// Option customises a Handler.
type Option func(*Handler)

// WithRateLimiter enables the per-client sliding window. Without it the
// endpoint suits a stateless deployment but has no per-client abuse limit.
func WithRateLimiter(l *RateLimiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithThrottle enables the process-wide token bucket.
func WithThrottle(l *rate.Limiter) Option {
	return func(h *Handler) { h.throttle = l }
}

func NewHandler(cfg *config.Config, sender relay.Sender, opts ...Option) *Handler {
	allowed := make(map[string]struct{}, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[normalizeOrigin(o)] = struct{}{}
	}

	h := &Handler{
		submitPath:     cfg.Server.SubmitPath,
		healthPath:     cfg.Server.HealthPath,
		allowed:        allowed,
		maxBody:        int64(cfg.Server.MaxBodyBytes),
		requireMessage: cfg.Server.RequireMessage,
		trustProxy:     cfg.Server.TrustProxy,
		smtp:           cfg.SMTP,
		sender:         sender,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wraps h with the request-scoped middleware.
func NewRouter(h http.Handler) http.Handler {
	return RequestID(Recover(AccessLog(h)))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFrom(ctx)

	if r.URL.Path == h.healthPath {
		h.serveHealth(w, r)
		return
	}

	origin := r.Header.Get("Origin")
	header := w.Header()
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	header.Set("Access-Control-Max-Age", "86400")
	header.Add("Vary", "Origin")

	// Requests without Origin come from non-browser clients and pass through.
	if origin != "" {
		if !h.originAllowed(origin) {
			logger.Warn(ctx, "Invalid origin", "origin", origin, "request_id", requestID)
			writeError(w, http.StatusForbidden, "Origin not allowed")
			return
		}
		header.Set("Access-Control-Allow-Origin", origin)
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Path != h.submitPath {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	if r.Method != http.MethodPost {
		logger.Warn(ctx, "Invalid request method", "method", r.Method, "request_id", requestID)
		header.Set("Allow", "POST, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.throttle != nil && !h.throttle.Allow() {
		logger.Warn(ctx, "Global submission rate exceeded", "request_id", requestID)
		writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
		return
	}

	if h.limiter != nil {
		clientIP := ClientIP(r, h.trustProxy)
		if ok, retryAfter := h.limiter.Allow(clientIP); !ok {
			logger.Warn(ctx, "Rate limit exceeded", "client_ip", clientIP, "request_id", requestID)
			header.Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
	}

	// Oversized bodies are refused before any JSON parsing happens.
	if r.ContentLength > h.maxBody {
		logger.Warn(ctx, "Request body too large", "content_length", r.ContentLength, "request_id", requestID)
		writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		logger.Error(ctx, "Failed to read request body", "error", err.Error(), "request_id", requestID)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if int64(len(body)) > h.maxBody {
		logger.Warn(ctx, "Request body too large", "read_bytes", len(body), "request_id", requestID)
		writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
		return
	}

	var req contact.Request
	if err := json.Unmarshal(body, &req); err != nil {
		// Well-formed JSON with a wrongly typed field is a field problem.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			logger.Warn(ctx, "Form field has wrong type", "field", typeErr.Field, "request_id", requestID)
			writeError(w, http.StatusBadRequest, "Invalid fields")
			return
		}
		logger.Warn(ctx, "Failed to decode request body", "error", err.Error(), "request_id", requestID)
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// Bots get the same answer as humans and nothing is sent.
	if req.IsBot() {
		logger.Info(ctx, "Honeypot submission discarded", "request_id", requestID)
		writeJSON(w, http.StatusOK, successResponse{Success: true})
		return
	}

	valid, err := contact.ValidatePayload(req, h.requireMessage)
	if err != nil {
		logger.Warn(ctx, "Form validation failed",
			"name_length", len(req.Name),
			"email_length", len(req.Email),
			"message_length", len(req.Message),
			"request_id", requestID)
		writeError(w, http.StatusBadRequest, "Invalid fields")
		return
	}

	logger.Debug(ctx, "Received form submission",
		"name", valid.Name,
		"email", valid.Email,
		"message_length", len(valid.Message),
		"request_id", requestID)

	if err := h.sender.Send(ctx, relay.NewMailMessage(h.smtp, valid)); err != nil {
		logger.Error(ctx, "Failed to relay submission",
			"error", err.Error(),
			"timeout", errors.Is(err, relay.ErrTimeout),
			"request_id", requestID)
		writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}

	logger.Info(ctx, "Form submission relayed successfully",
		"name", valid.Name,
		"email", valid.Email,
		"request_id", requestID)

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// serveHealth is open to every origin so a front end can tell a deployed but
// misconfigured endpoint apart from a missing one.
func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		header.Set("Allow", "GET, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) originAllowed(origin string) bool {
	_, ok := h.allowed[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
