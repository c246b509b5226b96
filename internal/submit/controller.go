// Package submit drives the contact form from the visitor's side: it shapes
// input, posts it to the intake endpoint with a timeout and a single retry,
// and turns failures into a short list of actionable messages.
package submit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"portfoliorelay/internal/config"
	"portfoliorelay/internal/contact"
	"portfoliorelay/internal/eventlog"
)

// Draft is the form as the visitor filled it in. Honeypot is the hidden field.
type Draft struct {
	Name     string
	Email    string
	Message  string
	Honeypot string
}

type Options struct {
	EndpointURL    string
	HealthURL      string
	PageOrigin     string
	FallbackEmail  string
	RequireMessage bool

	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	RetryDelay     time.Duration
	MaxAttempts    int
	DismissDelay   time.Duration

	Client       Doer
	Clock        Clock
	Connectivity Connectivity
	Events       *eventlog.Ring
}

// OptionsFromConfig maps the client section of the configuration.
func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		EndpointURL:    cfg.EndpointURL,
		HealthURL:      cfg.HealthURL,
		PageOrigin:     cfg.PageOrigin,
		FallbackEmail:  cfg.FallbackEmail,
		RequireMessage: cfg.RequireMessage,
		RequestTimeout: cfg.RequestTimeout,
		ProbeTimeout:   cfg.ProbeTimeout,
		RetryDelay:     cfg.RetryDelay,
		MaxAttempts:    cfg.MaxAttempts,
		DismissDelay:   cfg.DismissDelay,
	}
}

// Controller owns one form instance. At most one submission is in flight at
// a time, and only the latest attempt may change the outcome.
type Controller struct {
	opts      Options
	messages  Messages
	transport *Transport
	diagnoser *Diagnoser

	mu      sync.Mutex
	outcome Outcome
	draft   Draft
	seq     uint64
	dismiss Timer
	subs    map[int]func(Outcome)
	nextSub int
}

func New(opts Options) *Controller {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.DismissDelay <= 0 {
		opts.DismissDelay = 8 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Connectivity == nil {
		opts.Connectivity = AlwaysOnline
	}

	transport := NewTransport(opts.Client, opts.PageOrigin)
	return &Controller{
		opts:      opts,
		messages:  Messages{FallbackEmail: opts.FallbackEmail},
		transport: transport,
		diagnoser: NewDiagnoser(transport, opts.HealthURL, opts.ProbeTimeout, opts.Clock),
		subs:      make(map[int]func(Outcome)),
	}
}

// Outcome returns the current form state.
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Draft returns the fields as last submitted; cleared after a success.
func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Subscribe registers fn for every outcome change.
func (c *Controller) Subscribe(fn func(Outcome)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Submit runs one submission to a terminal outcome. A call made while
// another submission is outstanding returns the submitting outcome unchanged.
func (c *Controller) Submit(ctx context.Context, d Draft) Outcome {
	c.mu.Lock()
	if c.outcome.State == StateSubmitting {
		current := c.outcome
		c.mu.Unlock()
		return current
	}
	c.stopDismissLocked()
	c.seq++
	seq := c.seq
	c.draft = d

	if o, note, done := c.precheck(d); done {
		o = c.finishLocked(seq, o)
		c.log(eventlog.LevelWarn, note)
		return o
	}

	c.outcome = Outcome{State: StateSubmitting}
	notify := c.snapshotSubsLocked()
	c.mu.Unlock()
	c.emit(notify, Outcome{State: StateSubmitting})

	o := c.execute(ctx, toRequest(d))

	c.mu.Lock()
	return c.finishLocked(seq, o)
}

// Dismiss clears an error outcome back to idle.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	c.stopDismissLocked()
	if c.outcome.State != StateError {
		c.mu.Unlock()
		return
	}
	c.outcome = Outcome{State: StateIdle}
	notify := c.snapshotSubsLocked()
	c.mu.Unlock()
	c.emit(notify, Outcome{State: StateIdle})
}

// Reset returns the form to idle ("send another"). Results of any attempt
// still in flight are discarded when they arrive.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.stopDismissLocked()
	c.seq++
	c.draft = Draft{}
	c.outcome = Outcome{State: StateIdle}
	notify := c.snapshotSubsLocked()
	c.mu.Unlock()
	c.emit(notify, Outcome{State: StateIdle})
}

// precheck handles every case decided without touching the network. Called
// with c.mu held, so it returns its log line instead of publishing it.
func (c *Controller) precheck(d Draft) (Outcome, string, bool) {
	if d.Honeypot != "" {
		return Outcome{State: StateSuccess}, "Honeypot filled, skipping network", true
	}
	if c.opts.EndpointURL == "" {
		return c.failure(CauseUnavailable), "No endpoint configured", true
	}
	if !c.opts.Connectivity.Online() {
		return c.failure(CauseOffline), "Device offline, skipping network", true
	}
	if _, err := contact.ValidatePayload(toRequest(d), c.opts.RequireMessage); err != nil {
		return c.failure(CauseInvalid), "Draft failed local validation", true
	}
	return Outcome{}, "", false
}

// execute performs up to MaxAttempts posts. Only opaque transport failures
// are retried; timeouts and HTTP error statuses are final.
func (c *Controller) execute(ctx context.Context, req contact.Request) Outcome {
	for attempt := 1; ; attempt++ {
		c.log(eventlog.LevelInfo, "Sending submission", "attempt", attempt, "endpoint", c.opts.EndpointURL)
		err := c.attempt(ctx, req)

		var statusErr *StatusError
		switch {
		case err == nil:
			c.log(eventlog.LevelInfo, "Submission accepted", "attempt", attempt)
			return Outcome{State: StateSuccess}
		case errors.Is(err, ErrTimeout):
			c.log(eventlog.LevelError, "Submission timed out", "attempt", attempt)
			return c.failure(CauseTimeout)
		case errors.As(err, &statusErr):
			c.log(eventlog.LevelError, "Submission rejected", "attempt", attempt, "status", statusErr.Code)
			return c.failure(causeForStatus(statusErr.Code))
		case ctx.Err() != nil:
			return c.failure(CauseCanceled)
		}

		c.log(eventlog.LevelWarn, "Submission failed in transport", "attempt", attempt, "error", err.Error())
		if attempt >= c.opts.MaxAttempts {
			break
		}
		select {
		case <-c.opts.Clock.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return c.failure(CauseCanceled)
		}
	}

	if !c.opts.Connectivity.Online() {
		return c.failure(CauseOffline)
	}
	cause := c.diagnoser.Diagnose(ctx)
	c.log(eventlog.LevelInfo, "Failure diagnosed", "cause", cause.String())
	return c.failure(cause)
}

func (c *Controller) attempt(ctx context.Context, req contact.Request) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := c.opts.Clock.AfterFunc(c.opts.RequestTimeout, func() { cancel(ErrTimeout) })
	defer func() {
		timer.Stop()
		cancel(nil)
	}()
	return c.transport.Post(attemptCtx, c.opts.EndpointURL, req)
}

// finishLocked applies o if seq is still the latest attempt, arms the
// auto-dismiss for errors and releases c.mu.
func (c *Controller) finishLocked(seq uint64, o Outcome) Outcome {
	if seq != c.seq {
		c.mu.Unlock()
		c.log(eventlog.LevelDebug, "Discarding stale result", "state", o.State.String())
		return o
	}

	c.outcome = o
	switch o.State {
	case StateSuccess:
		c.draft = Draft{}
	case StateError:
		c.dismiss = c.opts.Clock.AfterFunc(c.opts.DismissDelay, func() { c.autoDismiss(seq) })
	case StateIdle, StateSubmitting:
	}
	notify := c.snapshotSubsLocked()
	c.mu.Unlock()

	c.emit(notify, o)
	return o
}

func (c *Controller) autoDismiss(seq uint64) {
	c.mu.Lock()
	if seq != c.seq || c.outcome.State != StateError {
		c.mu.Unlock()
		return
	}
	c.dismiss = nil
	c.outcome = Outcome{State: StateIdle}
	notify := c.snapshotSubsLocked()
	c.mu.Unlock()
	c.emit(notify, Outcome{State: StateIdle})
}

func (c *Controller) stopDismissLocked() {
	if c.dismiss != nil {
		c.dismiss.Stop()
		c.dismiss = nil
	}
}

func (c *Controller) snapshotSubsLocked() []func(Outcome) {
	subs := make([]func(Outcome), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (c *Controller) emit(subs []func(Outcome), o Outcome) {
	c.log(eventlog.LevelDebug, "Outcome changed", "state", o.State.String(), "cause", o.Cause.String())
	for _, fn := range subs {
		fn(o)
	}
}

func (c *Controller) failure(cause Cause) Outcome {
	return Outcome{State: StateError, Cause: cause, Message: c.messages.For(cause)}
}

func (c *Controller) log(level eventlog.Level, msg string, kv ...any) {
	c.opts.Events.Log(level, msg, kv...)
}

func causeForStatus(code int) Cause {
	switch {
	case code == http.StatusTooManyRequests:
		return CauseRateLimited
	case code >= 500:
		return CauseServer
	default:
		return CauseRejected
	}
}

func toRequest(d Draft) contact.Request {
	return contact.Request{Name: d.Name, Email: d.Email, Message: d.Message}.Trimmed()
}
