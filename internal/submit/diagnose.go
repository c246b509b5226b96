package submit

import (
	"context"
	"errors"
	"time"
)

// Diagnoser guesses why a submission failed with ErrOpaque by probing the
// health route in both fetch modes. The guess is best effort: a CDN that
// answers unknown paths can make a missing endpoint look deployed.
type Diagnoser struct {
	transport *Transport
	healthURL string
	timeout   time.Duration
	clock     Clock
}

func NewDiagnoser(transport *Transport, healthURL string, timeout time.Duration, clock Clock) *Diagnoser {
	if clock == nil {
		clock = SystemClock
	}
	return &Diagnoser{transport: transport, healthURL: healthURL, timeout: timeout, clock: clock}
}

// Diagnose never panics and never blocks longer than two probe timeouts.
//
//	cors probe ok                      -> CauseCORS (server fine, submit blocked)
//	cors probe non-2xx                 -> CauseNotDeployed
//	cors probe failed, no-cors answers -> CauseNotDeployed
//	both probes fail                   -> CauseNetwork
func (d *Diagnoser) Diagnose(ctx context.Context) (cause Cause) {
	defer func() {
		if recover() != nil {
			cause = CauseUnknown
		}
	}()

	if d == nil || d.transport == nil || d.healthURL == "" {
		return CauseUnknown
	}

	err := d.probe(ctx, ModeCORS)
	var statusErr *StatusError
	switch {
	case err == nil:
		return CauseCORS
	case errors.As(err, &statusErr):
		return CauseNotDeployed
	case ctx.Err() != nil:
		return CauseUnknown
	}

	switch err := d.probe(ctx, ModeNoCORS); {
	case err == nil:
		return CauseNotDeployed
	case errors.Is(err, ErrOpaque), errors.Is(err, ErrTimeout):
		return CauseNetwork
	default:
		return CauseUnknown
	}
}

func (d *Diagnoser) probe(ctx context.Context, mode Mode) error {
	probeCtx, cancel := context.WithCancelCause(ctx)
	timer := d.clock.AfterFunc(d.timeout, func() { cancel(ErrTimeout) })
	defer func() {
		timer.Stop()
		cancel(nil)
	}()
	return d.transport.Get(probeCtx, d.healthURL, mode)
}
