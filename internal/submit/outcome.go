package submit

import "fmt"

// State is the form lifecycle position.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Cause says why a submission ended in StateError.
type Cause int

const (
	CauseNone Cause = iota
	CauseUnavailable
	CauseOffline
	CauseInvalid
	CauseTimeout
	CauseRateLimited
	CauseRejected
	CauseServer
	CauseNotDeployed
	CauseCORS
	CauseNetwork
	CauseUnknown
	CauseCanceled
)

var causeNames = map[Cause]string{
	CauseNone:        "none",
	CauseUnavailable: "unavailable",
	CauseOffline:     "offline",
	CauseInvalid:     "invalid",
	CauseTimeout:     "timeout",
	CauseRateLimited: "rate_limited",
	CauseRejected:    "rejected",
	CauseServer:      "server",
	CauseNotDeployed: "not_deployed",
	CauseCORS:        "cors",
	CauseNetwork:     "network",
	CauseUnknown:     "unknown",
	CauseCanceled:    "canceled",
}

func (c Cause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Cause(%d)", int(c))
}

// Outcome is what the form shows. Message is only set for StateError.
type Outcome struct {
	State   State
	Cause   Cause
	Message string
}

// Messages renders each Cause as plain language with a next step.
type Messages struct {
	// FallbackEmail, when set, is offered wherever the visitor is told to
	// write directly.
	FallbackEmail string
}

func (m Messages) direct() string {
	if m.FallbackEmail == "" {
		return "email me directly"
	}
	return "email me directly at " + m.FallbackEmail
}

func (m Messages) For(c Cause) string {
	switch c {
	case CauseNone:
		return ""
	case CauseUnavailable:
		return "The contact form is not available right now. Please " + m.direct() + "."
	case CauseOffline:
		return "You appear to be offline. Check your connection and try again."
	case CauseInvalid:
		return "Please check your name, email address and message, then try again."
	case CauseTimeout:
		return "The server took too long to respond. Please try again in a moment."
	case CauseRateLimited:
		return "You have sent several messages recently. Please wait a while or " + m.direct() + "."
	case CauseRejected:
		return "Your message could not be accepted. Please check your details and try again."
	case CauseServer:
		return "The server could not send your message. Please try again later or " + m.direct() + "."
	case CauseNotDeployed:
		return "The message service is not running at the moment. Please " + m.direct() + "."
	case CauseCORS:
		return "The message service refused requests from this site. Please " + m.direct() + " while this is fixed."
	case CauseNetwork:
		return "Could not reach the server. Check your connection and try again."
	case CauseCanceled:
		return "Sending was cancelled. Please try again."
	case CauseUnknown:
		return "Could not reach the server. Please try again or " + m.direct() + "."
	default:
		return "Something went wrong. Please try again or " + m.direct() + "."
	}
}
