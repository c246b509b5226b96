// Package contact holds the wire payload exchanged between the submission
// controller and the intake endpoint, and the field rules both sides share.
package contact

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLen    = 100
	MaxEmailLen   = 254
	MaxMessageLen = 2000
)

// ErrInvalidFields is the only validation error, so callers never
// learn which field failed.
var ErrInvalidFields = errors.New("invalid fields")

// emailPattern rejects empty parts, leading/trailing/consecutive dots and a
// final domain label shorter than two letters.
var emailPattern = regexp.MustCompile(
	"^[A-Za-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[A-Za-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
		"@(?:[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?\\.)+[A-Za-z]{2,}$")

// Request is the JSON body POSTed to the intake endpoint.
type Request struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Message  string `json:"message"`
	Honeypot string `json:"_honeypot,omitempty"`
}

// Trimmed returns a copy with surrounding whitespace removed from the visible
// fields. The honeypot is kept as sent.
func (r Request) Trimmed() Request {
	return Request{
		Name:     strings.TrimSpace(r.Name),
		Email:    strings.TrimSpace(r.Email),
		Message:  strings.TrimSpace(r.Message),
		Honeypot: r.Honeypot,
	}
}

// IsBot reports whether the hidden honeypot field carries anything at all,
// whitespace included.
func (r Request) IsBot() bool {
	return r.Honeypot != ""
}

// IsValidEmail checks the conservative address shape accepted by the endpoint.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLen {
		return false
	}
	return emailPattern.MatchString(email)
}

// ValidatePayload trims the request and checks every field. The returned
// request is the trimmed form; validating it again yields the same result.
func ValidatePayload(r Request, requireMessage bool) (Request, error) {
	r = r.Trimmed()

	if n := utf8.RuneCountInString(r.Name); n < 1 || n > MaxNameLen {
		return Request{}, ErrInvalidFields
	}
	if !IsValidEmail(r.Email) {
		return Request{}, ErrInvalidFields
	}
	n := utf8.RuneCountInString(r.Message)
	if n > MaxMessageLen || (requireMessage && n == 0) {
		return Request{}, ErrInvalidFields
	}
	return r, nil
}
