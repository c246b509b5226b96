package contact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected bool
	}{
		{"Simple", "user@example.com", true},
		{"Dotted local and multi-label domain", "user.name@example.co.uk", true},
		{"Plus tag", "user+cv@example.dev", true},
		{"Single letter TLD", "a@b.c", false},
		{"Missing local part", "@example.com", false},
		{"Missing domain", "user@", false},
		{"Leading dot", ".user@example.com", false},
		{"Trailing dot in local part", "user.@example.com", false},
		{"Consecutive dots", "user..name@example.com", false},
		{"Consecutive dots in domain", "user@example..com", false},
		{"No at sign", "userexample.com", false},
		{"Empty string", "", false},
		{"Too long", strings.Repeat("a", 250) + "@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidEmail(tt.email)
			if got != tt.expected {
				t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.expected)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	valid := Request{Name: "  Ada Lovelace ", Email: " ada@example.com", Message: " Hello \n"}

	tests := []struct {
		name           string
		req            Request
		requireMessage bool
		wantErr        bool
	}{
		{"Valid", valid, true, false},
		{"Empty name", Request{Name: "   ", Email: "ada@example.com", Message: "hi"}, true, true},
		{"Long name", Request{Name: strings.Repeat("n", MaxNameLen+1), Email: "ada@example.com", Message: "hi"}, true, true},
		{"Name at limit", Request{Name: strings.Repeat("n", MaxNameLen), Email: "ada@example.com", Message: "hi"}, true, false},
		{"Bad email", Request{Name: "Ada", Email: "ada@", Message: "hi"}, true, true},
		{"Long message", Request{Name: "Ada", Email: "ada@example.com", Message: strings.Repeat("m", MaxMessageLen+1)}, true, true},
		{"Missing required message", Request{Name: "Ada", Email: "ada@example.com"}, true, true},
		{"Missing optional message", Request{Name: "Ada", Email: "ada@example.com"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePayload(tt.req, tt.requireMessage)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFields)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePayloadTrimsAndIsIdempotent(t *testing.T) {
	first, err := ValidatePayload(Request{Name: "  Ada ", Email: " ada@example.com ", Message: "\tHi there  "}, true)
	require.NoError(t, err)
	assert.Equal(t, Request{Name: "Ada", Email: "ada@example.com", Message: "Hi there"}, first)

	second, err := ValidatePayload(first, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIsBot(t *testing.T) {
	assert.False(t, Request{}.IsBot())
	assert.True(t, Request{Honeypot: "http://spam.example"}.Trimmed().IsBot())
	assert.True(t, Request{Honeypot: "   "}.Trimmed().IsBot())
	assert.Equal(t, " \t", Request{Honeypot: " \t"}.Trimmed().Honeypot)
	assert.False(t, Request{Name: " Ada "}.Trimmed().IsBot())
}
