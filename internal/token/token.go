// Package token defines the credential value object and the in-memory
// keychain that holds the current credential of each kind.
package token

import (
	"fmt"
	"time"
)

// Kind identifies a credential slot. Values match the vendor's storage names
// so persisted credentials stay interoperable with other tooling.
type Kind string

const (
	// Session is the long-lived credential obtained out of band via the
	// user consent flow. It is consumed, never derived.
	Session Kind = "session_token"

	// Game is the medium-lived derived credential ("gtoken") required to
	// reach the SplatNet web service.
	Game Kind = "gtoken"

	// Bullet is the short-lived derived credential ("bullet token")
	// required for per-request API calls.
	Bullet Kind = "bullet_token"
)

// Forever is the TTL sentinel for credentials with no practical expiry.
const Forever = 100 * 365 * 24 * time.Hour

// TTLFor returns the expiration policy for a credential kind.
func TTLFor(kind Kind) time.Duration {
	switch kind {
	case Game:
		return 6*time.Hour + 30*time.Minute
	case Bullet:
		return 2 * time.Hour
	default:
		return Forever
	}
}

// Token is an immutable credential value: the opaque secret, its kind, and
// when it was issued. The empty string is a valid value meaning "explicitly
// invalid".
type Token struct {
	Value    string
	Kind     Kind
	IssuedAt time.Time
	TTL      time.Duration
}

// New creates a Token with the expiration policy for its kind.
func New(value string, kind Kind, issuedAt time.Time) Token {
	return Token{
		Value:    value,
		Kind:     kind,
		IssuedAt: issuedAt,
		TTL:      TTLFor(kind),
	}
}

// ExpiresAt returns the instant the token stops being usable.
func (t Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// IsValid reports whether the token carries a usable value. This is a
// rudimentary check; the backend has the final say.
func (t Token) IsValid() bool {
	return t.Value != ""
}

// IsExpired reports whether the token's TTL has elapsed.
func (t Token) IsExpired() bool {
	return t.TimeRemaining() <= 0
}

// TimeRemaining returns the time left before expiry; negative once expired.
// A token with no recorded issue time never reads as expired locally; the
// backend decides.
func (t Token) TimeRemaining() time.Duration {
	if t.IssuedAt.IsZero() {
		return Forever
	}
	return time.Until(t.ExpiresAt())
}

// RemainingString renders the time left in a human-friendly form for
// status output.
func (t Token) RemainingString() string {
	left := t.TimeRemaining()
	if left <= 0 {
		return "expired"
	}
	if left > 100000*time.Hour {
		return "basically forever"
	}
	left = left.Round(time.Second)
	hours := int(left.Hours())
	mins := int(left.Minutes()) % 60
	secs := int(left.Seconds()) % 60

	out := ""
	if hours > 0 {
		out += fmt.Sprintf("%dh ", hours)
	}
	if mins > 0 {
		out += fmt.Sprintf("%dm ", mins)
	}
	if secs > 0 || out == "" {
		out += fmt.Sprintf("%ds", secs)
	}
	return trimTrailingSpace(out)
}

// String redacts the secret so tokens are safe to log.
func (t Token) String() string {
	v := t.Value
	if len(v) > 5 {
		v = v[:5] + "..."
	}
	return fmt.Sprintf("Token(%s, %s, expires in %s)", t.Kind, v, t.RemainingString())
}

func trimTrailingSpace(s string) string {
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
