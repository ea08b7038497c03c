package token

import (
	"time"

	"github.com/cesaregarza/splatnet3-auth/internal/output"
)

// Keychain maps a credential kind to its current token. Last write wins per
// kind; tokens are replaced whole, never partially updated. The keychain is
// not safe for concurrent use; callers are expected to serialize access
// through a single lifecycle manager.
type Keychain struct {
	tokens map[Kind]Token
}

// NewKeychain returns an empty keychain.
func NewKeychain() *Keychain {
	return &Keychain{tokens: make(map[Kind]Token)}
}

// Add stores a token, replacing any prior entry for its kind. It returns the
// stored token.
func (k *Keychain) Add(t Token) Token {
	k.tokens[t.Kind] = t
	return t
}

// AddValue wraps a raw credential value into a Token and stores it. The kind
// is required; a zero issuedAt means "now".
func (k *Keychain) AddValue(value string, kind Kind, issuedAt time.Time) (Token, error) {
	if kind == "" {
		return Token{}, output.ErrUsage("a token kind is required when adding a raw value")
	}
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	return k.Add(New(value, kind, issuedAt)), nil
}

// Get returns the current token for a kind.
func (k *Keychain) Get(kind Kind) (Token, error) {
	t, ok := k.tokens[kind]
	if !ok {
		return Token{}, output.ErrNotFound(string(kind))
	}
	return t, nil
}

// Has reports whether a usable (present and non-empty) token exists for kind.
func (k *Keychain) Has(kind Kind) bool {
	t, ok := k.tokens[kind]
	return ok && t.IsValid()
}

// Len returns the number of distinct kinds currently held.
func (k *Keychain) Len() int {
	return len(k.tokens)
}

// Export returns every held token, for persistence. Order is unspecified.
func (k *Keychain) Export() []Token {
	out := make([]Token, 0, len(k.tokens))
	for _, t := range k.tokens {
		out = append(out, t)
	}
	return out
}
