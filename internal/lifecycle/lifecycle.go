// Package lifecycle owns the regeneration policy for the credential chain.
// It decides when to reuse a cached token, when to re-derive, and when to
// give up; the nso client does the actual exchanges.
package lifecycle

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/cesaregarza/splatnet3-auth/internal/nso"
	"github.com/cesaregarza/splatnet3-auth/internal/output"
	"github.com/cesaregarza/splatnet3-auth/internal/token"
)

// Deriver is the slice of the nso client the manager needs.
type Deriver interface {
	DeriveGame(ctx context.Context, sessionToken string) (*nso.GameDerivation, error)
	DeriveBullet(ctx context.Context, gameToken string, p nso.Profile) (string, error)
	Probe(ctx context.Context, gameToken, bulletToken string, p nso.Profile) error
}

// Manager holds the keychain and applies the regeneration policy. It is not
// safe for concurrent use; callers drive it from a single goroutine.
type Manager struct {
	keychain *token.Keychain
	client   Deriver
	logger   hclog.Logger

	// profile is cached from the last game derivation. The bullet exchange
	// needs it, so a nil profile forces a game re-derivation even when the
	// cached game token looks valid.
	profile *nso.Profile
}

func NewManager(keychain *token.Keychain, client Deriver, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{keychain: keychain, client: client, logger: logger}
}

// SetProfile seeds the cached profile, typically from the persisted store so
// a fresh process can mint bullet tokens without re-running the full chain.
func (m *Manager) SetProfile(p nso.Profile) {
	m.profile = &p
}

// Profile returns the cached profile, if a derivation has produced one.
func (m *Manager) Profile() (nso.Profile, bool) {
	if m.profile == nil {
		return nso.Profile{}, false
	}
	return *m.profile, true
}

// Keychain exposes the managed keychain.
func (m *Manager) Keychain() *token.Keychain {
	return m.keychain
}

func (m *Manager) sessionToken() (token.Token, error) {
	tok, err := m.keychain.Get(token.Session)
	if err != nil {
		return token.Token{}, output.ErrUsageHint("no session token available",
			"run \"sn3 auth login\" or set SN3_SESSION_TOKEN")
	}
	return tok, nil
}

// EnsureGameToken makes sure a usable game token is in the keychain,
// deriving one only when the cached token is missing or expired.
func (m *Manager) EnsureGameToken(ctx context.Context) error {
	return m.ensureGame(ctx, false)
}

func (m *Manager) ensureGame(ctx context.Context, force bool) error {
	// Without a session token no regeneration is possible, so a missing one
	// is fatal up front even when the cached game token still looks fresh.
	session, err := m.sessionToken()
	if err != nil {
		return err
	}

	if !force && m.profile != nil {
		if tok, err := m.keychain.Get(token.Game); err == nil && tok.IsValid() && !tok.IsExpired() {
			m.logger.Debug("reusing cached game token", "remaining", tok.RemainingString())
			return nil
		}
	}

	m.logger.Info("deriving game token")
	out, err := m.client.DeriveGame(ctx, session.Value)
	if err != nil {
		return err
	}
	m.keychain.Add(token.New(out.GameToken, token.Game, time.Now()))
	m.profile = &out.Profile
	return nil
}

// EnsureBulletToken makes sure a usable bullet token is in the keychain. A
// missing or expired bullet token triggers a new bullet exchange, which in
// turn may require re-deriving the game token first.
func (m *Manager) EnsureBulletToken(ctx context.Context) error {
	if tok, err := m.keychain.Get(token.Bullet); err == nil && tok.IsValid() && !tok.IsExpired() {
		m.logger.Debug("reusing cached bullet token", "remaining", tok.RemainingString())
		return nil
	}
	return m.deriveBullet(ctx)
}

func (m *Manager) deriveBullet(ctx context.Context) error {
	if err := m.ensureGame(ctx, false); err != nil {
		return err
	}
	game, err := m.keychain.Get(token.Game)
	if err != nil {
		return err
	}

	m.logger.Info("deriving bullet token")
	bullet, err := m.client.DeriveBullet(ctx, game.Value, *m.profile)
	if err != nil {
		return err
	}
	m.keychain.Add(token.New(bullet, token.Bullet, time.Now()))
	return nil
}

// RegenerateAll re-runs the full chain from the session token, discarding
// any cached derived tokens. The session token itself is never regenerated;
// only a new consent flow can produce one.
func (m *Manager) RegenerateAll(ctx context.Context) error {
	if err := m.ensureGame(ctx, true); err != nil {
		return err
	}
	game, err := m.keychain.Get(token.Game)
	if err != nil {
		return err
	}
	bullet, err := m.client.DeriveBullet(ctx, game.Value, *m.profile)
	if err != nil {
		return err
	}
	m.keychain.Add(token.New(bullet, token.Bullet, time.Now()))
	return nil
}

// Validate confirms the derived credentials are accepted by the backend. It
// probes once, and on rejection regenerates the whole chain and probes one
// more time. A second rejection is terminal; fresh credentials that still
// fail point at a problem regeneration cannot fix.
func (m *Manager) Validate(ctx context.Context) error {
	if err := m.EnsureBulletToken(ctx); err != nil {
		return err
	}
	if err := m.probe(ctx); err == nil {
		return nil
	} else if ctx.Err() != nil || output.IsCode(err, output.CodeNetwork) {
		// Only a rejection from the backend escalates to regeneration. An
		// unreachable backend says nothing about the credentials.
		return err
	} else {
		m.logger.Warn("probe rejected current credentials, regenerating", "error", err)
	}

	if err := m.RegenerateAll(ctx); err != nil {
		return err
	}
	if err := m.probe(ctx); err != nil {
		if output.IsCode(err, output.CodeNetwork) {
			return err
		}
		status := 0
		if oerr := output.AsError(err); oerr != nil {
			status = oerr.HTTPStatus
		}
		return output.ErrProbeFailed(status)
	}
	return nil
}

func (m *Manager) probe(ctx context.Context) error {
	game, err := m.keychain.Get(token.Game)
	if err != nil {
		return err
	}
	bullet, err := m.keychain.Get(token.Bullet)
	if err != nil {
		return err
	}
	return m.client.Probe(ctx, game.Value, bullet.Value, *m.profile)
}

// Get returns the named token from the keychain.
func (m *Manager) Get(kind token.Kind) (token.Token, error) {
	return m.keychain.Get(kind)
}

// IsValid reports whether the named token is present, non-empty, and
// unexpired.
func (m *Manager) IsValid(kind token.Kind) bool {
	tok, err := m.keychain.Get(kind)
	return err == nil && tok.IsValid() && !tok.IsExpired()
}

// ExportAll returns every token currently held.
func (m *Manager) ExportAll() []token.Token {
	return m.keychain.Export()
}
