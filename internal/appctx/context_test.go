package appctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesaregarza/splatnet3-auth/internal/config"
	"github.com/cesaregarza/splatnet3-auth/internal/store"
	"github.com/cesaregarza/splatnet3-auth/internal/token"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StoreDir = t.TempDir()
	cfg.NoKeyring = true
	return cfg
}

func clearTokenEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SN3_SESSION_TOKEN", "SN3_GTOKEN", "SN3_BULLET_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestNewAppEmptyStore(t *testing.T) {
	clearTokenEnv(t)
	app, err := NewApp(testConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, app.Client)
	assert.NotNil(t, app.Manager)
	assert.Equal(t, 0, app.Keychain.Len())
}

func TestNewAppSeedsFromStore(t *testing.T) {
	clearTokenEnv(t)
	cfg := testConfig(t)

	issued := time.Now().Add(-time.Hour)
	st := store.NewStore(cfg.StoreDir, true)
	require.NoError(t, st.Save(&store.Credentials{
		SessionToken: "S1",
		GToken:       "G1",
		GTokenIssued: issued,
		AccountID:    "na-1",
		Country:      "US",
		Language:     "en-US",
	}))

	app, err := NewApp(cfg)
	require.NoError(t, err)

	session, err := app.Keychain.Get(token.Session)
	require.NoError(t, err)
	assert.Equal(t, "S1", session.Value)

	game, err := app.Keychain.Get(token.Game)
	require.NoError(t, err)
	assert.Equal(t, "G1", game.Value)
	assert.False(t, game.IsExpired())

	p, ok := app.Manager.Profile()
	require.True(t, ok)
	assert.Equal(t, "na-1", p.AccountID)
}

func TestNewAppPinsConfiguredAppVersion(t *testing.T) {
	clearTokenEnv(t)
	cfg := testConfig(t)
	cfg.AppVersion = "3.1.4"

	app, err := NewApp(cfg)
	require.NoError(t, err)

	// pinned version is served from the client without a store fetch
	assert.Equal(t, "3.1.4", app.Client.AppVersion(context.Background()))
}

func TestNewAppEnvOverridesStore(t *testing.T) {
	clearTokenEnv(t)
	cfg := testConfig(t)

	st := store.NewStore(cfg.StoreDir, true)
	require.NoError(t, st.Save(&store.Credentials{SessionToken: "stored"}))
	t.Setenv("SN3_SESSION_TOKEN", "from-env")

	app, err := NewApp(cfg)
	require.NoError(t, err)

	session, err := app.Keychain.Get(token.Session)
	require.NoError(t, err)
	assert.Equal(t, "from-env", session.Value)
}

func TestSaveCredentialsRoundTrip(t *testing.T) {
	clearTokenEnv(t)
	cfg := testConfig(t)

	app, err := NewApp(cfg)
	require.NoError(t, err)

	app.Keychain.Add(token.New("S1", token.Session, time.Time{}))
	app.Keychain.Add(token.New("G1", token.Game, time.Now()))
	require.NoError(t, app.SaveCredentials())

	again, err := NewApp(cfg)
	require.NoError(t, err)

	session, err := again.Keychain.Get(token.Session)
	require.NoError(t, err)
	assert.Equal(t, "S1", session.Value)

	game, err := again.Keychain.Get(token.Game)
	require.NoError(t, err)
	assert.Equal(t, "G1", game.Value)
}

func TestAppContextRoundTrip(t *testing.T) {
	clearTokenEnv(t)
	app, err := NewApp(testConfig(t))
	require.NoError(t, err)

	ctx := WithApp(context.Background(), app)
	assert.Same(t, app, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
