package commands

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesaregarza/splatnet3-auth/internal/appctx"
	"github.com/cesaregarza/splatnet3-auth/internal/config"
	"github.com/cesaregarza/splatnet3-auth/internal/output"
	"github.com/cesaregarza/splatnet3-auth/internal/store"
	"github.com/cesaregarza/splatnet3-auth/internal/token"
)

func testApp(t *testing.T) *appctx.App {
	t.Helper()
	for _, k := range []string{"SN3_SESSION_TOKEN", "SN3_GTOKEN", "SN3_BULLET_TOKEN"} {
		t.Setenv(k, "")
	}
	cfg := config.Default()
	cfg.StoreDir = t.TempDir()
	cfg.NoKeyring = true

	app, err := appctx.NewApp(cfg)
	require.NoError(t, err)
	return app
}

// runWithApp executes cmd's RunE with app wired on the context, stdin fed
// from in.
func runWithApp(t *testing.T, app *appctx.App, cmd *cobra.Command, in string, args ...string) error {
	t.Helper()
	ctx := appctx.WithApp(context.Background(), app)
	cmd.SetContext(ctx)
	cmd.SetIn(strings.NewReader(in))
	cmd.SetArgs(args)
	if err := cmd.ParseFlags(args); err != nil {
		return err
	}
	return cmd.RunE(cmd, cmd.Flags().Args())
}

func TestAuthStatusRuns(t *testing.T) {
	app := testApp(t)
	app.Keychain.Add(token.New("S1", token.Session, time.Time{}))

	require.NoError(t, runWithApp(t, app, newAuthStatusCmd(), ""))
}

func TestAuthTokenWithoutSession(t *testing.T) {
	app := testApp(t)

	err := runWithApp(t, app, newAuthTokenCmd(), "", "bullet")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestAuthTokenSessionMissing(t *testing.T) {
	app := testApp(t)

	err := runWithApp(t, app, newAuthTokenCmd(), "", "session")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeNotFound))
}

func TestAuthRegenerateWithoutSession(t *testing.T) {
	app := testApp(t)

	err := runWithApp(t, app, newAuthRegenerateCmd(), "")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestAuthImport(t *testing.T) {
	app := testApp(t)

	in := `{"session_token": "S1", "gtoken": "G1"}`
	require.NoError(t, runWithApp(t, app, newAuthImportCmd(), in))

	creds, err := app.Store.Load()
	require.NoError(t, err)
	assert.Equal(t, "S1", creds.SessionToken)
	assert.Equal(t, "G1", creds.GToken)
}

func TestAuthImportRejectsGarbage(t *testing.T) {
	app := testApp(t)

	err := runWithApp(t, app, newAuthImportCmd(), "not json")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestAuthImportRequiresSessionToken(t *testing.T) {
	app := testApp(t)

	err := runWithApp(t, app, newAuthImportCmd(), `{"gtoken": "G1"}`)
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestAuthExportRuns(t *testing.T) {
	app := testApp(t)
	require.NoError(t, app.Store.Save(&store.Credentials{SessionToken: "S1"}))

	require.NoError(t, runWithApp(t, app, newAuthExportCmd(), ""))
}

func TestAuthLogoutClearsStore(t *testing.T) {
	app := testApp(t)
	require.NoError(t, app.Store.Save(&store.Credentials{SessionToken: "S1"}))

	require.NoError(t, runWithApp(t, app, newAuthLogoutCmd(), ""))

	creds, err := app.Store.Load()
	require.NoError(t, err)
	assert.Empty(t, creds.SessionToken)
}

func TestStatusFor(t *testing.T) {
	app := testApp(t)
	app.Keychain.Add(token.New("G1", token.Game, time.Now()))
	app.Keychain.Add(token.New("old", token.Bullet, time.Now().Add(-3*time.Hour)))

	game := statusFor(app.Manager, token.Game)
	assert.True(t, game.Present)
	assert.False(t, game.Expired)

	bullet := statusFor(app.Manager, token.Bullet)
	assert.True(t, bullet.Present)
	assert.True(t, bullet.Expired)

	session := statusFor(app.Manager, token.Session)
	assert.False(t, session.Present)
}
