// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"github.com/cesaregarza/splatnet3-auth/internal/attest"
	"github.com/cesaregarza/splatnet3-auth/internal/config"
	"github.com/cesaregarza/splatnet3-auth/internal/lifecycle"
	"github.com/cesaregarza/splatnet3-auth/internal/nso"
	"github.com/cesaregarza/splatnet3-auth/internal/store"
	"github.com/cesaregarza/splatnet3-auth/internal/token"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config   *config.Config
	Logger   hclog.Logger
	Store    *store.Store
	Client   *nso.Client
	Manager  *lifecycle.Manager
	Keychain *token.Keychain

	// Flags holds the global flag values
	Flags GlobalFlags
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	JSON      bool
	Verbose   int
	FTokenURL string
	StoreDir  string
	NoKeyring bool
}

// NewApp wires up the application: config, logger, credential store,
// vendor client, and the lifecycle manager, with the keychain seeded from
// the persisted store and then from the environment.
func NewApp(cfg *config.Config) (*App, error) {
	logger := newLogger(cfg)

	st := store.NewStore(cfg.StoreDir, cfg.NoKeyring)
	creds, err := st.Load()
	if err != nil {
		return nil, err
	}

	keychain := token.NewKeychain()
	seedFromStore(keychain, creds)
	seedFromEnv(keychain)

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 30 * time.Second

	attestor := newAttestor(cfg, httpClient, logger)

	clientOpts := []nso.ClientOption{
		nso.WithHTTPClient(httpClient),
		nso.WithAttestor(attestor),
		nso.WithLogger(logger.Named("nso")),
	}
	if cfg.UserAgent != "" {
		clientOpts = append(clientOpts, nso.WithUserAgent(cfg.UserAgent))
	}
	if cfg.AppVersion != "" {
		clientOpts = append(clientOpts, nso.WithAppVersion(cfg.AppVersion))
	}
	client := nso.NewClient(clientOpts...)

	mgr := lifecycle.NewManager(keychain, client, logger.Named("lifecycle"))
	if creds.AccountID != "" {
		mgr.SetProfile(nso.Profile{
			AccountID: creds.AccountID,
			Country:   creds.Country,
			Language:  creds.Language,
			Birthday:  creds.Birthday,
		})
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Client:   client,
		Manager:  mgr,
		Keychain: keychain,
	}, nil
}

func newLogger(cfg *config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "sn3",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: os.Stderr,
	})
}

func newAttestor(cfg *config.Config, httpClient *http.Client, logger hclog.Logger) attest.Attestor {
	providers := attest.DefaultProviders()
	if len(cfg.FTokenURLs) > 0 {
		providers = providers[:0]
		for _, u := range cfg.FTokenURLs {
			providers = append(providers, attest.Provider{Name: u, URL: u})
		}
	}
	opts := []attest.Option{
		attest.WithHTTPClient(httpClient),
		attest.WithLogger(logger.Named("attest")),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, attest.WithUserAgent(cfg.UserAgent))
	}
	return attest.NewService(providers, opts...)
}

func seedFromStore(kc *token.Keychain, creds *store.Credentials) {
	if creds.SessionToken != "" {
		kc.Add(token.New(creds.SessionToken, token.Session, time.Time{}))
	}
	if creds.GToken != "" {
		kc.Add(token.New(creds.GToken, token.Game, creds.GTokenIssued))
	}
	if creds.BulletToken != "" {
		kc.Add(token.New(creds.BulletToken, token.Bullet, creds.BulletIssued))
	}
}

// seedFromEnv lets environment variables override stored tokens. Tokens
// arriving this way have no recorded issue time; they are treated as fresh
// and the first probe or exchange sorts out whether they still work.
func seedFromEnv(kc *token.Keychain) {
	if v := os.Getenv("SN3_SESSION_TOKEN"); v != "" {
		kc.Add(token.New(v, token.Session, time.Time{}))
	}
	if v := os.Getenv("SN3_GTOKEN"); v != "" {
		kc.Add(token.New(v, token.Game, time.Now()))
	}
	if v := os.Getenv("SN3_BULLET_TOKEN"); v != "" {
		kc.Add(token.New(v, token.Bullet, time.Now()))
	}
}

// SaveCredentials writes the keychain and cached profile back to the store.
func (a *App) SaveCredentials() error {
	creds := &store.Credentials{}
	if tok, err := a.Keychain.Get(token.Session); err == nil {
		creds.SessionToken = tok.Value
	}
	if tok, err := a.Keychain.Get(token.Game); err == nil {
		creds.GToken = tok.Value
		creds.GTokenIssued = tok.IssuedAt
	}
	if tok, err := a.Keychain.Get(token.Bullet); err == nil {
		creds.BulletToken = tok.Value
		creds.BulletIssued = tok.IssuedAt
	}
	if p, ok := a.Manager.Profile(); ok {
		creds.AccountID = p.AccountID
		creds.Country = p.Country
		creds.Language = p.Language
		creds.Birthday = p.Birthday
	}
	return a.Store.Save(creds)
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
