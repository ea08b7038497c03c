// Package nso implements the Nintendo Switch Online credential derivation
// chain: session exchange, profile fetch, the two attested coral exchanges,
// and the final bullet token exchange against SplatNet 3.
package nso

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"github.com/cesaregarza/splatnet3-auth/internal/attest"
)

const (
	// clientID is the public NSO app OAuth client id. Not a secret.
	clientID = "71b963c1b7b6d119"

	// gameServiceID identifies the Splatoon 3 web service to coral.
	gameServiceID = 4834290508791808

	sessionGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer-session-token"

	// Fallbacks used when the live version sources cannot be reached.
	appVersionFallback     = "2.7.0"
	webViewVersionFallback = "4.0.0-d5178440"

	// defaultUserAgent is the browser user agent SplatNet expects.
	defaultUserAgent = "Mozilla/5.0 (Linux; Android 11; Pixel 5) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/94.0.4606.61 " +
		"Mobile Safari/537.36"
)

var appVersionRe = regexp.MustCompile(`whats-new__latest__version">Version\s+(\d+\.\d+\.\d+)`)

// Endpoints holds the vendor endpoint bases. Overridable for tests.
type Endpoints struct {
	Accounts    string // accounts.nintendo.com
	AccountsAPI string // api.accounts.nintendo.com
	Coral       string // api-lp1.znc.srv.nintendo.net
	SplatNet    string // api.lp1.av5ja.srv.nintendo.net
	AppStore    string // iOS app store page carrying the NSO app version
	WebViewData string // imink web view metadata JSON
}

// DefaultEndpoints returns the production endpoint set.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Accounts:    "https://accounts.nintendo.com",
		AccountsAPI: "https://api.accounts.nintendo.com",
		Coral:       "https://api-lp1.znc.srv.nintendo.net",
		SplatNet:    "https://api.lp1.av5ja.srv.nintendo.net",
		AppStore:    "https://apps.apple.com/us/app/nintendo-switch-online/id1234806557",
		WebViewData: "https://raw.githubusercontent.com/imink-app/SplatNet3/master/Data/splatnet3_webview_data.json",
	}
}

// Client executes the derivation chain. It durably holds only the cached
// version strings and the memoized PKCE material; everything produced during
// a derivation run lives in a per-call DerivationContext. Not safe for
// concurrent use; callers serialize through one lifecycle manager.
type Client struct {
	httpClient *http.Client
	attestor   attest.Attestor
	logger     hclog.Logger
	endpoints  Endpoints
	userAgent  string

	appVersion     string
	webViewVersion string
	state          string
	verifier       string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithAttestor sets the attestation strategy.
func WithAttestor(a attest.Attestor) ClientOption {
	return func(cl *Client) { cl.attestor = a }
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithEndpoints overrides the vendor endpoint bases.
func WithEndpoints(e Endpoints) ClientOption {
	return func(cl *Client) { cl.endpoints = e }
}

// WithUserAgent overrides the browser user agent.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithAppVersion pins the NSO app version, skipping the app store fetch.
func WithAppVersion(v string) ClientOption {
	return func(cl *Client) { cl.appVersion = v }
}

// NewClient creates a derivation client. Without options it talks to the
// production endpoints through the default public attestation providers.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: cleanhttp.DefaultPooledTransport(),
			Timeout:   30 * time.Second,
		},
		logger:    hclog.NewNullLogger(),
		endpoints: DefaultEndpoints(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attestor == nil {
		c.attestor = attest.NewService(attest.DefaultProviders(),
			attest.WithHTTPClient(c.httpClient),
			attest.WithLogger(c.logger))
	}
	return c
}

// AppVersion returns the NSO app version, fetching it from the app store
// page on first use. Fetch failures degrade to a hardcoded fallback and are
// never fatal; the result, fallback included, is cached for the life of
// the client.
func (c *Client) AppVersion(ctx context.Context) string {
	if c.appVersion != "" {
		return c.appVersion
	}
	v, err := c.fetchAppVersion(ctx)
	if err != nil {
		c.logger.Warn("failed to fetch app version, using fallback",
			"fallback", appVersionFallback, "error", err)
		v = appVersionFallback
	}
	c.appVersion = v
	return v
}

func (c *Client) fetchAppVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.AppStore, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("app store returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	m := appVersionRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("version string not found in app store page")
	}
	return string(m[1]), nil
}

// WebViewVersion returns the SplatNet web view version for the
// X-Web-View-Ver header, fetched from the imink metadata JSON on first use.
// Same fallback policy as AppVersion.
func (c *Client) WebViewVersion(ctx context.Context) string {
	if c.webViewVersion != "" {
		return c.webViewVersion
	}
	v, err := c.fetchWebViewVersion(ctx)
	if err != nil {
		c.logger.Warn("failed to fetch web view version, using fallback",
			"fallback", webViewVersionFallback, "error", err)
		v = webViewVersionFallback
	}
	c.webViewVersion = v
	return v
}

func (c *Client) fetchWebViewVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.WebViewData, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web view metadata returned status %d", resp.StatusCode)
	}

	var meta struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", err
	}
	if meta.Version == "" {
		return "", fmt.Errorf("web view metadata missing version")
	}
	return meta.Version, nil
}

// State returns the auth state for the login URL, generated once per client.
func (c *Client) State() string {
	if c.state == "" {
		c.state = randomURLSafe(36)
	}
	return c.state
}

// Verifier returns the PKCE code verifier, generated once per client.
func (c *Client) Verifier() string {
	if c.verifier == "" {
		c.verifier = randomURLSafe(32)
	}
	return c.verifier
}

// challenge derives the S256 code challenge from the verifier.
func (c *Client) challenge() string {
	h := sha256.Sum256([]byte(c.Verifier()))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

func randomURLSafe(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
