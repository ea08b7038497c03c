package nso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/cesaregarza/splatnet3-auth/internal/attest"
	"github.com/cesaregarza/splatnet3-auth/internal/output"
	"github.com/cesaregarza/splatnet3-auth/internal/resilience"
)

// Profile is the account information required for the attested exchanges.
type Profile struct {
	AccountID string
	Country   string
	Language  string
	Birthday  string
}

// DerivationContext carries the intermediate values of one derivation run.
// Nothing in here outlives the run; only the tokens copied into the keychain
// persist.
type DerivationContext struct {
	AccessToken     string
	IDToken         string
	Profile         Profile
	CoralUserID     string
	WebServiceToken string
}

// GameDerivation is the outcome of running the chain through the game
// credential stage.
type GameDerivation struct {
	GameToken string
	Profile   Profile
}

// retryable matches the failures the two attested stages retry once as a
// unit: provider exhaustion and malformed vendor responses.
func retryable(err error) bool {
	return output.IsCode(err, output.CodeAttestExhausted) ||
		output.IsCode(err, output.CodeProtocol)
}

// DeriveGame runs stages 3 through 6 of the chain: session exchange, profile
// fetch, and the two attested coral exchanges. The returned profile is needed
// for the subsequent bullet token exchange and for persistence.
func (c *Client) DeriveGame(ctx context.Context, sessionToken string) (*GameDerivation, error) {
	if sessionToken == "" {
		return nil, output.ErrUsage("a session token is required to derive credentials")
	}

	d := &DerivationContext{}

	c.logger.Debug("exchanging session token")
	access, id, err := c.ExchangeSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	d.AccessToken = access
	d.IDToken = id

	c.logger.Debug("fetching user profile")
	d.Profile, err = c.FetchProfile(ctx, d.AccessToken)
	if err != nil {
		return nil, err
	}

	// Each attested stage retries once as a unit: a fresh attestation and a
	// fresh exchange. Never reuse an attestation triple across attempts.
	retry := resilience.NewRetryer(2, retryable, c.logger)

	if err := retry.Do(ctx, "web service credential", func() error {
		return c.webServiceCredential(ctx, d)
	}); err != nil {
		return nil, err
	}

	var game string
	if err := retry.Do(ctx, "game credential", func() error {
		var err error
		game, err = c.gameToken(ctx, d)
		return err
	}); err != nil {
		return nil, err
	}

	return &GameDerivation{GameToken: game, Profile: d.Profile}, nil
}

// ExchangeSession trades the session token for the user access token and id
// token (stage 3).
func (c *Client) ExchangeSession(ctx context.Context, sessionToken string) (accessToken, idToken string, err error) {
	body := map[string]string{
		"client_id":     clientID,
		"session_token": sessionToken,
		"grant_type":    sessionGrantType,
	}
	req, err := c.jsonRequest(ctx, c.endpoints.Accounts+"/connect/1.0.0/api/token", body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "Dalvik/2.1.0 (Linux; U; Android 7.1.2)")

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
	}
	if err := c.doJSON(req, &tokenResp); err != nil {
		return "", "", err
	}
	if tokenResp.AccessToken == "" || tokenResp.IDToken == "" {
		return "", "", output.ErrProtocol("session exchange response missing access or id token")
	}
	return tokenResp.AccessToken, tokenResp.IDToken, nil
}

// FetchProfile retrieves the account's country, language, birthday, and id
// (stage 4).
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoints.AccountsAPI+"/2.0.0/users/me", nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("User-Agent", "NASDKAPI; Android")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var userResp struct {
		ID       string `json:"id"`
		Country  string `json:"country"`
		Language string `json:"language"`
		Birthday string `json:"birthday"`
	}
	if err := c.doJSON(req, &userResp); err != nil {
		return Profile{}, err
	}
	if userResp.ID == "" {
		return Profile{}, output.ErrProtocol("profile response missing account id")
	}
	return Profile{
		AccountID: userResp.ID,
		Country:   userResp.Country,
		Language:  userResp.Language,
		Birthday:  userResp.Birthday,
	}, nil
}

// webServiceCredential performs stage 5: attest the id token (step 1), then
// exchange it for the web service credential and the coral user id.
func (c *Client) webServiceCredential(ctx context.Context, d *DerivationContext) error {
	att, err := c.attestor.Attest(ctx, attest.Request{
		Token:      d.IDToken,
		Step:       attest.StepWebService,
		AccountID:  d.Profile.AccountID,
		AppVersion: c.AppVersion(ctx),
	})
	if err != nil {
		return err
	}

	body := map[string]any{
		"parameter": map[string]any{
			"f":          att.F,
			"language":   d.Profile.Language,
			"naBirthday": d.Profile.Birthday,
			"naCountry":  d.Profile.Country,
			"naIdToken":  d.IDToken,
			"requestId":  att.RequestID,
			"timestamp":  att.Timestamp,
		},
	}
	req, err := c.jsonRequest(ctx, c.endpoints.Coral+"/v3/Account/Login", body)
	if err != nil {
		return err
	}
	c.coralHeaders(ctx, req)

	var loginResp struct {
		Result struct {
			WebAPIServerCredential struct {
				AccessToken string `json:"accessToken"`
			} `json:"webApiServerCredential"`
			User struct {
				ID json.Number `json:"id"`
			} `json:"user"`
		} `json:"result"`
	}
	if err := c.doJSON(req, &loginResp); err != nil {
		return err
	}
	if loginResp.Result.WebAPIServerCredential.AccessToken == "" ||
		loginResp.Result.User.ID.String() == "" {
		return output.ErrProtocol("account login response missing credential or user id")
	}

	d.WebServiceToken = loginResp.Result.WebAPIServerCredential.AccessToken
	d.CoralUserID = loginResp.Result.User.ID.String()
	return nil
}

// gameToken performs stage 6: attest the web service credential (step 2,
// with the coral user id from stage 5), then exchange it for the gtoken.
func (c *Client) gameToken(ctx context.Context, d *DerivationContext) (string, error) {
	att, err := c.attestor.Attest(ctx, attest.Request{
		Token:       d.WebServiceToken,
		Step:        attest.StepGame,
		AccountID:   d.Profile.AccountID,
		CoralUserID: d.CoralUserID,
		AppVersion:  c.AppVersion(ctx),
	})
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"parameter": map[string]any{
			"f":                 att.F,
			"id":                gameServiceID,
			"registrationToken": d.WebServiceToken,
			"requestId":         att.RequestID,
			"timestamp":         att.Timestamp,
		},
	}
	req, err := c.jsonRequest(ctx, c.endpoints.Coral+"/v2/Game/GetWebServiceToken", body)
	if err != nil {
		return "", err
	}
	c.coralHeaders(ctx, req)
	req.Header.Set("Authorization", "Bearer "+d.WebServiceToken)

	var tokenResp struct {
		Result struct {
			AccessToken string `json:"accessToken"`
		} `json:"result"`
	}
	if err := c.doJSON(req, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.Result.AccessToken == "" {
		return "", output.ErrProtocol("game token response missing access token")
	}
	return tokenResp.Result.AccessToken, nil
}

// DeriveBullet performs stage 7: exchange the game credential and profile
// for the bullet token. The response status carries distinct meanings; each
// rejection maps to its own reason and none of them is retried here.
func (c *Client) DeriveBullet(ctx context.Context, gameToken string, p Profile) (string, error) {
	if gameToken == "" {
		return "", output.ErrUsage("a game token is required to derive the bullet token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoints.SplatNet+"/api/bullet_tokens", nil)
	if err != nil {
		return "", err
	}
	c.splatnetHeaders(ctx, req, p)
	req.AddCookie(&http.Cookie{Name: "_gtoken", Value: gameToken})
	req.AddCookie(&http.Cookie{Name: "_dnt", Value: "1"})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return "", output.ErrAuthRejected(output.ReasonInvalidGameToken, resp.StatusCode)
	case http.StatusForbidden:
		return "", output.ErrAuthRejected(output.ReasonObsoleteVersion, resp.StatusCode)
	case http.StatusNoContent:
		return "", output.ErrAuthRejected(output.ReasonNotRegistered, resp.StatusCode)
	case http.StatusOK, http.StatusCreated:
		// fall through to decode
	default:
		return "", output.ErrProtocolStatus(resp.StatusCode,
			fmt.Sprintf("bullet token exchange failed (HTTP %d)", resp.StatusCode))
	}

	var bulletResp struct {
		BulletToken string `json:"bulletToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulletResp); err != nil {
		return "", output.ErrProtocol("bullet token response is not valid JSON")
	}
	if bulletResp.BulletToken == "" {
		return "", output.ErrProtocol("bullet token response missing bulletToken")
	}
	return bulletResp.BulletToken, nil
}

// Probe issues one lightweight authenticated GraphQL request to confirm the
// current credentials are still accepted.
func (c *Client) Probe(ctx context.Context, gameToken, bulletToken string, p Profile) error {
	body := map[string]any{
		"variables": map[string]any{},
		"extensions": map[string]any{
			"persistedQuery": map[string]any{
				"version":    1,
				"sha256Hash": homeQueryHash,
			},
		},
	}
	req, err := c.jsonRequest(ctx, c.endpoints.SplatNet+"/api/graphql", body)
	if err != nil {
		return err
	}
	c.splatnetHeaders(ctx, req, p)
	req.Header.Set("Authorization", "Bearer "+bulletToken)
	req.AddCookie(&http.Cookie{Name: "_gtoken", Value: gameToken})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return output.ErrNetwork(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return output.ErrProtocolStatus(resp.StatusCode,
			fmt.Sprintf("probe rejected (HTTP %d)", resp.StatusCode))
	}
	return nil
}

// homeQueryHash is the persisted-query hash of the cheapest authenticated
// query the backend serves.
const homeQueryHash = "51fc56bbf006caf37728914aa8bc0e2c86a80cf195b4d4027d6822a3623098a8"

// jsonRequest builds a POST request with a JSON body.
func (c *Client) jsonRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// formRequest builds a POST request with a form-encoded body.
func formRequest(ctx context.Context, url string, form neturl.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doJSON executes req and decodes a JSON response, mapping transport
// failures and non-success statuses to the error taxonomy.
func (c *Client) doJSON(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return output.ErrProtocolStatus(resp.StatusCode,
			fmt.Sprintf("%s returned HTTP %d: %s", req.URL.Path, resp.StatusCode,
				strings.TrimSpace(string(raw))))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return output.ErrProtocol(fmt.Sprintf("%s returned invalid JSON", req.URL.Path))
	}
	return nil
}

// coralHeaders sets the headers the coral endpoints expect.
func (c *Client) coralHeaders(ctx context.Context, req *http.Request) {
	v := c.AppVersion(ctx)
	req.Header.Set("X-Platform", "Android")
	req.Header.Set("X-ProductVersion", v)
	req.Header.Set("User-Agent", "com.nintendo.znca/"+v+"(Android/7.1.2)")
}

// splatnetHeaders sets the headers the SplatNet endpoints expect.
func (c *Client) splatnetHeaders(ctx context.Context, req *http.Request, p Profile) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Web-View-Ver", c.WebViewVersion(ctx))
	req.Header.Set("Accept-Language", p.Language)
	req.Header.Set("X-NACOUNTRY", p.Country)
	req.Header.Set("Origin", c.endpoints.SplatNet)
	req.Header.Set("X-Requested-With", "com.nintendo.znca")
}
