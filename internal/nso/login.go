package nso

import (
	"context"
	"net/url"
	"strings"

	"github.com/cesaregarza/splatnet3-auth/internal/output"
)

const redirectURI = "npf" + clientID + "://auth"

// LoginURL builds the browser URL a user opens to grant access. The state
// and PKCE verifier are memoized on the client so the subsequent
// SessionToken call uses the matching verifier.
func (c *Client) LoginURL() string {
	q := url.Values{}
	q.Set("state", c.State())
	q.Set("redirect_uri", redirectURI)
	q.Set("client_id", clientID)
	q.Set("scope", "openid user user.birthday user.mii user.screenName")
	q.Set("response_type", "session_token_code")
	q.Set("session_token_code_challenge", c.challenge())
	q.Set("session_token_code_challenge_method", "S256")
	q.Set("theme", "login_form")
	return c.endpoints.Accounts + "/connect/1.0.0/authorize?" + q.Encode()
}

// ParseRedirect extracts the session token code from the npf redirect the
// browser lands on after consent. The code travels in the URL fragment, not
// the query string.
func ParseRedirect(redirect string) (string, error) {
	redirect = strings.TrimSpace(redirect)
	if redirect == "" {
		return "", output.ErrUsage("paste the full redirect link from the browser")
	}
	_, frag, ok := strings.Cut(redirect, "#")
	if !ok {
		return "", output.ErrUsageHint("redirect link has no token fragment",
			"copy the entire link address of the red \"Select this account\" button")
	}
	vals, err := url.ParseQuery(frag)
	if err != nil {
		return "", output.ErrUsage("redirect link fragment is malformed")
	}
	code := vals.Get("session_token_code")
	if code == "" {
		return "", output.ErrUsage("redirect link is missing the session token code")
	}
	return code, nil
}

// SessionToken exchanges the session token code from the redirect for the
// long-lived session token (stage 1). Must be called on the same client
// that produced the LoginURL, since the exchange proves the PKCE verifier.
func (c *Client) SessionToken(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("session_token_code", code)
	form.Set("session_token_code_verifier", c.Verifier())

	req, err := formRequest(ctx, c.endpoints.Accounts+"/connect/1.0.0/api/session_token", form)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "OnlineLounge/"+c.AppVersion(ctx)+" NASDKAPI Android")

	var tokenResp struct {
		SessionToken string `json:"session_token"`
	}
	if err := c.doJSON(req, &tokenResp); err != nil {
		return "", err
	}
	if tokenResp.SessionToken == "" {
		return "", output.ErrProtocol("session token response missing session_token")
	}
	return tokenResp.SessionToken, nil
}
