// Package attest obtains the vendor-mandated f value from external
// third-party providers. Providers are tried strictly in declared order;
// the first well-formed response wins.
package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"github.com/cesaregarza/splatnet3-auth/internal/output"
	"github.com/cesaregarza/splatnet3-auth/internal/version"
)

// Step identifies which of the two derivation points the attestation is for.
// The two steps hash different tokens and are not interchangeable.
type Step int

const (
	// StepWebService attests the id token to obtain the web service credential.
	StepWebService Step = 1
	// StepGame attests the web service credential to obtain the game credential.
	StepGame Step = 2
)

// Request carries everything a provider needs to compute the f value.
type Request struct {
	// Token is the id token (step 1) or the web service credential (step 2).
	Token string
	Step  Step
	// AccountID is the vendor account id (na_id). Sent on both steps.
	AccountID string
	// CoralUserID is the account-linkage id produced mid-chain. Required
	// for step 2, absent for step 1.
	CoralUserID string
	// AppVersion is sent as the X-znca-Version header when non-empty.
	AppVersion string
}

// Result is the provider's response triple. The three values are consumed
// together by the subsequent vendor exchange; never mix values across steps.
type Result struct {
	F         string
	RequestID string
	Timestamp string
}

// Attestor is the strategy interface for f value generation. The default
// implementation is Service; tests and callers who run their own generator
// can substitute anything satisfying this.
type Attestor interface {
	Attest(ctx context.Context, req Request) (Result, error)
}

// Provider is one configured attestation endpoint.
type Provider struct {
	Name string
	URL  string
}

// DefaultProviders returns the known public providers in priority order.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "imink", URL: "https://api.imink.app/f"},
		{Name: "nxapi-znca", URL: "https://nxapi-znca-api.fancy.org.uk/api/znca/f"},
	}
}

// Service queries an ordered list of providers and returns the first
// well-formed result. Exhausting the list is an error.
type Service struct {
	providers  []Provider
	httpClient *http.Client
	userAgent  string
	logger     hclog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Service) { s.userAgent = ua }
}

// NewService builds a Service over the given providers. At least one
// provider is expected; with none configured every Attest call fails with
// AttestationExhausted.
func NewService(providers []Provider, opts ...Option) *Service {
	s := &Service{
		providers: providers,
		httpClient: &http.Client{
			Transport: cleanhttp.DefaultPooledTransport(),
			Timeout:   30 * time.Second,
		},
		userAgent: version.UserAgent(),
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attest tries each provider in order and returns the first well-formed
// triple. Step 2 requests without a linkage id fail fast before any network
// call.
func (s *Service) Attest(ctx context.Context, req Request) (Result, error) {
	if req.Step != StepWebService && req.Step != StepGame {
		return Result{}, output.ErrUsage(fmt.Sprintf("invalid attestation step %d", req.Step))
	}
	if req.Step == StepGame && req.CoralUserID == "" {
		return Result{}, output.ErrUsage("a coral user id is required for step 2 attestation")
	}

	for _, p := range s.providers {
		res, err := s.attestOne(ctx, p, req)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			s.logger.Warn("attestation provider failed, trying next",
				"provider", p.Name, "step", int(req.Step), "error", err)
			continue
		}
		return res, nil
	}
	return Result{}, output.ErrAttestExhausted(len(s.providers))
}

type providerRequest struct {
	Token       string `json:"token"`
	HashMethod  int    `json:"hash_method"`
	NAID        string `json:"na_id"`
	CoralUserID string `json:"coral_user_id,omitempty"`
}

type providerResponse struct {
	F         string `json:"f"`
	RequestID string `json:"request_id"`
	Timestamp any    `json:"timestamp"`
}

func (s *Service) attestOne(ctx context.Context, p Provider, req Request) (Result, error) {
	body, err := json.Marshal(providerRequest{
		Token:       req.Token,
		HashMethod:  int(req.Step),
		NAID:        req.AccountID,
		CoralUserID: req.CoralUserID,
	})
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("X-znca-Platform", "Android")
	if req.AppVersion != "" {
		httpReq.Header.Set("X-znca-Version", req.AppVersion)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, output.ErrAttestation(p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, output.ErrAttestation(p.Name,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Result{}, output.ErrAttestation(p.Name, err)
	}

	ts := timestampString(pr.Timestamp)
	if pr.F == "" || pr.RequestID == "" || ts == "" {
		return Result{}, output.ErrAttestation(p.Name,
			fmt.Errorf("response missing one of f, request_id, timestamp"))
	}
	return Result{F: pr.F, RequestID: pr.RequestID, Timestamp: ts}, nil
}

// timestampString normalizes the timestamp field; providers return it as
// either a JSON number or a string.
func timestampString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
