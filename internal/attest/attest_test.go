package attest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesaregarza/splatnet3-auth/internal/output"
)

func providerServer(t *testing.T, calls *[]string, name string, handler http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls = append(*calls, name)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return Provider{Name: name, URL: srv.URL}
}

func okHandler(f, requestID, timestamp string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"f":%q,"request_id":%q,"timestamp":%q}`, f, requestID, timestamp)
	}
}

func failHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

func TestAttestFirstProviderWins(t *testing.T) {
	var calls []string
	p1 := providerServer(t, &calls, "p1", okHandler("F1", "R1", "T1"))
	p2 := providerServer(t, &calls, "p2", okHandler("F2", "R2", "T2"))

	svc := NewService([]Provider{p1, p2})
	res, err := svc.Attest(context.Background(), Request{
		Token: "idtok", Step: StepWebService, AccountID: "na1",
	})
	require.NoError(t, err)
	assert.Equal(t, Result{F: "F1", RequestID: "R1", Timestamp: "T1"}, res)
	assert.Equal(t, []string{"p1"}, calls, "later providers must not be tried after a success")
}

func TestAttestFallsBackInOrder(t *testing.T) {
	var calls []string
	p1 := providerServer(t, &calls, "p1", failHandler(http.StatusInternalServerError))
	p2 := providerServer(t, &calls, "p2", failHandler(http.StatusBadGateway))
	p3 := providerServer(t, &calls, "p3", okHandler("F3", "R3", "T3"))

	svc := NewService([]Provider{p1, p2, p3})
	res, err := svc.Attest(context.Background(), Request{
		Token: "idtok", Step: StepWebService, AccountID: "na1",
	})
	require.NoError(t, err)
	assert.Equal(t, "F3", res.F)
	assert.Equal(t, []string{"p1", "p2", "p3"}, calls, "each provider invoked exactly once, in order")
}

func TestAttestExhausted(t *testing.T) {
	var calls []string
	p1 := providerServer(t, &calls, "p1", failHandler(http.StatusInternalServerError))
	p2 := providerServer(t, &calls, "p2", failHandler(http.StatusForbidden))

	svc := NewService([]Provider{p1, p2})
	_, err := svc.Attest(context.Background(), Request{
		Token: "idtok", Step: StepWebService, AccountID: "na1",
	})
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeAttestExhausted))
	assert.Equal(t, []string{"p1", "p2"}, calls)
}

func TestAttestMissingFieldAdvances(t *testing.T) {
	var calls []string
	// Well-formed JSON, but no request_id.
	p1 := providerServer(t, &calls, "p1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"f":"F1","timestamp":"T1"}`)
	})
	p2 := providerServer(t, &calls, "p2", okHandler("F2", "R2", "T2"))

	svc := NewService([]Provider{p1, p2})
	res, err := svc.Attest(context.Background(), Request{
		Token: "idtok", Step: StepWebService, AccountID: "na1",
	})
	require.NoError(t, err)
	assert.Equal(t, "F2", res.F)
	assert.Equal(t, []string{"p1", "p2"}, calls)
}

func TestAttestStepTwoRequiresCoralUserID(t *testing.T) {
	var calls []string
	p1 := providerServer(t, &calls, "p1", okHandler("F1", "R1", "T1"))

	svc := NewService([]Provider{p1})
	_, err := svc.Attest(context.Background(), Request{
		Token: "webtok", Step: StepGame, AccountID: "na1",
	})
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeUsage))
	assert.Empty(t, calls, "must fail before any network call")
}

func TestAttestInvalidStep(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Attest(context.Background(), Request{Token: "x", Step: 3})
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestAttestRequestBody(t *testing.T) {
	var got providerRequest
	var calls []string
	p := providerServer(t, &calls, "p", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Android", r.Header.Get("X-znca-Platform"))
		assert.Equal(t, "2.7.0", r.Header.Get("X-znca-Version"))
		okHandler("F", "R", "T")(w, r)
	})

	svc := NewService([]Provider{p})
	_, err := svc.Attest(context.Background(), Request{
		Token:       "webtok",
		Step:        StepGame,
		AccountID:   "na1",
		CoralUserID: "coral1",
		AppVersion:  "2.7.0",
	})
	require.NoError(t, err)
	assert.Equal(t, providerRequest{
		Token: "webtok", HashMethod: 2, NAID: "na1", CoralUserID: "coral1",
	}, got)
}

func TestAttestNumericTimestamp(t *testing.T) {
	var calls []string
	p := providerServer(t, &calls, "p", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"f":"F1","request_id":"R1","timestamp":1690000000}`)
	})

	svc := NewService([]Provider{p})
	res, err := svc.Attest(context.Background(), Request{
		Token: "idtok", Step: StepWebService, AccountID: "na1",
	})
	require.NoError(t, err)
	assert.Equal(t, "1690000000", res.Timestamp)
}
