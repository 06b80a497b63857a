package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func callExchangeRate(t *testing.T, baseURL string, args string) map[string]any {
	t.Helper()

	fn, _ := NewExchangeRateTool(ExchangeRateToolConfig{BaseURL: baseURL}, zap.NewNop())
	raw, err := fn(context.Background(), json.RawMessage(args))
	require.NoError(t, err, "the tool must never fail past its boundary")

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestExchangeRateTool_Success(t *testing.T) {
	var gotPath, gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"amount":1.0,"base":"USD","date":"2026-08-25","rates":{"JPY":150.0}}`))
	}))
	defer srv.Close()

	out := callExchangeRate(t, srv.URL, `{"currency_from":"USD","currency_to":"JPY","currency_date":"latest"}`)

	assert.Equal(t, "/latest", gotPath)
	assert.Equal(t, "USD", gotFrom)
	assert.Equal(t, "JPY", gotTo)

	rates, ok := out["rates"].(map[string]any)
	require.True(t, ok, "upstream body must pass through verbatim")
	assert.Equal(t, 150.0, rates["JPY"])
	assert.NotContains(t, out, "error")
}

func TestExchangeRateTool_Defaults(t *testing.T) {
	var gotPath, gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		w.Write([]byte(`{"rates":{"EUR":0.92}}`))
	}))
	defer srv.Close()

	callExchangeRate(t, srv.URL, `{}`)

	assert.Equal(t, "/latest", gotPath)
	assert.Equal(t, "USD", gotFrom)
	assert.Equal(t, "EUR", gotTo)
}

func TestExchangeRateTool_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := callExchangeRate(t, srv.URL, `{"currency_from":"USD","currency_to":"JPY"}`)
	assert.Contains(t, out["error"], "API request failed")
}

func TestExchangeRateTool_MissingRatesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"foo":1}`))
	}))
	defer srv.Close()

	out := callExchangeRate(t, srv.URL, `{}`)
	assert.Equal(t, "invalid API response format", out["error"])
}

func TestExchangeRateTool_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	out := callExchangeRate(t, srv.URL, `{}`)
	assert.Equal(t, "invalid JSON response from API", out["error"])
}

func TestExchangeRateTool_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	out := callExchangeRate(t, srv.URL, `{}`)
	assert.Contains(t, out["error"], "API request failed")
}
