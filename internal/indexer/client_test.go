package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAccountsDecodesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getTokenAccounts", req["method"])

		params := req["params"].(map[string]any)
		assert.Equal(t, "MINT", params["mint"])
		assert.Equal(t, float64(2), params["limit"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"result": {
				"token_accounts": [
					{"address": "acc1", "owner": "own1", "amount": "1500", "decimals": 6},
					{"address": "acc2", "owner": "own2", "amount": "300", "decimals": 6}
				],
				"cursor": "next-page"
			}
		}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	page, err := client.TokenAccounts(context.Background(), "MINT", 2, "")
	require.NoError(t, err)

	require.Len(t, page.Accounts, 2)
	assert.Equal(t, "own1", page.Accounts[0].Owner)
	assert.Equal(t, int64(1500), page.Accounts[0].Amount)
	assert.Equal(t, "next-page", page.NextCursor)
}

func TestTokenAccountsLastPageHasNoCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"token_accounts": [], "cursor": ""}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	page, err := client.TokenAccounts(context.Background(), "MINT", 1000, "tail")
	require.NoError(t, err)
	assert.Empty(t, page.Accounts)
	assert.Empty(t, page.NextCursor)
}

func TestTokenAccountsRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"code": -32602, "message": "invalid mint"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.TokenAccounts(context.Background(), "BAD", 1000, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mint")
}

func TestTokenAccountsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.TokenAccounts(context.Background(), "MINT", 1000, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTokenAccountsRejectsMalformedAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"token_accounts": [{"address": "a", "owner": "o", "amount": "1.5"}]}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.TokenAccounts(context.Background(), "MINT", 1000, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
}
