// Package indexer talks to the holder-index RPC service that enumerates
// token accounts for a mint. Responses are validated and converted into
// typed records at this boundary; nothing downstream sees raw payloads.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// TokenAccount is one account holding the tracked asset.
type TokenAccount struct {
	Address  string
	Owner    string
	Amount   int64
	Decimals int
}

// Page is one page of token accounts. An empty NextCursor ends
// pagination.
type Page struct {
	Accounts   []TokenAccount
	NextCursor string
}

// Client defines the holder-index contract consumed by the snapshotter.
type Client interface {
	TokenAccounts(ctx context.Context, mint string, pageSize int, cursor string) (*Page, error)
}

// HTTPClient implements Client against a DAS-style JSON-RPC endpoint.
type HTTPClient struct {
	rpcURL string
	client *http.Client
}

// NewHTTPClient creates a new index client.
func NewHTTPClient(rpcURL string) *HTTPClient {
	return &HTTPClient{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Mint   string `json:"mint"`
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type rpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result *struct {
		TokenAccounts []struct {
			Address  string `json:"address"`
			Owner    string `json:"owner"`
			Amount   string `json:"amount"`
			Decimals int    `json:"decimals"`
		} `json:"token_accounts"`
		Cursor string `json:"cursor"`
	} `json:"result"`
}

// TokenAccounts fetches one page of accounts holding mint.
func (c *HTTPClient) TokenAccounts(ctx context.Context, mint string, pageSize int, cursor string) (*Page, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "btc500",
		Method:  "getTokenAccounts",
		Params:  rpcParams{Mint: mint, Limit: pageSize, Cursor: cursor},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query index service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("index request failed with status %d (failed to read response body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("index request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("index service error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	page := &Page{Accounts: []TokenAccount{}}
	if rpcResp.Result == nil {
		return page, nil
	}

	for _, acct := range rpcResp.Result.TokenAccounts {
		amount, err := strconv.ParseInt(acct.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q for account %s: %w", acct.Amount, acct.Address, err)
		}
		page.Accounts = append(page.Accounts, TokenAccount{
			Address:  acct.Address,
			Owner:    acct.Owner,
			Amount:   amount,
			Decimals: acct.Decimals,
		})
	}
	page.NextCursor = rpcResp.Result.Cursor

	return page, nil
}
