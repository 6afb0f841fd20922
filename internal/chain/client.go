// Package chain talks to the treasury service that custodies the payer
// wallet. The service owns keys, signing, submission, and confirmation;
// this client only prepares typed instructions and reads balances.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"github.com/realdoomsman/BTC500/internal/logging"
)

// NativeMint is the wrapped-native mint address used as the swap input.
const NativeMint = "So11111111111111111111111111111111111111112"

// InstructionType discriminates ledger instructions within a batch.
type InstructionType string

const (
	// InstructionProvisionAccount creates the destination's token
	// sub-account for the reward mint. Provisioning is idempotent at
	// the treasury level.
	InstructionProvisionAccount InstructionType = "provision_account"

	// InstructionTransfer moves reward units from the payer to a
	// destination owner.
	InstructionTransfer InstructionType = "transfer"
)

// Instruction is one step of an atomic batch transaction.
type Instruction struct {
	Type        InstructionType `json:"type"`
	Mint        string          `json:"mint"`
	Destination string          `json:"destination"`
	Amount      int64           `json:"amount,omitempty"`
}

// Client is the treasury contract consumed by the orchestrator and the
// distribution engine.
type Client interface {
	// Balance returns the payer's native balance in lamports.
	Balance(ctx context.Context) (int64, error)

	// Spendable returns the balance above the safety floor, never
	// negative.
	Spendable(ctx context.Context) (int64, error)

	// RewardBalance returns the payer's reward-asset balance.
	RewardBalance(ctx context.Context) (int64, error)

	// EnsureRewardAccount makes sure the payer's reward token account
	// exists, creating it when missing. Idempotent at the treasury
	// level; called before any swap so the output has somewhere to land.
	EnsureRewardAccount(ctx context.Context) error

	// PrepareTransfer validates the destination and returns the
	// instructions required to pay it, including provisioning when the
	// destination's token account does not exist yet.
	PrepareTransfer(ctx context.Context, destination string, amount int64) ([]Instruction, error)

	// SubmitBatch executes the instructions as one atomic transaction
	// and returns its reference. The batch either fully lands or not
	// at all.
	SubmitBatch(ctx context.Context, instructions []Instruction) (string, error)
}

// HTTPClient implements Client against the treasury REST API.
type HTTPClient struct {
	baseURL     string
	rewardMint  string
	safetyFloor int64
	log         *logging.Logger
	client      *http.Client
}

// NewHTTPClient creates a treasury client for the given reward mint.
func NewHTTPClient(baseURL, rewardMint string, safetyFloor int64, log *logging.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:     baseURL,
		rewardMint:  rewardMint,
		safetyFloor: safetyFloor,
		log:         log.Component("chain"),
		client:      &http.Client{Timeout: 90 * time.Second},
	}
}

// ValidateAddress checks that addr is a well-formed base58 32-byte
// public key.
func ValidateAddress(addr string) error {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid base58 address %q: %w", addr, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("invalid address %q: decoded to %d bytes, want 32", addr, len(decoded))
	}
	return nil
}

// Balance returns the payer's native balance.
func (c *HTTPClient) Balance(ctx context.Context) (int64, error) {
	var resp struct {
		Lamports string `json:"lamports"`
	}
	if err := c.get(ctx, "/v1/balance", &resp); err != nil {
		return 0, err
	}

	lamports, err := strconv.ParseInt(resp.Lamports, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid balance %q: %w", resp.Lamports, err)
	}

	return lamports, nil
}

// Spendable returns balance minus the safety floor, floored at zero.
func (c *HTTPClient) Spendable(ctx context.Context) (int64, error) {
	balance, err := c.Balance(ctx)
	if err != nil {
		return 0, err
	}

	spendable := balance - c.safetyFloor
	if spendable < 0 {
		spendable = 0
	}

	return spendable, nil
}

// RewardBalance returns the payer's reward-asset balance. A missing
// token account reads as zero.
func (c *HTTPClient) RewardBalance(ctx context.Context) (int64, error) {
	var resp struct {
		Amount string `json:"amount"`
		Exists bool   `json:"exists"`
	}
	path := fmt.Sprintf("/v1/token-balance/%s", url.PathEscape(c.rewardMint))
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, err
	}
	if !resp.Exists {
		return 0, nil
	}

	amount, err := strconv.ParseInt(resp.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token balance %q: %w", resp.Amount, err)
	}

	return amount, nil
}

// EnsureRewardAccount creates the payer's reward token account when it
// does not exist yet.
func (c *HTTPClient) EnsureRewardAccount(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/token-accounts/"+url.PathEscape(c.rewardMint), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to ensure reward account: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ensure response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ensure reward account failed with status %d: %s", resp.StatusCode, string(body))
	}

	var ensureResp struct {
		Created bool   `json:"created"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &ensureResp); err != nil {
		return fmt.Errorf("failed to decode ensure response: %w", err)
	}
	if ensureResp.Error != "" {
		return fmt.Errorf("ensure reward account failed: %s", ensureResp.Error)
	}

	if ensureResp.Created {
		c.log.Info("payer reward account created", "mint", c.rewardMint)
	}

	return nil
}

// PrepareTransfer builds the instruction list for paying destination.
func (c *HTTPClient) PrepareTransfer(ctx context.Context, destination string, amount int64) ([]Instruction, error) {
	if err := ValidateAddress(destination); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	exists, err := c.tokenAccountExists(ctx, destination)
	if err != nil {
		return nil, err
	}

	var instructions []Instruction
	if !exists {
		instructions = append(instructions, Instruction{
			Type:        InstructionProvisionAccount,
			Mint:        c.rewardMint,
			Destination: destination,
		})
	}
	instructions = append(instructions, Instruction{
		Type:        InstructionTransfer,
		Mint:        c.rewardMint,
		Destination: destination,
		Amount:      amount,
	})

	return instructions, nil
}

// SubmitBatch submits instructions as one transaction and waits for
// confirmation.
func (c *HTTPClient) SubmitBatch(ctx context.Context, instructions []Instruction) (string, error) {
	if len(instructions) == 0 {
		return "", fmt.Errorf("cannot submit an empty batch")
	}

	payload, err := json.Marshal(map[string]any{"instructions": instructions})
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit batch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("batch submission failed with status %d: %s", resp.StatusCode, string(body))
	}

	var submitResp struct {
		TxReference string `json:"txReference"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &submitResp); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if submitResp.Error != "" {
		return "", fmt.Errorf("batch execution failed: %s", submitResp.Error)
	}
	if submitResp.TxReference == "" {
		return "", fmt.Errorf("treasury returned no transaction reference")
	}

	c.log.Debug("batch submitted", "instructions", len(instructions), "tx_reference", submitResp.TxReference)

	return submitResp.TxReference, nil
}

func (c *HTTPClient) tokenAccountExists(ctx context.Context, owner string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	path := fmt.Sprintf("/v1/token-accounts/%s/%s", url.PathEscape(c.rewardMint), url.PathEscape(owner))
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("treasury request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("treasury request failed with status %d (failed to read response body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("treasury request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode treasury response: %w", err)
	}

	return nil
}
