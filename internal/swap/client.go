// Package swap converts native funds into the reward asset through the
// external swap/aggregator service.
package swap

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

	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/logging"
	"github.com/realdoomsman/BTC500/internal/models"
)

// Quote is a priced swap route for a given input amount.
type Quote struct {
	InputAmount    int64
	ExpectedOutput int64
	Route          []string

	// raw carries the service's quote payload so Execute can submit it
	// unmodified.
	raw json.RawMessage
}

// MinAcceptableOutput returns the floor below which an executed swap is
// rejected, derived from the configured minimum-output basis points.
func (q *Quote) MinAcceptableOutput(minOutputBps int) int64 {
	return q.ExpectedOutput * int64(minOutputBps) / 10_000
}

// Result is the outcome of an executed swap.
type Result struct {
	OutputAmount int64
	TxReference  string
}

// Client defines the swap service contract consumed by the orchestrator.
type Client interface {
	Quote(ctx context.Context, inputAmount int64) (*Quote, error)
	Execute(ctx context.Context, q *Quote) (*Result, error)
}

// HTTPClient implements Client against the aggregator's REST API.
type HTTPClient struct {
	cfg        config.SwapConfig
	inputMint  string
	outputMint string
	dryRun     bool
	log        *logging.Logger
	client     *http.Client
}

// NewHTTPClient creates a swap client converting inputMint into
// outputMint. In dry-run mode Execute skips real execution and reports
// the quoted amount with a sentinel reference.
func NewHTTPClient(cfg config.SwapConfig, inputMint, outputMint string, dryRun bool, log *logging.Logger) *HTTPClient {
	return &HTTPClient{
		cfg:        cfg,
		inputMint:  inputMint,
		outputMint: outputMint,
		dryRun:     dryRun,
		log:        log.Component("swap"),
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

type quoteResponse struct {
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
	RoutePlan []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// Quote fetches a priced route for inputAmount.
func (c *HTTPClient) Quote(ctx context.Context, inputAmount int64) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", c.inputMint)
	params.Set("outputMint", c.outputMint)
	params.Set("amount", strconv.FormatInt(inputAmount, 10))
	params.Set("slippageBps", strconv.Itoa(c.cfg.SlippageBps))

	reqURL := fmt.Sprintf("%s/quote?%s", c.cfg.URL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}

	outAmount, err := strconv.ParseInt(qr.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid quote output amount %q: %w", qr.OutAmount, err)
	}
	if outAmount <= 0 {
		return nil, fmt.Errorf("no route available for %d input units", inputAmount)
	}

	route := make([]string, 0, len(qr.RoutePlan))
	for _, hop := range qr.RoutePlan {
		route = append(route, hop.SwapInfo.Label)
	}

	quote := &Quote{
		InputAmount:    inputAmount,
		ExpectedOutput: outAmount,
		Route:          route,
		raw:            body,
	}

	c.log.Info("quote received",
		"input_amount", inputAmount,
		"expected_output", outAmount,
		"route", route,
	)

	return quote, nil
}

type executeResponse struct {
	OutputAmount string `json:"outputAmount"`
	TxReference  string `json:"txReference"`
	Error        string `json:"error"`
}

// Execute submits the quoted swap and verifies the realized output
// against the minimum-output floor.
func (c *HTTPClient) Execute(ctx context.Context, q *Quote) (*Result, error) {
	if c.dryRun {
		c.log.Info("dry run: skipping swap execution", "input_amount", q.InputAmount)
		return &Result{
			OutputAmount: q.ExpectedOutput,
			TxReference:  models.DryRunReference,
		}, nil
	}

	payload, err := json.Marshal(map[string]json.RawMessage{"quoteResponse": q.raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute swap: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var er executeResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	if er.Error != "" {
		return nil, fmt.Errorf("swap execution failed: %s", er.Error)
	}

	outputAmount, err := strconv.ParseInt(er.OutputAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid swap output amount %q: %w", er.OutputAmount, err)
	}

	if minOut := q.MinAcceptableOutput(c.cfg.MinOutputBps); outputAmount < minOut {
		return nil, fmt.Errorf("swap output %d below minimum acceptable %d (%d bps of quote)",
			outputAmount, minOut, c.cfg.MinOutputBps)
	}

	c.log.Info("swap completed",
		"input_amount", q.InputAmount,
		"output_amount", outputAmount,
		"tx_reference", er.TxReference,
	)

	return &Result{OutputAmount: outputAmount, TxReference: er.TxReference}, nil
}
