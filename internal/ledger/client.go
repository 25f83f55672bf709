package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	verifyAttempts  = 3
	verifyRetryBase = 500 * time.Millisecond
	weiExponent     = -18
)

// Client talks to an Etherscan-compatible API to confirm on-chain payments.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

type receiptStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		Status string `json:"status"`
	} `json:"result"`
}

type transactionResponse struct {
	Result *struct {
		Value string `json:"value"`
	} `json:"result"`
}

// ReceiptStatus reports whether the transaction receipt shows success.
func (c *Client) ReceiptStatus(ctx context.Context, txHash string) (bool, error) {
	body, err := c.call(ctx, url.Values{
		"module": {"transaction"},
		"action": {"gettxreceiptstatus"},
		"txhash": {txHash},
		"apikey": {c.apiKey},
	})
	if err != nil {
		return false, err
	}

	var parsed receiptStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("decode receipt status: %w", err)
	}
	return parsed.Result.Status == "1", nil
}

// TransactionAmount returns the transferred value in ETH.
func (c *Client) TransactionAmount(ctx context.Context, txHash string) (decimal.Decimal, error) {
	body, err := c.call(ctx, url.Values{
		"module": {"proxy"},
		"action": {"eth_getTransactionByHash"},
		"txhash": {txHash},
		"apikey": {c.apiKey},
	})
	if err != nil {
		return decimal.Zero, err
	}

	var parsed transactionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode transaction: %w", err)
	}
	if parsed.Result == nil || parsed.Result.Value == "" {
		return decimal.Zero, fmt.Errorf("transaction %s not found", txHash)
	}

	wei, ok := new(big.Int).SetString(strings.TrimPrefix(parsed.Result.Value, "0x"), 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid value %q in transaction %s", parsed.Result.Value, txHash)
	}
	return decimal.NewFromBigInt(wei, weiExponent), nil
}

// Verify confirms a transaction hash, retrying transient failures. Any
// persistent failure reports the payment as unconfirmed rather than guessing.
func (c *Client) Verify(ctx context.Context, txHash string) (bool, decimal.Decimal) {
	var lastErr error
	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		confirmed, err := c.ReceiptStatus(ctx, txHash)
		if err == nil {
			if !confirmed {
				c.logger.Info("transaction not confirmed on chain", "tx_hash", txHash)
				return false, decimal.Zero
			}
			amount, amtErr := c.TransactionAmount(ctx, txHash)
			if amtErr != nil {
				c.logger.Warn("confirmed transaction without readable amount", "tx_hash", txHash, "error", amtErr)
				return true, decimal.Zero
			}
			return true, amount
		}
		lastErr = err
		c.logger.Warn("ledger verification attempt failed",
			"tx_hash", txHash,
			"attempt", attempt,
			"error", err)
		select {
		case <-ctx.Done():
			return false, decimal.Zero
		case <-time.After(time.Duration(attempt) * verifyRetryBase):
		}
	}
	c.logger.Error("ledger verification exhausted retries", "tx_hash", txHash, "error", lastErr)
	return false, decimal.Zero
}

func (c *Client) call(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ledger api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger api returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
