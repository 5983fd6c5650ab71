// Package chain provides read-only Starknet JSON-RPC access for the payment
// gateway: transaction receipts and the current block height.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors callers branch on. Retry policy lives in the caller; the
// client only classifies failures.
var (
	// ErrNotFound means the node has never seen the transaction hash.
	ErrNotFound = errors.New("transaction not found")
	// ErrReceiptPending means the transaction is known but not yet settled in
	// a block, so its receipt cannot be trusted for reconciliation.
	ErrReceiptPending = errors.New("transaction receipt pending")
)

// NetworkError wraps transport-level failures (unreachable node, timeout,
// malformed response) so callers can treat them uniformly as retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Client is a read-only Starknet JSON-RPC client.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// NewClient creates a Starknet client. A zero timeout defaults to 30s.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Call makes a JSON-RPC call to the Starknet node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &NetworkError{Op: method, Err: fmt.Errorf("node returned status %d", resp.StatusCode)}
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, &NetworkError{Op: method, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetTransactionReceipt fetches the receipt for a transaction hash.
// Returns ErrNotFound when the node does not know the hash, ErrReceiptPending
// when the transaction has not yet settled in a block, and NetworkError on
// transport failures.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	result, err := c.Call(ctx, "starknet_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == codeTxnHashNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var receipt Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, &NetworkError{Op: "starknet_getTransactionReceipt", Err: err}
	}

	if receipt.FinalityStatus == FinalityReceived || receipt.BlockNumber == 0 {
		return nil, ErrReceiptPending
	}

	return &receipt, nil
}

// GetBlockNumber returns the current block height.
func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "starknet_blockNumber", nil)
	if err != nil {
		return 0, err
	}

	var number uint64
	if err := json.Unmarshal(result, &number); err != nil {
		return 0, &NetworkError{Op: "starknet_blockNumber", Err: err}
	}
	return number, nil
}
