package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const DefaultEndpoint = "https://api.mainnet-beta.solana.com"

// Client is a minimal Solana JSON-RPC client for reading wallet history.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Uint64
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rpc http error (%d): %s", e.Status, e.Body)
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewClient builds a client. A nil limiter disables rate limiting.
func NewClient(httpClient *http.Client, endpoint string, limiter *rate.Limiter) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
		limiter:    limiter,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Err       json.RawMessage `json:"err"`
}

// Failed reports whether the transaction errored on chain.
func (s SignatureInfo) Failed() bool {
	v := strings.TrimSpace(string(s.Err))
	return v != "" && v != "null"
}

// GetSignaturesForAddress lists signatures newest first, stopping before until.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address, until string, limit int) ([]SignatureInfo, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("address is required")
	}
	opts := map[string]any{"commitment": "finalized"}
	if limit > 0 {
		opts["limit"] = limit
	}
	if until != "" {
		opts["until"] = until
	}
	var out []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []any{address, opts}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type Transaction struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err          json.RawMessage `json:"err"`
		Fee          uint64          `json:"fee"`
		PreBalances  []uint64        `json:"preBalances"`
		PostBalances []uint64        `json:"postBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// BalanceChange returns the lamport balances of address before and after the
// transaction, with the fee added back when address paid it.
func (t *Transaction) BalanceChange(address string) (pre, post uint64, ok bool) {
	if t == nil || t.Meta == nil {
		return 0, 0, false
	}
	keys := t.Transaction.Message.AccountKeys
	for i, k := range keys {
		if k != address {
			continue
		}
		if i >= len(t.Meta.PreBalances) || i >= len(t.Meta.PostBalances) {
			return 0, 0, false
		}
		pre, post = t.Meta.PreBalances[i], t.Meta.PostBalances[i]
		if i == 0 {
			post += t.Meta.Fee
		}
		return pre, post, true
	}
	return 0, 0, false
}

// GetTransaction returns nil when the node does not know the signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("signature is required")
	}
	opts := map[string]any{
		"encoding":                       "json",
		"commitment":                     "finalized",
		"maxSupportedTransactionVersion": 0,
	}
	var out *Transaction
	if err := c.call(ctx, "getTransaction", []any{signature, opts}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
