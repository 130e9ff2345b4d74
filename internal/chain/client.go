package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
)

// Client is the narrow chain-data interface consumed by plugins: suspending
// accessors over account state, nothing more.
type Client interface {
	CheckAccount(ctx context.Context, accountID string) (bool, error)
	AccountBalance(ctx context.Context, accountID string) (Balance, error)
}

// Balance holds a NEAR account's balance in yoctoNEAR, as strings because
// the values exceed uint64.
type Balance struct {
	Total     string `json:"total"`
	Available string `json:"available"`
}

// RPCError reports a failure from the NEAR JSON-RPC endpoint.
type RPCError struct {
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("near rpc %s: %s", e.Method, e.Message)
}

// RPCClient talks to a NEAR JSON-RPC endpoint.
type RPCClient struct {
	cfg  config.ChainConfig
	http *http.Client
}

func NewRPCClient(cfg config.ChainConfig) *RPCClient {
	return &RPCClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 20 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Data    any    `json:"data"`
	} `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "sminos",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &RPCError{Method: method, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RPCError{Method: method, Message: err.Error()}
	}

	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &RPCError{Method: method, Message: "invalid response body"}
	}
	if parsed.Error != nil {
		return &RPCError{Method: method, Message: parsed.Error.Message}
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return &RPCError{Method: method, Message: "invalid result shape"}
		}
	}
	return nil
}

type viewAccountResult struct {
	Amount string `json:"amount"`
	Locked string `json:"locked"`
}

// CheckAccount reports whether the account exists on chain. An RPC error
// mentioning an unknown account means "no" rather than a transport failure.
func (c *RPCClient) CheckAccount(ctx context.Context, accountID string) (bool, error) {
	var result viewAccountResult
	err := c.call(ctx, "query", viewAccountParams(accountID), &result)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok && strings.Contains(rpcErr.Message, "does not exist") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AccountBalance returns the account's total and available balance in
// yoctoNEAR.
func (c *RPCClient) AccountBalance(ctx context.Context, accountID string) (Balance, error) {
	var result viewAccountResult
	if err := c.call(ctx, "query", viewAccountParams(accountID), &result); err != nil {
		return Balance{}, err
	}

	available := result.Amount
	if total, ok := new(big.Int).SetString(result.Amount, 10); ok {
		if locked, ok := new(big.Int).SetString(result.Locked, 10); ok {
			available = new(big.Int).Sub(total, locked).String()
		}
	}
	return Balance{Total: result.Amount, Available: available}, nil
}

func viewAccountParams(accountID string) map[string]any {
	return map[string]any{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}
}

// ToYocto converts a NEAR amount to yoctoNEAR, truncating below 1e-6 NEAR.
func ToYocto(amountNEAR float64) *big.Int {
	micro := big.NewInt(int64(amountNEAR * 1e6))
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return micro.Mul(micro, factor)
}
