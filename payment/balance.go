package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// BalanceCheckPolicy controls how balance checks behave when the chain is
// unreachable or the gating token is not configured.
type BalanceCheckPolicy int

const (
	// BalanceStrict denies when the RPC is missing, errors, or the token is
	// unconfigured. Production posture.
	BalanceStrict BalanceCheckPolicy = iota
	// BalanceDevBypass allows with DevMode=true under the same conditions so
	// local environments keep working without live chain access.
	BalanceDevBypass
)

func (p BalanceCheckPolicy) String() string {
	if p == BalanceDevBypass {
		return "dev-bypass"
	}
	return "strict"
}

// ParseBalanceCheckPolicy maps a config string onto a policy, defaulting to
// strict for anything unrecognised.
func ParseBalanceCheckPolicy(raw string) BalanceCheckPolicy {
	if strings.EqualFold(strings.TrimSpace(raw), "dev-bypass") {
		return BalanceDevBypass
	}
	return BalanceStrict
}

// TokenBalanceClient queries on-chain token balances by owner and mint.
type TokenBalanceClient interface {
	TokenBalance(ctx context.Context, owner, mint string) (uint64, error)
}

// RPCBalanceClient is a minimal JSON-RPC client for the chain's token-account
// query. Balances are raw integer minor units.
type RPCBalanceClient struct {
	baseURL string
	http    *http.Client
	nextID  atomic.Int64
}

// NewRPCBalanceClient constructs a balance client with an explicit timeout.
func NewRPCBalanceClient(baseURL string) *RPCBalanceClient {
	return &RPCBalanceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenAccount struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount,string"`
}

// TokenBalance sums the balance across every token account the owner holds
// for the given mint.
func (c *RPCBalanceClient) TokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	var result struct {
		Accounts []tokenAccount `json:"accounts"`
	}
	params := map[string]string{"owner": owner, "mint": mint}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, err
	}
	var total uint64
	for _, acct := range result.Accounts {
		total += acct.Amount
	}
	return total, nil
}

func (c *RPCBalanceClient) call(ctx context.Context, method string, params, out interface{}) error {
	if c == nil {
		return fmt.Errorf("rpc client not configured")
	}
	id := c.nextID.Add(1)
	buf, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s failed: status=%d", method, resp.StatusCode)
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s failed: %s (code=%d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		return json.Unmarshal(rpcResp.Result, out)
	}
	return nil
}
