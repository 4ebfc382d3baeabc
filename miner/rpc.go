package miner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"

	"github.com/tonyke-bot/ore-miner/ore"
)

var (
	ErrAccountNotFound  = errors.New("account does not exist")
	ErrBadAccountData   = errors.New("unexpected account data encoding")
	ErrSimulationFailed = errors.New("transaction simulation failed")
)

// SignatureStatus is the landing state of one signature as reported by the
// ledger.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Confirmed reports whether the signature landed with no error at confirmed
// commitment or better.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil {
		return false
	}
	if len(s.Err) > 0 && string(s.Err) != "null" {
		return false
	}
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// ChainClient is the ledger query surface the engine depends on. All calls
// are request/response; implementations must be safe for concurrent use.
type ChainClient interface {
	// SystemAccounts fetches the treasury, clock and all bus accounts as one
	// snapshot.
	SystemAccounts(ctx context.Context) (*ChainSnapshot, error)
	// ProofAccounts fetches the proof records for the given addresses. Every
	// address must exist; a missing one is an error.
	ProofAccounts(ctx context.Context, addrs []ore.Pubkey) ([]ore.Proof, error)
	// Balances returns lamport balances for the addresses that exist.
	Balances(ctx context.Context, addrs []ore.Pubkey) (map[ore.Pubkey]uint64, error)
	// LatestBlockhash returns a fresh blockhash and the slot it was observed
	// at.
	LatestBlockhash(ctx context.Context) (ore.Hash, uint64, error)
	// SignatureStatuses returns landing statuses (nil for unknown) and the
	// polled slot.
	SignatureStatuses(ctx context.Context, sigs []ore.Signature) ([]*SignatureStatus, uint64, error)
	// SimulateTransaction returns ErrSimulationFailed if the transaction
	// would fail on-chain.
	SimulateTransaction(ctx context.Context, tx *ore.Transaction) error
}

// JSONRPCChainClient talks to a ledger RPC node over JSON-RPC.
type JSONRPCChainClient struct {
	client jsonrpc.RPCClient
}

func NewJSONRPCChainClient(url string) *JSONRPCChainClient {
	return &JSONRPCChainClient{client: jsonrpc.NewClient(url)}
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type rpcAccount struct {
	Data     []string `json:"data"`
	Lamports uint64   `json:"lamports"`
}

func (a *rpcAccount) bytes() ([]byte, error) {
	if len(a.Data) != 2 || a.Data[1] != "base64" {
		return nil, ErrBadAccountData
	}
	return base64.StdEncoding.DecodeString(a.Data[0])
}

type multipleAccountsResult struct {
	Context rpcContext    `json:"context"`
	Value   []*rpcAccount `json:"value"`
}

func (c *JSONRPCChainClient) getMultipleAccounts(ctx context.Context, addrs []ore.Pubkey, commitment string) (*multipleAccountsResult, error) {
	params := make([]string, len(addrs))
	for i, addr := range addrs {
		params[i] = addr.String()
	}
	var result multipleAccountsResult
	err := c.client.CallFor(ctx, &result, "getMultipleAccounts", params, map[string]string{
		"encoding":   "base64",
		"commitment": commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("getMultipleAccounts: %w", err)
	}
	if len(result.Value) != len(addrs) {
		return nil, fmt.Errorf("getMultipleAccounts: got %d accounts, want %d", len(result.Value), len(addrs))
	}
	return &result, nil
}

func (c *JSONRPCChainClient) SystemAccounts(ctx context.Context) (*ChainSnapshot, error) {
	addrs := make([]ore.Pubkey, 0, 2+ore.BusCount)
	addrs = append(addrs, ore.TreasuryAddress, ore.ClockSysvarID)
	addrs = append(addrs, ore.BusAddresses[:]...)

	result, err := c.getMultipleAccounts(ctx, addrs, "processed")
	if err != nil {
		return nil, err
	}

	var snap ChainSnapshot
	raw, err := accountBytes(result.Value[0], "treasury")
	if err != nil {
		return nil, err
	}
	if snap.Treasury, err = ore.DecodeTreasury(raw); err != nil {
		return nil, err
	}

	raw, err = accountBytes(result.Value[1], "clock")
	if err != nil {
		return nil, err
	}
	if snap.Clock, err = ore.DecodeClock(raw); err != nil {
		return nil, err
	}

	for i := 0; i < ore.BusCount; i++ {
		raw, err = accountBytes(result.Value[2+i], fmt.Sprintf("bus %d", i))
		if err != nil {
			return nil, err
		}
		if snap.Buses[i], err = ore.DecodeBus(raw); err != nil {
			return nil, err
		}
	}
	return &snap, nil
}

func (c *JSONRPCChainClient) ProofAccounts(ctx context.Context, addrs []ore.Pubkey) ([]ore.Proof, error) {
	proofs := make([]ore.Proof, 0, len(addrs))
	for start := 0; start < len(addrs); start += FetchAccountLimit {
		end := start + FetchAccountLimit
		if end > len(addrs) {
			end = len(addrs)
		}
		chunk := addrs[start:end]

		result, err := c.getMultipleAccounts(ctx, chunk, "processed")
		if err != nil {
			return nil, err
		}
		for i, account := range result.Value {
			raw, err := accountBytes(account, fmt.Sprintf("proof %s", chunk[i]))
			if err != nil {
				return nil, err
			}
			proof, err := ore.DecodeProof(raw)
			if err != nil {
				return nil, err
			}
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (c *JSONRPCChainClient) Balances(ctx context.Context, addrs []ore.Pubkey) (map[ore.Pubkey]uint64, error) {
	balances := make(map[ore.Pubkey]uint64, len(addrs))
	for start := 0; start < len(addrs); start += FetchAccountLimit {
		end := start + FetchAccountLimit
		if end > len(addrs) {
			end = len(addrs)
		}
		chunk := addrs[start:end]

		result, err := c.getMultipleAccounts(ctx, chunk, "confirmed")
		if err != nil {
			return nil, err
		}
		for i, account := range result.Value {
			if account == nil {
				continue
			}
			balances[chunk[i]] = account.Lamports
		}
	}
	return balances, nil
}

type blockhashResult struct {
	Context rpcContext `json:"context"`
	Value   struct {
		Blockhash string `json:"blockhash"`
	} `json:"value"`
}

func (c *JSONRPCChainClient) LatestBlockhash(ctx context.Context) (ore.Hash, uint64, error) {
	var result blockhashResult
	err := c.client.CallFor(ctx, &result, "getLatestBlockhash", []any{map[string]string{"commitment": "confirmed"}})
	if err != nil {
		return ore.Hash{}, 0, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	hash, err := ore.ParseHash(result.Value.Blockhash)
	if err != nil {
		return ore.Hash{}, 0, err
	}
	return hash, result.Context.Slot, nil
}

type signatureStatusesResult struct {
	Context rpcContext         `json:"context"`
	Value   []*SignatureStatus `json:"value"`
}

func (c *JSONRPCChainClient) SignatureStatuses(ctx context.Context, sigs []ore.Signature) ([]*SignatureStatus, uint64, error) {
	params := make([]string, len(sigs))
	for i, sig := range sigs {
		params[i] = sig.String()
	}
	var result signatureStatusesResult
	err := c.client.CallFor(ctx, &result, "getSignatureStatuses", []any{params})
	if err != nil {
		return nil, 0, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	return result.Value, result.Context.Slot, nil
}

type simulateResult struct {
	Value struct {
		Err  json.RawMessage `json:"err"`
		Logs []string        `json:"logs"`
	} `json:"value"`
}

func (c *JSONRPCChainClient) SimulateTransaction(ctx context.Context, tx *ore.Transaction) error {
	encoded := base64.StdEncoding.EncodeToString(tx.Serialize())
	var result simulateResult
	err := c.client.CallFor(ctx, &result, "simulateTransaction", encoded, map[string]any{
		"encoding":               "base64",
		"commitment":             "processed",
		"sigVerify":              false,
		"replaceRecentBlockhash": true,
	})
	if err != nil {
		return fmt.Errorf("simulateTransaction: %w", err)
	}
	if len(result.Value.Err) > 0 && string(result.Value.Err) != "null" {
		return fmt.Errorf("%w: %s", ErrSimulationFailed, result.Value.Err)
	}
	return nil
}

// WaitReady blocks until the chain endpoint serves a full system snapshot,
// retrying with exponential backoff. Used at startup so workers never begin
// against a dead endpoint.
func WaitReady(ctx context.Context, log *zap.Logger, chain ChainClient) (*ChainSnapshot, error) {
	var snapshot *ChainSnapshot
	err := backoff.Retry(func() error {
		s, err := chain.SystemAccounts(ctx)
		if err != nil {
			log.Warn("Chain endpoint not ready", zap.Error(err))
			return err
		}
		snapshot = s
		return nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func accountBytes(account *rpcAccount, name string) ([]byte, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	raw, err := account.bytes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return raw, nil
}
