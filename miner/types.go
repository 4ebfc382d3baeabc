// Package miner implements the bundle-mining orchestration engine: it proves
// work for a set of identities through an external solver, packages the
// proofs into relay bundles with an adaptive tip, and tracks landing outcomes
// within a slot-bounded confirmation window.
package miner

import (
	"errors"
	"time"

	"github.com/tonyke-bot/ore-miner/ore"
)

// Relay-imposed bundle limits.
const (
	MaxTransactionsPerBundle = 5
	MaxInstructionsPerTx     = 5
)

// SlotExpiration bounds how many slots past submission a bundle may still
// land. A blockhash is valid for 151 slots; a small margin covers status
// propagation.
const SlotExpiration = 151 + 5

// DefaultPollInterval is the signature-status polling cadence.
const DefaultPollInterval = 2 * time.Second

// FetchAccountLimit caps how many accounts one getMultipleAccounts call may
// request.
const FetchAccountLimit = 100

var (
	ErrNoCandidates   = errors.New("no fee payer candidates")
	ErrMissingBalance = errors.New("candidate has no known balance")
	ErrEmptyBundle    = errors.New("bundle has no transactions")
)

// Identity is a signing keypair together with its derived proof account.
// Immutable once loaded.
type Identity struct {
	Key          *ore.Keypair
	Address      ore.Pubkey
	ProofAddress ore.Pubkey
}

// NewIdentity derives the proof account for a keypair.
func NewIdentity(key *ore.Keypair) (Identity, error) {
	proof, err := ore.ProofAddress(key.Pubkey())
	if err != nil {
		return Identity{}, err
	}
	return Identity{Key: key, Address: key.Pubkey(), ProofAddress: proof}, nil
}

// IdentityBatch is a fixed-size group of identities, the unit of pooled
// scheduling.
type IdentityBatch struct {
	ID         int
	Identities []Identity
}

func (b *IdentityBatch) Addresses() []ore.Pubkey {
	out := make([]ore.Pubkey, len(b.Identities))
	for i, id := range b.Identities {
		out[i] = id.Address
	}
	return out
}

func (b *IdentityBatch) ProofAddresses() []ore.Pubkey {
	out := make([]ore.Pubkey, len(b.Identities))
	for i, id := range b.Identities {
		out[i] = id.ProofAddress
	}
	return out
}

// ChainSnapshot is the per-cycle view of the program state. Fetched fresh
// each cycle, never mutated.
type ChainSnapshot struct {
	Treasury ore.Treasury
	Clock    ore.Clock
	Buses    [ore.BusCount]ore.Bus
}

// ResetThreshold is the clock timestamp at which the current epoch state
// becomes stale.
func (s *ChainSnapshot) ResetThreshold() int64 {
	return s.Treasury.LastResetAt + int64(ore.EpochDuration/time.Second)
}

// TimeToNextEpoch reports how long the current difficulty and bus state
// remain valid.
func (s *ChainSnapshot) TimeToNextEpoch() time.Duration {
	threshold := s.ResetThreshold()
	now := s.Clock.UnixTimestamp
	if now < threshold {
		return time.Duration(threshold-now) * time.Second
	}
	next := threshold + int64(ore.EpochDuration/time.Second)
	return time.Duration(next-now) * time.Second
}

// SolveResult is one solved (hash, nonce) pair, positionally matched to its
// input work item.
type SolveResult struct {
	Hash  ore.Hash
	Nonce uint64
}

// Work is one (challenge, authority) input to the solver.
type Work struct {
	Challenge ore.Hash
	Authority ore.Pubkey
}

// SubmissionRecord tracks one in-flight bundle group from send to terminal
// state.
type SubmissionRecord struct {
	Signatures     []ore.Signature
	SentAtSlot     uint64
	RewardEstimate uint64
	TipPaid        uint64
	Cost           uint64
}
