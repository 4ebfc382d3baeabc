package miner

import (
	"errors"
	"fmt"

	"github.com/tonyke-bot/ore-miner/ore"
)

var (
	ErrResultCountMismatch = errors.New("solve result count does not match identity count")
	ErrBundleTooLarge      = errors.New("identity count exceeds bundle capacity")
)

// BundleParams carries everything a bundle build needs beyond the identities
// themselves.
type BundleParams struct {
	Bus          ore.Bus
	Blockhash    ore.Hash
	Tip          uint64
	Tipper       ore.Pubkey
	TipRecipient ore.Pubkey
}

// BuildBundle assembles solved proofs into a signed bundle for one bus.
// Identities are chunked into transactions of at most five mine
// instructions; each transaction's fee payer is the richest member of its
// own chunk. The bribe instruction is appended exactly once, immediately
// after the batch-level tipper's own mine instruction. A group that would
// not fit the relay's five-transaction limit is rejected outright.
func BuildBundle(identities []Identity, results []SolveResult, balances map[ore.Pubkey]uint64, p BundleParams) ([]*ore.Transaction, error) {
	if len(identities) != len(results) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrResultCountMismatch, len(results), len(identities))
	}
	if len(identities) == 0 {
		return nil, ErrEmptyBundle
	}
	if len(identities) > MaxTransactionsPerBundle*MaxInstructionsPerTx {
		return nil, fmt.Errorf("%w: %d identities, capacity %d",
			ErrBundleTooLarge, len(identities), MaxTransactionsPerBundle*MaxInstructionsPerTx)
	}

	busAddress := ore.BusAddresses[p.Bus.ID]
	bundle := make([]*ore.Transaction, 0, MaxTransactionsPerBundle)

	for start := 0; start < len(identities); start += MaxInstructionsPerTx {
		end := start + MaxInstructionsPerTx
		if end > len(identities) {
			end = len(identities)
		}
		chunk := identities[start:end]
		chunkResults := results[start:end]

		candidates := make([]ore.Pubkey, len(chunk))
		signers := make([]*ore.Keypair, len(chunk))
		for i, id := range chunk {
			candidates[i] = id.Address
			signers[i] = id.Key
		}
		feePayer, err := PickRichest(balances, candidates)
		if err != nil {
			return nil, err
		}

		instructions := make([]ore.Instruction, 0, len(chunk)+1)
		for i, id := range chunk {
			instructions = append(instructions, ore.Mine(
				id.Address, busAddress, id.ProofAddress,
				chunkResults[i].Hash, chunkResults[i].Nonce,
			))
			if id.Address == p.Tipper {
				instructions = append(instructions, ore.Transfer(p.Tipper, p.TipRecipient, p.Tip))
			}
		}

		tx := ore.NewTransaction(instructions, feePayer)
		if err := tx.Sign(signers, p.Blockhash); err != nil {
			return nil, err
		}
		bundle = append(bundle, tx)
	}
	return bundle, nil
}

// BundleCost is the fee the bundle's payers will be charged: the base fee
// per signature plus the tip if this bundle carries it.
func BundleCost(bundle []*ore.Transaction, tip uint64) uint64 {
	cost := tip
	for _, tx := range bundle {
		cost += uint64(len(tx.Signatures)) * ore.FeePerSigner
	}
	return cost
}
