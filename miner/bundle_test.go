package miner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonyke-bot/ore-miner/ore"
)

func makeIdentities(t *testing.T, n int) []Identity {
	t.Helper()
	out := make([]Identity, n)
	for i := range out {
		kp, err := ore.NewKeypair()
		require.NoError(t, err)
		id, err := NewIdentity(kp)
		require.NoError(t, err)
		out[i] = id
	}
	return out
}

func makeResults(n int) []SolveResult {
	out := make([]SolveResult, n)
	for i := range out {
		out[i] = SolveResult{Hash: ore.Hash{byte(i)}, Nonce: uint64(i)}
	}
	return out
}

// isBribe reports whether a compiled instruction is the system-program
// transfer carrying the relay tip.
func isBribe(tx *ore.Transaction, ix ore.CompiledInstruction) bool {
	return tx.Message.AccountKeys[ix.ProgramIDIndex] == ore.SystemProgramID
}

func TestBuildBundleShape(t *testing.T) {
	identities := makeIdentities(t, 12)
	results := makeResults(12)

	balances := make(map[ore.Pubkey]uint64, len(identities))
	for i, id := range identities {
		balances[id.Address] = uint64(1000 + i)
	}

	tipper := identities[7]
	params := BundleParams{
		Bus:          ore.Bus{ID: 3, Rewards: 1 << 30},
		Blockhash:    ore.Hash{42},
		Tip:          50000,
		Tipper:       tipper.Address,
		TipRecipient: ore.MustPubkey(DefaultTipRecipients[0]),
	}

	bundle, err := BuildBundle(identities, results, balances, params)
	require.NoError(t, err)
	require.Len(t, bundle, 3) // ceil(12/5)

	bribes := 0
	for txIdx, tx := range bundle {
		mines := 0
		for _, ix := range tx.Message.Instructions {
			if isBribe(tx, ix) {
				bribes++
			} else {
				mines++
			}
		}
		require.LessOrEqual(t, mines, MaxInstructionsPerTx)

		// Each tx is fully signed and its fee payer is the richest member
		// of its own chunk, which is the last identity of the chunk here.
		require.Len(t, tx.Signatures, int(tx.Message.Header.NumRequiredSignatures))
		for _, sig := range tx.Signatures {
			require.NotEqual(t, ore.Signature{}, sig)
		}
		chunkEnd := (txIdx + 1) * MaxInstructionsPerTx
		if chunkEnd > len(identities) {
			chunkEnd = len(identities)
		}
		require.Equal(t, identities[chunkEnd-1].Address, tx.Message.AccountKeys[0])
	}
	require.Equal(t, 1, bribes)

	// The bribe sits in the tipper's transaction, directly after the
	// tipper's own mine instruction.
	tipperTx := bundle[1]
	require.Len(t, tipperTx.Message.Instructions, MaxInstructionsPerTx+1)
	bribeIx := tipperTx.Message.Instructions[3]
	require.True(t, isBribe(tipperTx, bribeIx))
	prev := tipperTx.Message.Instructions[2]
	require.Equal(t, tipper.Address, tipperTx.Message.AccountKeys[prev.AccountIndexes[0]])
}

func TestBuildBundleResultMismatch(t *testing.T) {
	identities := makeIdentities(t, 2)
	_, err := BuildBundle(identities, makeResults(1), nil, BundleParams{})
	require.ErrorIs(t, err, ErrResultCountMismatch)
}

func TestBuildBundleRejectsOversizedGroup(t *testing.T) {
	capacity := MaxTransactionsPerBundle * MaxInstructionsPerTx
	identities := makeIdentities(t, capacity+1)
	balances := make(map[ore.Pubkey]uint64, len(identities))
	for i, id := range identities {
		balances[id.Address] = uint64(100 + i)
	}

	_, err := BuildBundle(identities, makeResults(capacity+1), balances, BundleParams{})
	require.ErrorIs(t, err, ErrBundleTooLarge)

	// exactly at capacity still fits
	bundle, err := BuildBundle(identities[:capacity], makeResults(capacity), balances, BundleParams{
		Blockhash:    ore.Hash{1},
		Tipper:       identities[0].Address,
		TipRecipient: ore.MustPubkey(DefaultTipRecipients[0]),
	})
	require.NoError(t, err)
	require.Len(t, bundle, MaxTransactionsPerBundle)
}

func TestBuildBundleEmpty(t *testing.T) {
	_, err := BuildBundle(nil, nil, nil, BundleParams{})
	require.ErrorIs(t, err, ErrEmptyBundle)
}

func TestBundleCost(t *testing.T) {
	identities := makeIdentities(t, 6)
	results := makeResults(6)
	balances := make(map[ore.Pubkey]uint64, len(identities))
	for i, id := range identities {
		balances[id.Address] = uint64(100 + i)
	}

	params := BundleParams{
		Bus:          ore.Bus{ID: 0},
		Blockhash:    ore.Hash{1},
		Tip:          7777,
		Tipper:       identities[0].Address,
		TipRecipient: ore.MustPubkey(DefaultTipRecipients[1]),
	}
	bundle, err := BuildBundle(identities, results, balances, params)
	require.NoError(t, err)

	// 6 signers across two transactions plus the tip.
	require.Equal(t, 6*ore.FeePerSigner+uint64(7777), BundleCost(bundle, 7777))
}
