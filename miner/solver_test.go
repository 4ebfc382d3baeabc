package miner

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/tonyke-bot/ore-miner/ore"
)

// easyDifficulty admits roughly one in sixteen hashes, so the CPU solver
// terminates quickly.
func easyDifficulty() ore.Hash {
	var d ore.Hash
	d[0] = 0x0f
	for i := 1; i < len(d); i++ {
		d[i] = 0xff
	}
	return d
}

func TestCPUSolverProducesQualifyingHashes(t *testing.T) {
	work := []Work{
		{Challenge: ore.Hash{1}, Authority: ore.Pubkey{2}},
		{Challenge: ore.Hash{3}, Authority: ore.Pubkey{4}},
	}
	difficulty := easyDifficulty()

	solver := &CPUSolver{Threads: 2}
	results, err := solver.Solve(context.Background(), difficulty, work)
	require.NoError(t, err)
	require.Len(t, results, len(work))

	for i, r := range results {
		// re-derive the hash and check it both matches and qualifies
		hasher := sha3.NewLegacyKeccak256()
		hasher.Write(work[i].Challenge[:])
		hasher.Write(work[i].Authority[:])
		var nonceBytes [8]byte
		binary.LittleEndian.PutUint64(nonceBytes[:], r.Nonce)
		hasher.Write(nonceBytes[:])
		digest := hasher.Sum(nil)

		require.Equal(t, digest, r.Hash[:])
		require.LessOrEqual(t, bytes.Compare(digest, difficulty[:]), 0)
	}
}

func TestCPUSolverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	solver := &CPUSolver{Threads: 1}
	_, err := solver.Solve(ctx, easyDifficulty(), []Work{{}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessSolverInputFraming(t *testing.T) {
	// cat replays stdin, letting us inspect the exact request framing; the
	// solver rejects it because the echoed bytes are not 40-byte records.
	solver := &ProcessSolver{Path: "cat", Threads: 4}
	work := []Work{
		{Challenge: ore.Hash{1}, Authority: ore.Pubkey{2}},
		{Challenge: ore.Hash{3}, Authority: ore.Pubkey{4}},
	}
	_, err := solver.Solve(context.Background(), easyDifficulty(), work)
	require.ErrorContains(t, err, "output bytes")
}

func TestProcessSolverParsesRecords(t *testing.T) {
	// head -c emits exactly two records' worth of NUL bytes regardless of
	// input, which the solver must parse as zero hashes and zero nonces.
	solver := &ProcessSolver{Path: "testdata/zero_solver.sh", Threads: 1}
	work := []Work{{}, {}}

	results, err := solver.Solve(context.Background(), easyDifficulty(), work)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, ore.Hash{}, r.Hash)
		require.Zero(t, r.Nonce)
	}
}
