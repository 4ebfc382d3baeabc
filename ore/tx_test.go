package ore

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeypair(t *testing.T) *Keypair {
	t.Helper()
	kp, err := NewKeypair()
	require.NoError(t, err)
	return kp
}

func TestShortVecLenRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 5, 127, 128, 300, 16383} {
		var buf bytes.Buffer
		writeShortVecLen(&buf, n)
		got, consumed, err := ShortVecLen(buf.Bytes())
		require.NoError(t, err)
		require.Equal(t, n, got)
		require.Equal(t, buf.Len(), consumed)
	}
}

func TestNewTransactionFeePayerFirst(t *testing.T) {
	payer := testKeypair(t)
	other := testKeypair(t)

	proof, err := ProofAddress(other.Pubkey())
	require.NoError(t, err)

	ix := Mine(other.Pubkey(), BusAddresses[0], proof, Hash{1}, 42)
	tx := NewTransaction([]Instruction{ix}, payer.Pubkey())

	require.Equal(t, payer.Pubkey(), tx.Message.AccountKeys[0])
	require.Equal(t, uint8(2), tx.Message.Header.NumRequiredSignatures)
	require.Len(t, tx.Signatures, 2)

	// program accounts are readonly non-signers and must come last
	last := tx.Message.AccountKeys[len(tx.Message.AccountKeys)-1]
	require.Contains(t, []Pubkey{ProgramID, ClockSysvarID, TreasuryAddress}, last)
}

func TestTransactionSignVerify(t *testing.T) {
	payer := testKeypair(t)
	proof, err := ProofAddress(payer.Pubkey())
	require.NoError(t, err)

	ix := Mine(payer.Pubkey(), BusAddresses[3], proof, Hash{7}, 1)
	tx := NewTransaction([]Instruction{ix}, payer.Pubkey())

	blockhash := Hash{9, 9, 9}
	require.NoError(t, tx.Sign([]*Keypair{payer}, blockhash))
	require.Equal(t, blockhash, tx.Message.RecentBlockhash)

	payload := tx.Message.Serialize()
	pub := ed25519.PublicKey(payer.Pubkey().Bytes())
	require.True(t, ed25519.Verify(pub, payload, tx.Signatures[0][:]))
}

func TestTransactionSignMissingSigner(t *testing.T) {
	payer := testKeypair(t)
	other := testKeypair(t)
	proof, err := ProofAddress(other.Pubkey())
	require.NoError(t, err)

	ix := Mine(other.Pubkey(), BusAddresses[0], proof, Hash{}, 0)
	tx := NewTransaction([]Instruction{ix}, payer.Pubkey())

	err = tx.Sign([]*Keypair{payer}, Hash{})
	require.ErrorIs(t, err, ErrMissingSigner)
}

func TestProofAddressStable(t *testing.T) {
	kp := testKeypair(t)

	a, err := ProofAddress(kp.Pubkey())
	require.NoError(t, err)
	b, err := ProofAddress(kp.Pubkey())
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NotEqual(t, Pubkey{}, a)
}

func TestParsePubkeyRoundTrip(t *testing.T) {
	kp := testKeypair(t)
	parsed, err := ParsePubkey(kp.Pubkey().String())
	require.NoError(t, err)
	require.Equal(t, kp.Pubkey(), parsed)

	_, err = ParsePubkey("not-a-key")
	require.ErrorIs(t, err, ErrInvalidPubkey)
}
