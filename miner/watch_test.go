package miner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tonyke-bot/ore-miner/ore"
)

// fakeChain scripts the ledger query surface for tests. Unset methods fail.
type fakeChain struct {
	mu sync.Mutex

	systemAccounts    func(ctx context.Context) (*ChainSnapshot, error)
	proofAccounts     func(ctx context.Context, addrs []ore.Pubkey) ([]ore.Proof, error)
	balances          func(ctx context.Context, addrs []ore.Pubkey) (map[ore.Pubkey]uint64, error)
	latestBlockhash   func(ctx context.Context) (ore.Hash, uint64, error)
	signatureStatuses func(ctx context.Context, sigs []ore.Signature) ([]*SignatureStatus, uint64, error)
	simulate          func(ctx context.Context, tx *ore.Transaction) error
}

var errFakeUnset = errors.New("fake method not set")

func (f *fakeChain) SystemAccounts(ctx context.Context) (*ChainSnapshot, error) {
	f.mu.Lock()
	fn := f.systemAccounts
	f.mu.Unlock()
	if fn == nil {
		return nil, errFakeUnset
	}
	return fn(ctx)
}

func (f *fakeChain) ProofAccounts(ctx context.Context, addrs []ore.Pubkey) ([]ore.Proof, error) {
	f.mu.Lock()
	fn := f.proofAccounts
	f.mu.Unlock()
	if fn == nil {
		return nil, errFakeUnset
	}
	return fn(ctx, addrs)
}

func (f *fakeChain) Balances(ctx context.Context, addrs []ore.Pubkey) (map[ore.Pubkey]uint64, error) {
	f.mu.Lock()
	fn := f.balances
	f.mu.Unlock()
	if fn == nil {
		return nil, errFakeUnset
	}
	return fn(ctx, addrs)
}

func (f *fakeChain) LatestBlockhash(ctx context.Context) (ore.Hash, uint64, error) {
	f.mu.Lock()
	fn := f.latestBlockhash
	f.mu.Unlock()
	if fn == nil {
		return ore.Hash{}, 0, errFakeUnset
	}
	return fn(ctx)
}

func (f *fakeChain) SignatureStatuses(ctx context.Context, sigs []ore.Signature) ([]*SignatureStatus, uint64, error) {
	f.mu.Lock()
	fn := f.signatureStatuses
	f.mu.Unlock()
	if fn == nil {
		return nil, 0, errFakeUnset
	}
	return fn(ctx, sigs)
}

func (f *fakeChain) SimulateTransaction(ctx context.Context, tx *ore.Transaction) error {
	f.mu.Lock()
	fn := f.simulate
	f.mu.Unlock()
	if fn == nil {
		return errFakeUnset
	}
	return fn(ctx, tx)
}

func newTestWatcher(chain ChainClient) *Watcher {
	return &Watcher{
		log:            zap.NewNop(),
		chain:          chain,
		pollInterval:   time.Millisecond,
		slotExpiration: SlotExpiration,
	}
}

func confirmedStatus() *SignatureStatus {
	return &SignatureStatus{ConfirmationStatus: "confirmed"}
}

func TestWatchLands(t *testing.T) {
	sigs := []ore.Signature{{1}, {2}, {3}}

	polls := 0
	chain := &fakeChain{
		signatureStatuses: func(ctx context.Context, got []ore.Signature) ([]*SignatureStatus, uint64, error) {
			require.Equal(t, sigs, got)
			polls++
			if polls < 3 {
				return []*SignatureStatus{nil, nil, nil}, 100 + uint64(polls), nil
			}
			// second signature confirms, third carries an error
			failed := &SignatureStatus{ConfirmationStatus: "confirmed", Err: []byte(`{"InstructionError":[0,"Custom"]}`)}
			return []*SignatureStatus{nil, confirmedStatus(), failed}, 103, nil
		},
	}

	outcome, landed := newTestWatcher(chain).Watch(context.Background(), &SubmissionRecord{
		Signatures: sigs,
		SentAtSlot: 100,
	})
	require.Equal(t, OutcomeLanded, outcome)
	require.Equal(t, []ore.Signature{{2}}, landed)
}

func TestWatchExpires(t *testing.T) {
	sigs := []ore.Signature{{9}}

	slot := uint64(100)
	chain := &fakeChain{
		signatureStatuses: func(ctx context.Context, got []ore.Signature) ([]*SignatureStatus, uint64, error) {
			slot += 50
			return []*SignatureStatus{nil}, slot, nil
		},
	}

	outcome, landed := newTestWatcher(chain).Watch(context.Background(), &SubmissionRecord{
		Signatures: sigs,
		SentAtSlot: 100,
	})
	require.Equal(t, OutcomeDropped, outcome)
	require.Empty(t, landed)
}

func TestWatchRetriesQueryFailures(t *testing.T) {
	sigs := []ore.Signature{{7}}

	polls := 0
	chain := &fakeChain{
		signatureStatuses: func(ctx context.Context, got []ore.Signature) ([]*SignatureStatus, uint64, error) {
			polls++
			if polls < 3 {
				return nil, 0, errors.New("rpc unavailable")
			}
			return []*SignatureStatus{confirmedStatus()}, 101, nil
		},
	}

	outcome, landed := newTestWatcher(chain).Watch(context.Background(), &SubmissionRecord{
		Signatures: sigs,
		SentAtSlot: 100,
	})
	require.Equal(t, OutcomeLanded, outcome)
	require.Equal(t, sigs, landed)
}

func TestWatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := &fakeChain{
		signatureStatuses: func(ctx context.Context, got []ore.Signature) ([]*SignatureStatus, uint64, error) {
			t.Fatal("must not poll after cancellation")
			return nil, 0, nil
		},
	}

	outcome, landed := newTestWatcher(chain).Watch(ctx, &SubmissionRecord{
		Signatures: []ore.Signature{{1}},
		SentAtSlot: 100,
	})
	require.Equal(t, OutcomeDropped, outcome)
	require.Empty(t, landed)
}

func TestSignatureStatusConfirmed(t *testing.T) {
	require.False(t, (*SignatureStatus)(nil).Confirmed())
	require.False(t, (&SignatureStatus{ConfirmationStatus: "processed"}).Confirmed())
	require.True(t, (&SignatureStatus{ConfirmationStatus: "finalized"}).Confirmed())
	require.True(t, (&SignatureStatus{ConfirmationStatus: "confirmed", Err: []byte("null")}).Confirmed())
	require.False(t, (&SignatureStatus{ConfirmationStatus: "confirmed", Err: []byte(`{"some":"error"}`)}).Confirmed())
}
