package miner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tonyke-bot/ore-miner/ore"
)

const (
	errorBackoff     = 500 * time.Millisecond
	rewardReportTick = 10 * time.Minute
)

var (
	ErrNoIdentities    = errors.New("no identities loaded")
	ErrUnevenBatchSize = errors.New("identity count is not a multiple of the batch size")
	ErrBaseTipRequired = errors.New("base tip must be set")
)

// Config tunes the orchestration engine. Validation failures are operator
// errors and abort startup.
type Config struct {
	// Threads is the solver thread budget.
	Threads int
	// Concurrency bounds how many fixed-mode workers may be mid-cycle
	// (snapshot fetch + solve) at once.
	Concurrency int
	// MaxBuses caps how many bundles (one per bus) a cycle submits.
	MaxBuses int
	// BatchSize is the identity-group size, the unit of scheduling.
	BatchSize int
	// BaseTip is the relay tip when adaptive bidding is off or cold.
	BaseTip uint64
	// MaxAdaptiveTip caps adaptive bidding; zero disables it.
	MaxAdaptiveTip uint64
	// TipFloor is the minimum adaptive bid.
	TipFloor uint64
}

func (c *Config) Validate() error {
	if c.BaseTip == 0 {
		return ErrBaseTipRequired
	}
	if c.MaxBuses <= 0 {
		return errors.New("max buses must be greater than 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be greater than 0")
	}
	if c.BatchSize > MaxTransactionsPerBundle*MaxInstructionsPerTx {
		return fmt.Errorf("batch size must not exceed %d", MaxTransactionsPerBundle*MaxInstructionsPerTx)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return nil
}

// Engine drives proof solving, bundle construction, submission and
// confirmation for a set of identities.
type Engine struct {
	log     *zap.Logger
	chain   ChainClient
	relay   *RelayClient
	tips    *TipFeed
	solver  Solver
	watcher *Watcher
	cfg     Config

	rewardCounter atomic.Uint64
}

func NewEngine(log *zap.Logger, chain ChainClient, relay *RelayClient, tips *TipFeed, solver Solver, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log:     log.Named("miner"),
		chain:   chain,
		relay:   relay,
		tips:    tips,
		solver:  solver,
		watcher: NewWatcher(log, chain),
		cfg:     cfg,
	}, nil
}

// SplitBatches partitions identities into scheduling units. Fixed mode
// tolerates a short tail batch; pooled mode requires an exact partition.
func SplitBatches(identities []Identity, size int, exact bool) ([]IdentityBatch, error) {
	if len(identities) == 0 {
		return nil, ErrNoIdentities
	}
	if exact && len(identities)%size != 0 {
		return nil, fmt.Errorf("%w: %d identities, batch size %d", ErrUnevenBatchSize, len(identities), size)
	}
	var batches []IdentityBatch
	for start := 0; start < len(identities); start += size {
		end := start + size
		if end > len(identities) {
			end = len(identities)
		}
		batches = append(batches, IdentityBatch{
			ID:         len(batches),
			Identities: identities[start:end],
		})
	}
	return batches, nil
}

// reportRewards logs the reward accumulated since the previous report.
func (e *Engine) reportRewards(ctx context.Context) {
	ticker := time.NewTicker(rewardReportTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rewards := e.rewardCounter.Swap(0)
			if rewards > 0 {
				e.log.Info("Reward mined", zap.Float64("rewards", ore.UIAmount(rewards)))
			}
		}
	}
}

// checkFeeBalances re-reads the fee payers of a sent bundle and flags any
// whose balance no longer covers its transaction's share of the cost. Purely
// diagnostic; the bundle is already with the relay.
func (e *Engine) checkFeeBalances(ctx context.Context, log *zap.Logger, bundle []*ore.Transaction, tip uint64) {
	payers := make([]ore.Pubkey, len(bundle))
	for i, tx := range bundle {
		payers[i] = tx.Message.AccountKeys[0]
	}
	balances, err := e.chain.Balances(ctx, payers)
	if err != nil {
		log.Error("Failed to get fee payer balances", zap.Error(err))
		return
	}
	for i, tx := range bundle {
		cost := uint64(len(tx.Signatures))*ore.FeePerSigner + tip
		if balance := balances[payers[i]]; balance < cost {
			log.Error("Insufficient balance for fee",
				zap.String("fee_payer", payers[i].String()),
				zap.Uint64("balance", balance),
				zap.Uint64("cost", cost),
			)
		}
	}
}

// solveBatch pairs proofs with their identities and runs the solver.
func (e *Engine) solveBatch(ctx context.Context, difficulty ore.Hash, identities []Identity, proofs []ore.Proof) (time.Duration, []SolveResult, error) {
	work := make([]Work, len(identities))
	for i, id := range identities {
		work[i] = Work{Challenge: proofs[i].Challenge, Authority: id.Address}
	}
	start := time.Now()
	results, err := e.solver.Solve(ctx, difficulty, work)
	if err != nil {
		return 0, nil, err
	}
	if len(results) != len(work) {
		return 0, nil, fmt.Errorf("%w: %d vs %d", ErrResultCountMismatch, len(results), len(work))
	}
	return time.Since(start), results, nil
}
