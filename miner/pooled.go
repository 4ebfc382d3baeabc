package miner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tonyke-bot/ore-miner/batchpool"
	"github.com/tonyke-bot/ore-miner/metrics"
	"github.com/tonyke-bot/ore-miner/ore"
)

const (
	// maxDrainedBatches caps how many batches one pipeline pass handles.
	maxDrainedBatches = 4
	drainIdleDelay    = 500 * time.Millisecond
)

type batchLease = batchpool.Lease[IdentityBatch]

// RunPooled runs the pooled-batch mode: identities are partitioned once into
// fixed-size batches held in a recyclable pool. The scheduler drains up to
// four batches per pass, solves them against one shared chain snapshot and
// submits a bundle group per batch; confirmation watches run as detached
// tasks that return each batch to the pool, so solving throughput is never
// blocked on confirmation latency.
func (e *Engine) RunPooled(ctx context.Context, identities []Identity) error {
	batches, err := SplitBatches(identities, e.cfg.BatchSize, true)
	if err != nil {
		return err
	}
	e.log.Info("Split identities into batches",
		zap.Int("identities", len(identities)),
		zap.Int("batches", len(batches)),
	)

	pool := batchpool.New(batches)
	metrics.SetIdleBatches(pool.Idle())

	go e.reportRewards(ctx)

	for ctx.Err() == nil {
		leases := pool.Drain(maxDrainedBatches)
		if len(leases) == 0 {
			e.log.Debug("No batch parked, waiting")
			sleepCtx(ctx, drainIdleDelay)
			continue
		}
		metrics.SetIdleBatches(pool.Idle())

		// A fetch or solve failure retries the same drained group in place;
		// the leases only travel through the pool-release path once a
		// submission pipeline pass actually completes.
		for ctx.Err() == nil {
			if done := e.pooledPass(ctx, pool, leases); done {
				break
			}
		}
	}
	return nil
}

// pooledPass runs one pipeline pass over the drained batch group. It
// reports false when the group must be retried by the caller (no bundle was
// sent and no lease was consumed).
func (e *Engine) pooledPass(ctx context.Context, pool *batchpool.Pool[IdentityBatch], leases []*batchLease) bool {
	snap, err := e.chain.SystemAccounts(ctx)
	if err != nil {
		e.log.Error("Failed to fetch system accounts", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return false
	}

	var addresses, proofAddresses []ore.Pubkey
	for _, lease := range leases {
		addresses = append(addresses, lease.Item.Addresses()...)
		proofAddresses = append(proofAddresses, lease.Item.ProofAddresses()...)
	}
	combined := make([]Identity, 0, len(addresses))
	for _, lease := range leases {
		combined = append(combined, lease.Item.Identities...)
	}

	balances, err := e.chain.Balances(ctx, addresses)
	if err != nil {
		e.log.Error("Failed to get signer balances", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return false
	}

	proofs, err := e.chain.ProofAccounts(ctx, proofAddresses)
	if err != nil {
		e.log.Error("Failed to fetch proof accounts", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return false
	}

	timeToNextEpoch := snap.TimeToNextEpoch()

	miningDuration, results, err := e.solveBatch(ctx, snap.Treasury.Difficulty, combined, proofs)
	if err != nil {
		e.log.Error("Solver failed", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return false
	}
	if miningDuration > timeToNextEpoch {
		e.log.Warn("Mining took too long, waiting for next epoch",
			zap.Duration("mining", miningDuration))
		sleepCtx(ctx, timeToNextEpoch)
		return false
	}
	metrics.RecordMiningDuration(miningDuration.Milliseconds())
	e.log.Info("Mining done",
		zap.Int("accounts", len(combined)),
		zap.Int("accounts_idle", pool.Idle()*e.cfg.BatchSize),
		zap.Duration("mining", miningDuration),
	)

	required := snap.Treasury.RewardRate * uint64(len(addresses)+20)
	buses := FindBuses(snap.Buses[:], required)
	if len(buses) == 0 {
		e.log.Warn("No bus available for mining, waiting for next epoch")
		sleepCtx(ctx, timeToNextEpoch)
		return false
	}
	if len(buses) > e.cfg.MaxBuses {
		buses = buses[:e.cfg.MaxBuses]
	}

	blockhash, sentAtSlot, err := e.chain.LatestBlockhash(ctx)
	if err != nil {
		e.log.Error("Failed to get latest blockhash", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return false
	}

	rewards := snap.Treasury.RewardRate * uint64(e.cfg.BatchSize)

	go e.submitPooled(ctx, pool, leases, results, balances, buses, blockhash, sentAtSlot, miningDuration, rewards)
	return true
}

// submitPooled builds and sends one bundle group per drained batch, then
// spawns a detached watcher per batch whose only side effects are a log
// line, metrics and the pool release.
func (e *Engine) submitPooled(
	ctx context.Context,
	pool *batchpool.Pool[IdentityBatch],
	leases []*batchLease,
	results []SolveResult,
	balances map[ore.Pubkey]uint64,
	buses []ore.Bus,
	blockhash ore.Hash,
	sentAtSlot uint64,
	miningDuration time.Duration,
	rewards uint64,
) {
	snapshot := e.tips.Snapshot()
	tip := AdaptiveTip(e.cfg.BaseTip, e.cfg.MaxAdaptiveTip, snapshot, e.cfg.TipFloor)

	offset := 0
	for _, lease := range leases {
		batch := lease.Item
		batchResults := results[offset : offset+len(batch.Identities)]
		offset += len(batch.Identities)

		log := e.log.With(zap.Int("batch", batch.ID))

		tipper, err := PickRichest(balances, batch.Addresses())
		if err != nil {
			log.Error("Failed to pick bundle tipper, skipping batch this cycle", zap.Error(err))
			e.releaseLease(pool, lease)
			continue
		}

		sendStart := time.Now()
		var signatures []ore.Signature
		var cost uint64
		for _, bus := range buses {
			bundle, err := BuildBundle(batch.Identities, batchResults, balances, BundleParams{
				Bus:          bus,
				Blockhash:    blockhash,
				Tip:          tip,
				Tipper:       tipper,
				TipRecipient: e.relay.PickTipRecipient(),
			})
			if err != nil {
				log.Error("Failed to build bundle", zap.Uint64("bus", bus.ID), zap.Error(err))
				continue
			}

			signature, bundleID, err := e.relay.SendBundle(ctx, bundle)
			if err != nil {
				metrics.IncSendErrors()
				log.Error("Failed to send bundle", zap.Uint64("bus", bus.ID), zap.Error(err))
				continue
			}
			metrics.IncBundlesSent()
			log.Debug("Bundle sent",
				zap.String("bundle", bundleID),
				zap.String("signature", signature.String()),
			)
			e.checkFeeBalances(ctx, log, bundle, tip)
			cost = BundleCost(bundle, tip)
			signatures = append(signatures, signature)
		}

		if len(signatures) == 0 {
			log.Warn("No bundle sent")
			e.releaseLease(pool, lease)
			continue
		}

		log.Info("Bundles sent",
			zap.Duration("mining", miningDuration),
			zap.Uint64("tip", tip),
			zap.Uint64("tip_p25", snapshot.P25),
			zap.Uint64("tip_p50", snapshot.P50),
			zap.Uint64("slot", sentAtSlot),
		)

		record := &SubmissionRecord{
			Signatures:     signatures,
			SentAtSlot:     sentAtSlot,
			RewardEstimate: rewards,
			TipPaid:        tip,
			Cost:           cost,
		}
		go e.watchPooled(ctx, pool, lease, log, record, sendStart)
	}
}

func (e *Engine) watchPooled(
	ctx context.Context,
	pool *batchpool.Pool[IdentityBatch],
	lease *batchLease,
	log *zap.Logger,
	record *SubmissionRecord,
	sendStart time.Time,
) {
	outcome, landed := e.watcher.Watch(ctx, record)
	confirmDuration := time.Since(sendStart)
	metrics.RecordConfirmDuration(confirmDuration.Milliseconds())

	if outcome == OutcomeLanded {
		metrics.IncBundlesLanded()
		metrics.AddRewardsMined(record.RewardEstimate)
		metrics.AddTipPaid(record.TipPaid)
		e.rewardCounter.Add(record.RewardEstimate)
		log.Info("Bundle mined",
			zap.Duration("confirm", confirmDuration),
			zap.Float64("rewards", ore.UIAmount(record.RewardEstimate)),
			zap.Float64("cost", ore.UIAmount(record.Cost)),
			zap.Uint64("tip", record.TipPaid),
			zap.String("tx_first", landed[0].String()),
		)
	} else {
		snapshot := e.tips.Snapshot()
		metrics.IncBundlesDropped()
		log.Warn("Bundle dropped",
			zap.Duration("confirm", confirmDuration),
			zap.Uint64("tip", record.TipPaid),
			zap.Uint64("tip_p25", snapshot.P25),
			zap.Uint64("tip_p50", snapshot.P50),
		)
	}

	e.releaseLease(pool, lease)
}

func (e *Engine) releaseLease(pool *batchpool.Pool[IdentityBatch], lease *batchLease) {
	pool.Release(lease)
	metrics.SetIdleBatches(pool.Idle())
}
