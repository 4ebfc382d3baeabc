package miner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tonyke-bot/ore-miner/metrics"
	"github.com/tonyke-bot/ore-miner/ore"
)

// RunFixed runs the fixed-worker mode: one persistent worker per identity
// batch, each looping forever. A shared permit pool bounds how many workers
// may be fetching state and solving at once; submission and confirmation run
// outside the permit so they never throttle compute.
func (e *Engine) RunFixed(ctx context.Context, identities []Identity) error {
	batches, err := SplitBatches(identities, e.cfg.BatchSize, false)
	if err != nil {
		return err
	}

	permits := make(chan struct{}, e.cfg.Concurrency)
	for _, batch := range batches {
		go e.fixedWorker(ctx, batch, permits)
	}

	e.reportRewards(ctx)
	return nil
}

func (e *Engine) fixedWorker(ctx context.Context, batch IdentityBatch, permits chan struct{}) {
	log := e.log.Named("worker").With(zap.Int("worker-id", batch.ID))
	log.Info("Miner worker started", zap.Int("accounts", len(batch.Identities)))

	for ctx.Err() == nil {
		e.fixedCycle(ctx, log, batch, permits)
	}
}

// fixedCycle is one mine → bundle → submit → confirm pass. Any failure
// abandons the cycle; the next one starts with fresh chain state.
func (e *Engine) fixedCycle(ctx context.Context, log *zap.Logger, batch IdentityBatch, permits chan struct{}) {
	addresses := batch.Addresses()

	balances, err := e.chain.Balances(ctx, addresses)
	if err != nil {
		log.Error("Failed to get signer balances", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return
	}

	queueStart := time.Now()
	select {
	case permits <- struct{}{}:
	case <-ctx.Done():
		return
	}
	release := func() { <-permits }
	queueWait := time.Since(queueStart)

	snap, err := e.chain.SystemAccounts(ctx)
	if err != nil {
		release()
		log.Error("Failed to fetch system accounts", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return
	}

	proofs, err := e.chain.ProofAccounts(ctx, batch.ProofAddresses())
	if err != nil {
		release()
		log.Error("Failed to fetch proof accounts", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return
	}

	timeToNextEpoch := snap.TimeToNextEpoch()

	miningDuration, results, err := e.solveBatch(ctx, snap.Treasury.Difficulty, batch.Identities, proofs)
	if err != nil {
		release()
		log.Error("Solver failed", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return
	}
	if miningDuration > timeToNextEpoch {
		release()
		log.Warn("Mining took too long, waiting for next epoch",
			zap.Duration("mining", miningDuration))
		sleepCtx(ctx, timeToNextEpoch)
		return
	}
	release()
	metrics.RecordMiningDuration(miningDuration.Milliseconds())

	log.Debug("Mining done",
		zap.Duration("mining", miningDuration),
		zap.Duration("queue", queueWait),
	)

	// every mine instruction plus headroom must fit in the bus
	required := snap.Treasury.RewardRate * uint64(len(batch.Identities)+4)
	buses := FindBuses(snap.Buses[:], required)
	if len(buses) == 0 {
		log.Warn("No bus available for mining, waiting for next epoch")
		sleepCtx(ctx, timeToNextEpoch)
		return
	}
	if len(buses) > e.cfg.MaxBuses {
		buses = buses[:e.cfg.MaxBuses]
	}

	rewards := snap.Treasury.RewardRate * uint64(len(batch.Identities))
	tip := AdaptiveTip(e.cfg.BaseTip, e.cfg.MaxAdaptiveTip, e.tips.Snapshot(), e.cfg.TipFloor)

	tipper, err := PickRichest(balances, addresses)
	if err != nil {
		log.Error("Failed to pick bundle tipper, skipping batch this cycle", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return
	}

	blockhash, sentAtSlot, err := e.chain.LatestBlockhash(ctx)
	if err != nil {
		log.Error("Failed to get latest blockhash", zap.Error(err))
		sleepCtx(ctx, errorBackoff)
		return
	}

	confirmStart := time.Now()
	var signatures []ore.Signature
	for _, bus := range buses {
		bundle, err := BuildBundle(batch.Identities, results, balances, BundleParams{
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
		signatures = append(signatures, signature)
	}

	if len(signatures) == 0 {
		log.Warn("No bundle sent")
		return
	}

	snapshot := e.tips.Snapshot()
	log.Info("Bundles sent",
		zap.Duration("mining", miningDuration),
		zap.Duration("queue", queueWait),
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
	}
	outcome, landed := e.watcher.Watch(ctx, record)
	confirmDuration := time.Since(confirmStart)
	metrics.RecordConfirmDuration(confirmDuration.Milliseconds())

	if outcome == OutcomeLanded {
		metrics.IncBundlesLanded()
		metrics.AddRewardsMined(rewards)
		metrics.AddTipPaid(tip)
		e.rewardCounter.Add(rewards)
		log.Info("Bundle mined",
			zap.Duration("mining", miningDuration),
			zap.Duration("queue", queueWait),
			zap.Duration("confirm", confirmDuration),
			zap.Float64("rewards", ore.UIAmount(rewards)),
			zap.String("tx_first", landed[0].String()),
		)
	} else {
		// re-read the feed so the logged percentiles reflect the market
		// that outbid this submission
		snapshot = e.tips.Snapshot()
		metrics.IncBundlesDropped()
		log.Warn("Bundle dropped",
			zap.Duration("mining", miningDuration),
			zap.Duration("queue", queueWait),
			zap.Duration("confirm", confirmDuration),
			zap.Float64("rewards", ore.UIAmount(rewards)),
			zap.Uint64("tip", tip),
			zap.Uint64("tip_p25", snapshot.P25),
			zap.Uint64("tip_p50", snapshot.P50),
		)
	}
}
