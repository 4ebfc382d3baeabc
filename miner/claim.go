package miner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tonyke-bot/ore-miner/metrics"
	"github.com/tonyke-bot/ore-miner/ore"
)

const claimRecheckInterval = 5 * time.Minute

// ClaimConfig tunes the reward-claiming flow.
type ClaimConfig struct {
	// Beneficiary receives all claimed rewards.
	Beneficiary ore.Pubkey
	// Threshold skips bundles whose total claimable reward is below it.
	Threshold uint64
	// Auto keeps the flow running, rechecking every five minutes.
	Auto bool
}

type claimable struct {
	identity Identity
	amount   uint64
}

// RunClaim drains claimable rewards into the beneficiary in bundles of up to
// five transactions with five claim instructions each. A bundle that fails
// simulation is discarded whole, never submitted, and its amount is rolled
// back from the remaining total before the loop moves on.
func (e *Engine) RunClaim(ctx context.Context, identities []Identity, cfg ClaimConfig) error {
	if len(identities) == 0 {
		return ErrNoIdentities
	}
	log := e.log.Named("claim")

	for ctx.Err() == nil {
		claimables, err := e.fetchClaimable(ctx, identities)
		if err != nil {
			log.Error("Failed to fetch claimable rewards", zap.Error(err))
			sleepCtx(ctx, errorBackoff)
			continue
		}

		var remaining uint64
		for _, c := range claimables {
			remaining += c.amount
		}
		log.Info("Claimable rewards fetched",
			zap.Float64("rewards_total", ore.UIAmount(remaining)),
			zap.Int("accounts", len(claimables)),
		)

		unitSize := MaxTransactionsPerBundle * MaxInstructionsPerTx
		for start := 0; start < len(claimables) && ctx.Err() == nil; start += unitSize {
			end := start + unitSize
			if end > len(claimables) {
				end = len(claimables)
			}
			unit := claimables[start:end]

			var unitAmount uint64
			for _, c := range unit {
				unitAmount += c.amount
			}
			if unitAmount < cfg.Threshold {
				log.Info("Batch reward is less than threshold, will not claim",
					zap.Float64("rewards_remaining", ore.UIAmount(remaining)),
					zap.Float64("rewards_batch", ore.UIAmount(unitAmount)),
				)
				break
			}

			claimed := e.claimUnit(ctx, log, unit, unitAmount, remaining, cfg)
			// landed or rejected both consume the unit's share
			if claimed {
				remaining -= unitAmount
			}
		}

		if !cfg.Auto {
			return nil
		}
		log.Info("Will check rewards again", zap.Duration("interval", claimRecheckInterval))
		sleepCtx(ctx, claimRecheckInterval)
	}
	return nil
}

// fetchClaimable returns identities with a non-zero claimable reward, richest
// first.
func (e *Engine) fetchClaimable(ctx context.Context, identities []Identity) ([]claimable, error) {
	proofAddresses := make([]ore.Pubkey, len(identities))
	for i, id := range identities {
		proofAddresses[i] = id.ProofAddress
	}
	proofs, err := e.chain.ProofAccounts(ctx, proofAddresses)
	if err != nil {
		return nil, err
	}

	var out []claimable
	for i, proof := range proofs {
		if proof.ClaimableRewards == 0 {
			continue
		}
		out = append(out, claimable{identity: identities[i], amount: proof.ClaimableRewards})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].amount > out[j-1].amount; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// claimUnit attempts to land one claim bundle. It reports true when the
// unit's amount is settled (landed, or rejected by simulation and rolled
// back), false when the unit was skipped and should count as unclaimed.
func (e *Engine) claimUnit(ctx context.Context, log *zap.Logger, unit []claimable, unitAmount, remaining uint64, cfg ClaimConfig) bool {
	for ctx.Err() == nil {
		blockhash, sentAtSlot, err := e.chain.LatestBlockhash(ctx)
		if err != nil {
			log.Error("Failed to get latest blockhash", zap.Error(err))
			sleepCtx(ctx, errorBackoff)
			continue
		}

		bundle, err := e.buildClaimBundle(ctx, unit, blockhash, cfg)
		if err != nil {
			log.Error("Failed to build claim bundle", zap.Error(err))
			return false
		}

		for _, tx := range bundle {
			err := e.chain.SimulateTransaction(ctx, tx)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrSimulationFailed) {
				// whole unit is discarded, never submitted
				metrics.IncSimRejected()
				log.Error("Simulation rejected claim bundle",
					zap.Float64("rewards_batch", ore.UIAmount(unitAmount)),
					zap.Error(err),
				)
				return true
			}
			log.Error("Failed to simulate claim transaction", zap.Error(err))
			sleepCtx(ctx, errorBackoff)
			return false
		}

		signature, bundleID, err := e.relay.SendBundle(ctx, bundle)
		if err != nil {
			metrics.IncSendErrors()
			log.Error("Failed to send claim bundle", zap.Error(err))
			return false
		}
		metrics.IncBundlesSent()
		log.Info("Claim bundle sent",
			zap.String("bundle", bundleID),
			zap.String("tx_first", signature.String()),
			zap.Float64("rewards_remaining", ore.UIAmount(remaining)),
			zap.Float64("rewards_batch", ore.UIAmount(unitAmount)),
			zap.Uint64("slot", sentAtSlot),
		)

		record := &SubmissionRecord{
			Signatures:     []ore.Signature{signature},
			SentAtSlot:     sentAtSlot,
			RewardEstimate: unitAmount,
			TipPaid:        e.cfg.BaseTip,
		}
		outcome, _ := e.watcher.Watch(ctx, record)
		if outcome == OutcomeLanded {
			metrics.IncBundlesLanded()
			log.Info("Claim successful",
				zap.Float64("rewards_remaining", ore.UIAmount(remaining-unitAmount)),
				zap.Float64("rewards_batch", ore.UIAmount(unitAmount)),
			)
			return true
		}

		metrics.IncBundlesDropped()
		log.Warn("Claim bundle dropped, retrying",
			zap.Float64("rewards_batch", ore.UIAmount(unitAmount)),
			zap.Uint64("slot", sentAtSlot),
		)
	}
	return false
}

func (e *Engine) buildClaimBundle(ctx context.Context, unit []claimable, blockhash ore.Hash, cfg ClaimConfig) ([]*ore.Transaction, error) {
	var bundle []*ore.Transaction

	for start := 0; start < len(unit); start += MaxInstructionsPerTx {
		end := start + MaxInstructionsPerTx
		if end > len(unit) {
			end = len(unit)
		}
		group := unit[start:end]

		addresses := make([]ore.Pubkey, len(group))
		signers := make([]*ore.Keypair, len(group))
		for i, c := range group {
			addresses[i] = c.identity.Address
			signers[i] = c.identity.Key
		}

		balances, err := e.chain.Balances(ctx, addresses)
		if err != nil {
			return nil, err
		}
		feePayer, err := PickRichest(balances, addresses)
		if err != nil {
			return nil, err
		}

		instructions := make([]ore.Instruction, 0, len(group)+1)
		for _, c := range group {
			instructions = append(instructions, ore.Claim(
				c.identity.Address, c.identity.ProofAddress, cfg.Beneficiary, c.amount,
			))
		}
		// the first transaction of the bundle carries the tip
		if len(bundle) == 0 {
			instructions = append(instructions, ore.Transfer(feePayer, e.relay.PickTipRecipient(), e.cfg.BaseTip))
		}

		tx := ore.NewTransaction(instructions, feePayer)
		if err := tx.Sign(signers, blockhash); err != nil {
			return nil, err
		}
		bundle = append(bundle, tx)
	}
	return bundle, nil
}
