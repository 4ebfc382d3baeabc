package miner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tonyke-bot/ore-miner/ore"
)

// Outcome is the terminal state of a submission.
type Outcome int

const (
	// OutcomeLanded means at least one signature confirmed with no error
	// inside the slot window.
	OutcomeLanded Outcome = iota
	// OutcomeDropped means the slot window expired with nothing confirmed.
	OutcomeDropped
)

func (o Outcome) String() string {
	if o == OutcomeLanded {
		return "landed"
	}
	return "dropped"
}

// Watcher polls signature statuses until a submission reaches a terminal
// state. Transient query failures are retried without limit; the only bound
// is the slot-expiration deadline.
type Watcher struct {
	log            *zap.Logger
	chain          ChainClient
	pollInterval   time.Duration
	slotExpiration uint64
}

func NewWatcher(log *zap.Logger, chain ChainClient) *Watcher {
	return &Watcher{
		log:            log.Named("watch"),
		chain:          chain,
		pollInterval:   DefaultPollInterval,
		slotExpiration: SlotExpiration,
	}
}

// Watch blocks until the record lands or expires and returns the outcome
// along with the signatures observed confirmed. The relay lands a bundle
// atomically, so one confirmed signature is treated as the whole submission
// landing.
func (w *Watcher) Watch(ctx context.Context, rec *SubmissionRecord) (Outcome, []ore.Signature) {
	latestSlot := rec.SentAtSlot
	deadline := rec.SentAtSlot + w.slotExpiration

	for latestSlot < deadline {
		sleepCtx(ctx, w.pollInterval)
		if ctx.Err() != nil {
			return OutcomeDropped, nil
		}

		statuses, slot, err := w.chain.SignatureStatuses(ctx, rec.Signatures)
		if err != nil {
			w.log.Error("Failed to get signature statuses",
				zap.Uint64("slot_latest", latestSlot),
				zap.Uint64("slot_sent", rec.SentAtSlot),
				zap.Error(err),
			)
			sleepCtx(ctx, w.pollInterval)
			continue
		}

		latestSlot = slot
		if landed := landedSignatures(rec.Signatures, statuses); len(landed) > 0 {
			return OutcomeLanded, landed
		}
	}
	return OutcomeDropped, nil
}

func landedSignatures(sigs []ore.Signature, statuses []*SignatureStatus) []ore.Signature {
	var landed []ore.Signature
	for i, status := range statuses {
		if i < len(sigs) && status.Confirmed() {
			landed = append(landed, sigs[i])
		}
	}
	return landed
}
