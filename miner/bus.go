package miner

import (
	"fmt"
	"sort"

	"github.com/tonyke-bot/ore-miner/ore"
)

// FindBuses filters buses that can cover the required reward and ranks them
// by available reward, richest first. An empty result means no capacity this
// cycle.
func FindBuses(buses []ore.Bus, required uint64) []ore.Bus {
	usable := make([]ore.Bus, 0, len(buses))
	for _, bus := range buses {
		if bus.Rewards >= required {
			usable = append(usable, bus)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Rewards > usable[j].Rewards
	})
	return usable
}

// PickRichest returns the candidate with the highest known balance. A
// candidate missing from the balance map is a data-availability error the
// caller recovers from by skipping the batch for this cycle.
func PickRichest(balances map[ore.Pubkey]uint64, candidates []ore.Pubkey) (ore.Pubkey, error) {
	if len(candidates) == 0 {
		return ore.Pubkey{}, ErrNoCandidates
	}
	var best ore.Pubkey
	var bestBalance uint64
	for i, candidate := range candidates {
		balance, ok := balances[candidate]
		if !ok {
			return ore.Pubkey{}, fmt.Errorf("%w: %s", ErrMissingBalance, candidate)
		}
		if i == 0 || balance > bestBalance {
			best = candidate
			bestBalance = balance
		}
	}
	return best, nil
}
