package miner

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const tipFeedReconnectDelay = 5 * time.Second

// TipSnapshot holds percentile landed-tip amounts in lamports. The zero
// value means the feed has not delivered a sample yet.
type TipSnapshot struct {
	P25 uint64
	P50 uint64
	P75 uint64
	P95 uint64
	P99 uint64
}

// tipRecord is the feed's wire format: percentiles in SOL.
type tipRecord struct {
	P25 float64 `json:"landed_tips_25th_percentile"`
	P50 float64 `json:"landed_tips_50th_percentile"`
	P75 float64 `json:"landed_tips_75th_percentile"`
	P95 float64 `json:"landed_tips_95th_percentile"`
	P99 float64 `json:"landed_tips_99th_percentile"`
}

func (r tipRecord) snapshot() TipSnapshot {
	toLamports := func(sol float64) uint64 { return uint64(sol * 1e9) }
	return TipSnapshot{
		P25: toLamports(r.P25),
		P50: toLamports(r.P50),
		P75: toLamports(r.P75),
		P95: toLamports(r.P95),
		P99: toLamports(r.P99),
	}
}

// TipFeed owns the continuously-updated tip snapshot. A single background
// task writes it; any number of workers read point-in-time copies.
type TipFeed struct {
	log *zap.Logger
	url string

	mu   sync.RWMutex
	snap TipSnapshot
}

func NewTipFeed(log *zap.Logger, url string) *TipFeed {
	return &TipFeed{log: log.Named("tips"), url: url}
}

// Snapshot returns the current percentile view. Staleness up to one feed
// interval is acceptable.
func (f *TipFeed) Snapshot() TipSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

func (f *TipFeed) publish(s TipSnapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

// Subscribe starts the feed task. It maintains the stream connection
// forever, reconnecting after a fixed delay; errors are logged, never
// surfaced.
func (f *TipFeed) Subscribe(ctx context.Context) {
	go func() {
		for ctx.Err() == nil {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
			if err != nil {
				f.log.Error("Failed to connect to tip stream", zap.Error(err))
				sleepCtx(ctx, tipFeedReconnectDelay)
				continue
			}
			f.readLoop(conn)
			f.log.Info("Tip stream disconnected, reconnecting in 5 seconds")
			sleepCtx(ctx, tipFeedReconnectDelay)
		}
	}()
}

func (f *TipFeed) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.log.Error("Failed to read tip stream message", zap.Error(err))
			return
		}
		var records []tipRecord
		if err := json.Unmarshal(data, &records); err != nil {
			f.log.Error("Failed to parse tip stream message", zap.Error(err))
			continue
		}
		if len(records) == 0 {
			continue
		}
		// keep only the most recent record
		f.publish(records[0].snapshot())
	}
}

// LogLoop logs the current snapshot every interval. Used by the tip-stream
// diagnostic mode; blocks until the context is cancelled.
func (f *TipFeed) LogLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := f.Snapshot()
			f.log.Info("Tips",
				zap.Uint64("p25", snap.P25),
				zap.Uint64("p50", snap.P50),
				zap.Uint64("p75", snap.P75),
				zap.Uint64("p95", snap.P95),
				zap.Uint64("p99", snap.P99),
			)
		}
	}
}

// AdaptiveTip bids one lamport above the median landed tip, clamped to
// [floor, cap]. A zero cap disables adaptive bidding; a cold feed (zero p50)
// falls back to the base tip.
func AdaptiveTip(base, cap uint64, snap TipSnapshot, floor uint64) uint64 {
	if cap == 0 {
		return base
	}
	if snap.P50 == 0 {
		return base
	}
	tip := snap.P50 + 1
	if tip < floor {
		tip = floor
	}
	if tip > cap {
		tip = cap
	}
	return tip
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
