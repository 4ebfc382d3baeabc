// Package metrics contains all application-logic metrics
package metrics

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

var (
	bundlesSent    = metrics.NewCounter("bundles_sent_total")
	bundlesLanded  = metrics.NewCounter("bundles_landed_total")
	bundlesDropped = metrics.NewCounter("bundles_dropped_total")
	sendErrors     = metrics.NewCounter("bundle_send_errors_total")
	simRejected    = metrics.NewCounter("bundle_sim_rejected_total")
	rewardsMined   = metrics.NewCounter("rewards_mined_lamports_total")
	tipsPaid       = metrics.NewCounter("tips_paid_lamports_total")

	miningDuration  = metrics.NewSummary("mining_duration_milliseconds")
	confirmDuration = metrics.NewSummary("confirm_duration_milliseconds")

	idleBatches atomic.Int64
	_           = metrics.NewGauge("idle_batches", func() float64 {
		return float64(idleBatches.Load())
	})
)

func IncBundlesSent() {
	bundlesSent.Inc()
}

func IncBundlesLanded() {
	bundlesLanded.Inc()
}

func IncBundlesDropped() {
	bundlesDropped.Inc()
}

func IncSendErrors() {
	sendErrors.Inc()
}

func IncSimRejected() {
	simRejected.Inc()
}

func AddRewardsMined(lamports uint64) {
	rewardsMined.Add(int(lamports))
}

func AddTipPaid(lamports uint64) {
	tipsPaid.Add(int(lamports))
}

func RecordMiningDuration(ms int64) {
	miningDuration.Update(float64(ms))
}

func RecordConfirmDuration(ms int64) {
	confirmDuration.Update(float64(ms))
}

func SetIdleBatches(n int) {
	idleBatches.Store(int64(n))
}
