/*

Package metrics exposes the engine's Prometheus instruments: ledger gauges per strategy, the latest
risk evaluation, keeper cycle outcomes and a counter of emitted events.

*/

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
)

const namespace = "safeyield"

var (
	// Vault ledger
	vaultTotalAssets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "total_assets",
			Help:      "Idle capital plus every strategy's reported value",
		},
		[]string{"asset"},
	)

	vaultIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "idle_balance",
			Help:      "Capital held by the vault and not allocated to any strategy",
		},
		[]string{"asset"},
	)

	vaultRiskMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "risk_mode",
			Help:      "Current risk mode: 1 for the active mode, 0 otherwise",
		},
		[]string{"asset", "mode"},
	)

	vaultPaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "paused",
			Help:      "1 while the vault is paused by the guardian",
		},
		[]string{"asset"},
	)

	// Strategies
	strategyAllocation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "allocation",
			Help:      "Principal allocated to a strategy by the vault ledger",
		},
		[]string{"strategy", "kind"},
	)

	strategyValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "reported_value",
			Help:      "Venue-reported value of a strategy, including accrued yield",
		},
		[]string{"strategy", "kind"},
	)

	strategyWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "weight_bps",
			Help:      "Target weight of a strategy in basis points",
		},
		[]string{"strategy", "kind"},
	)

	strategyEmergency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "emergency_mode",
			Help:      "1 while a strategy is in emergency mode",
		},
		[]string{"strategy", "kind"},
	)

	// Risk
	riskVaultScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "vault_score",
			Help:      "Allocation-weighted composite risk score of the vault",
		},
	)

	riskStrategyScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "strategy_score",
			Help:      "Composite risk score of a strategy",
		},
		[]string{"strategy"},
	)

	riskActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "evaluations_total",
			Help:      "Risk evaluations by required action",
		},
		[]string{"action"},
	)

	// Keeper
	keeperCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "cycles_total",
			Help:      "Keeper cycles by outcome",
		},
		[]string{"result"},
	)

	keeperCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent on one keeper cycle",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	rebalanceSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "rebalance_steps_total",
			Help:      "Per-strategy rebalance adjustments by direction and result",
		},
		[]string{"direction", "result"},
	)

	// Events
	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Engine events by type",
		},
		[]string{"type"},
	)
)

var riskModes = []string{"NORMAL", "FROZEN_REBALANCING", "WITHDRAW_ONLY", "EMERGENCY_UNWOUND"}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLedger sets the vault and strategy gauges from a ledger snapshot.
func ObserveLedger(snap types.LedgerSnapshot) {
	vaultTotalAssets.WithLabelValues(snap.Asset).Set(utils.MustDecToFloat64(snap.TotalAssets))
	vaultIdle.WithLabelValues(snap.Asset).Set(utils.MustDecToFloat64(snap.IdleBalance))
	vaultPaused.WithLabelValues(snap.Asset).Set(boolGauge(snap.Paused))
	for _, mode := range riskModes {
		vaultRiskMode.WithLabelValues(snap.Asset, mode).Set(boolGauge(mode == snap.RiskMode))
	}

	for _, s := range snap.Strategies {
		labels := []string{string(s.ID), string(s.Kind)}
		strategyAllocation.WithLabelValues(labels...).Set(utils.MustDecToFloat64(s.Allocation))
		strategyValue.WithLabelValues(labels...).Set(utils.MustDecToFloat64(s.ReportedValue))
		strategyWeight.WithLabelValues(labels...).Set(float64(s.WeightBps))
		strategyEmergency.WithLabelValues(labels...).Set(boolGauge(s.EmergencyMode))
	}
}

// ObserveAssessment records the outcome of a risk evaluation.
func ObserveAssessment(a types.RiskAssessment) {
	riskVaultScore.Set(a.VaultScore)
	riskActions.WithLabelValues(a.Action.String()).Inc()
	for _, s := range a.Strategies {
		riskStrategyScore.WithLabelValues(string(s.StrategyID)).Set(s.Composite)
	}
}

// ObserveRebalance counts each adjustment of a rebalance pass.
func ObserveRebalance(report types.RebalanceReport) {
	for _, step := range report.Steps {
		result := "ok"
		if step.Failed() {
			result = "failed"
		}
		rebalanceSteps.WithLabelValues(step.Direction, result).Inc()
	}
}

// ObserveCycle records a keeper cycle. A cycle with errors still ran to completion.
func ObserveCycle(duration time.Duration, errCount int) {
	result := "ok"
	if errCount > 0 {
		result = "degraded"
	}
	keeperCycles.WithLabelValues(result).Inc()
	keeperCycleDuration.Observe(duration.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// EventCounter counts engine events. It is meant to sit in an events.Multi next to the real sinks.
type EventCounter struct{}

func (EventCounter) Emit(event types.Event) {
	eventsEmitted.WithLabelValues(string(event.Type)).Inc()
}
