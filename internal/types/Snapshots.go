/*

This file contains the types recorded for every keeper cycle.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// RebalanceStep is the result of one strategy's adjustment during a rebalance pass.
type RebalanceStep struct {
	StrategyID StrategyID        `json:"strategy_id"`
	Direction  string            `json:"direction"` // "allocate", "withdraw" or "none"
	Target     sdkmath.LegacyDec `json:"target"`
	Before     sdkmath.LegacyDec `json:"before"`
	Amount     sdkmath.LegacyDec `json:"amount"`
	Error      string            `json:"error,omitempty"`
}

// Failed reports whether the step's external call failed and was skipped.
func (s RebalanceStep) Failed() bool {
	return s.Error != ""
}

// RebalanceReport collects one result per registered strategy.
type RebalanceReport struct {
	Timestamp   time.Time         `json:"timestamp"`
	TotalAssets sdkmath.LegacyDec `json:"total_assets"`
	Steps       []RebalanceStep   `json:"steps"`
}

// FailedCount returns how many strategies were skipped because of an external failure.
func (r RebalanceReport) FailedCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.Failed() {
			n++
		}
	}
	return n
}

// CycleSnapshot is the full record of one keeper cycle.
type CycleSnapshot struct {
	SnapshotID  int64     `json:"snapshot_id,omitempty"`
	CycleID     string    `json:"cycle_id"`
	CycleNumber int       `json:"cycle_number"`
	Timestamp   time.Time `json:"timestamp"`

	// Pre-Action State
	Initial LedgerSnapshot `json:"initial"`

	// Decisions
	Assessment   *RiskAssessment   `json:"assessment,omitempty"`
	Rebalance    *RebalanceReport  `json:"rebalance,omitempty"`
	Harvested    sdkmath.LegacyDec `json:"harvested"`
	MonitorNotes []string          `json:"monitor_notes,omitempty"`

	// The Outcome
	Final  LedgerSnapshot `json:"final"`
	Errors []string       `json:"errors,omitempty"`
}
