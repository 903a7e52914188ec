/*

This file contains the events the engine emits for the alerting and observability layers.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

type EventType string

const (
	EventStrategyAdded          EventType = "strategy.added"
	EventStrategyRemoved        EventType = "strategy.removed"
	EventStrategyWeightChanged  EventType = "strategy.weight_changed"
	EventCapitalAllocated       EventType = "capital.allocated"
	EventCapitalWithdrawn       EventType = "capital.withdrawn"
	EventRebalanced             EventType = "vault.rebalanced"
	EventHarvested              EventType = "strategy.harvested"
	EventEmergencyExitTriggered EventType = "strategy.emergency_exit"
	EventUtilizationAlert       EventType = "alert.utilization"
	EventPegDeviationAlert      EventType = "alert.peg_deviation"
	EventUnprofitableAlert      EventType = "alert.unprofitable"
	EventFeeUpdated             EventType = "vault.fee_updated"
	EventFeeRecipientUpdated    EventType = "vault.fee_recipient_updated"
	EventDeposited              EventType = "vault.deposited"
	EventWithdrawn              EventType = "vault.withdrawn"
	EventPaused                 EventType = "vault.paused"
	EventUnpaused               EventType = "vault.unpaused"
	EventRiskModeChanged        EventType = "vault.risk_mode_changed"
	EventEmergencyReset         EventType = "strategy.emergency_reset"
)

// Event is a single engine notification. Only the fields relevant to Type are populated.
type Event struct {
	Type      EventType          `json:"type"`
	Vault     string             `json:"vault,omitempty"`
	Strategy  StrategyID         `json:"strategy,omitempty"`
	Account   string             `json:"account,omitempty"`
	Amount    *sdkmath.LegacyDec `json:"amount,omitempty"`
	Value     float64            `json:"value,omitempty"` // ratio-style payloads: utilization, price, APY
	WeightBps uint32             `json:"weight_bps,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// WithAmount attaches a decimal amount to the event.
func (e Event) WithAmount(amount sdkmath.LegacyDec) Event {
	a := amount
	e.Amount = &a
	return e
}
