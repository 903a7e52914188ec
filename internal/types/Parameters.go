/*

This file contains the tunable limits for the vault and its strategies.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// EngineParameters groups every tunable limit used by the engine.
type EngineParameters struct {
	Vault        VaultParameters        `json:"vault"`
	PlainLending PlainLendingParameters `json:"plain_lending"`
	Loop         LoopParameters         `json:"loop"`
}

// VaultParameters bound the strategy registry and fee configuration.
type VaultParameters struct {
	MaxStrategies        int           `json:"max_strategies"`          // Registry capacity.
	MaxStrategyWeightBps uint32        `json:"max_strategy_weight_bps"` // No single strategy above this weight.
	MaxPerformanceFeeBps uint32        `json:"max_performance_fee_bps"` // Fee ceiling.
	RebalanceCooldown    time.Duration `json:"rebalance_cooldown"`      // Minimum spacing between rebalances.
}

// PlainLendingParameters are the utilization circuit breakers of a plain lending strategy.
type PlainLendingParameters struct {
	SoftUtilizationCeiling sdkmath.LegacyDec `json:"soft_utilization_ceiling"` // Deposit succeeds but emits an alert.
	HardUtilizationCeiling sdkmath.LegacyDec `json:"hard_utilization_ceiling"` // Deposit rejected at or above.
}

// LoopParameters are the constants of the leveraged recursive-loop strategy.
type LoopParameters struct {
	MaxLTV                  sdkmath.LegacyDec `json:"max_ltv"`
	HardStopLTV             sdkmath.LegacyDec `json:"hard_stop_ltv"`
	SafetyBuffer            sdkmath.LegacyDec `json:"safety_buffer"`
	MaxLoops                int               `json:"max_loops"`
	PegDeviationLimit       sdkmath.LegacyDec `json:"peg_deviation_limit"`
	UnprofitableGracePeriod time.Duration     `json:"unprofitable_grace_period"`
	MinBorrow               sdkmath.LegacyDec `json:"min_borrow"`    // Dust floor: smaller borrows end the loop.
	MaxPriceAge             time.Duration     `json:"max_price_age"` // Older oracle answers are rejected.
	MaxUnwindSteps          int               `json:"max_unwind_steps"`
}
