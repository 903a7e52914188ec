/*

This file contains the default parameters for the vault engine.

The leveraged-loop constants are deliberately conservative: a 40% LTV target with a 5% safety
buffer keeps every position far from the venue's liquidation threshold.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/types"
)

// DefaultEngineParameters provides the baseline limits for the vault and its strategies.
var DefaultEngineParameters = types.EngineParameters{
	Vault: types.VaultParameters{
		MaxStrategies: 10, // Registry capacity.

		MaxStrategyWeightBps: 5000, // No single strategy may exceed 50% of the vault.
		// Rationale: a venue exploit must never be able to take more than half of the capital.

		MaxPerformanceFeeBps: 1000, // 10% fee ceiling.

		RebalanceCooldown: time.Hour, // Minimum spacing between two rebalances.
		// Rationale: every rebalance moves capital through external venues; an hour keeps
		// churn low while still reacting within the same day.
	},

	PlainLending: types.PlainLendingParameters{
		SoftUtilizationCeiling: sdkmath.LegacyNewDecWithPrec(80, 2), // Alert at 80%.
		HardUtilizationCeiling: sdkmath.LegacyNewDecWithPrec(90, 2), // Refuse deposits at 90%.
		// Rationale: above 90% utilization withdrawals from the venue may be queued.
	},

	Loop: types.LoopParameters{
		MaxLTV:       sdkmath.LegacyNewDecWithPrec(40, 2),
		HardStopLTV:  sdkmath.LegacyNewDecWithPrec(45, 2),
		SafetyBuffer: sdkmath.LegacyNewDecWithPrec(5, 2),
		MaxLoops:     4,

		PegDeviationLimit: sdkmath.LegacyNewDecWithPrec(5, 3), // 0.5% from par.

		UnprofitableGracePeriod: 24 * time.Hour,
		// Rationale: negative carry is a slow bleed; give rates a day to recover before unwinding.

		MinBorrow: sdkmath.LegacyOneDec(), // One unit of the asset.

		MaxPriceAge: time.Hour,

		MaxUnwindSteps: 20, // Bound on withdraw-to-repay iterations.
	},
}
