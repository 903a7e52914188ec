/*

This file contains the vault-level risk score: per-strategy composites weighted by deployed capital.

*/

package analyzer

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
)

var ErrMissingStrategyScore = errors.New("allocated strategy has no risk score")

// CalculateVaultRisk weights each strategy's composite by allocation / totalAllocation, skipping
// strategies with nothing allocated. Dividing by the actual total renormalises allocations that do
// not add up exactly. An empty vault scores zero.
func CalculateVaultRisk(scores map[types.StrategyID]float64, allocations map[types.StrategyID]sdkmath.LegacyDec) (float64, error) {
	total := sdkmath.LegacyZeroDec()
	for _, alloc := range allocations {
		if !alloc.IsNil() && alloc.IsPositive() {
			total = total.Add(alloc)
		}
	}
	if !total.IsPositive() {
		return 0, nil
	}

	vaultScore := 0.0
	for id, alloc := range allocations {
		if alloc.IsNil() || !alloc.IsPositive() {
			continue
		}
		score, ok := scores[id]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingStrategyScore, id)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return 0, fmt.Errorf("%w: %s=%v", ErrInvalidComponent, id, score)
		}
		share, err := utils.DecToFloat64(alloc.Quo(total))
		if err != nil {
			return 0, fmt.Errorf("allocation share for %s: %w", id, err)
		}
		vaultScore += share * score
	}

	scoreLogger.Debug().
		Str("total_allocation", total.String()).
		Float64("vault_score", vaultScore).
		Msg("Vault risk calculated")
	return clamp01(vaultScore), nil
}
