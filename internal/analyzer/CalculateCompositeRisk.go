/*

This file contains the composite risk formula: a weighted mean over the component scores that are present.

*/

package analyzer

import (
	"errors"
	"fmt"
	"math"

	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/types"
)

var ErrNoRiskComponents = errors.New("no risk components present")
var ErrInvalidComponent = errors.New("risk component outside [0,1]")
var ErrInvalidRiskWeights = errors.New("invalid risk weights")
var scoreLogger = logger.GetForComponent("risk_scorer")

// DefaultRiskWeights are the fixed component weights. They sum to 1.
var DefaultRiskWeights = types.RiskWeights{
	Protocol:    0.25,
	Liquidity:   0.20,
	Utilization: 0.25,
	Governance:  0.15,
	Oracle:      0.15,
}

type weightedComponent struct {
	name   string
	value  *float64
	weight float64
}

func weightedComponents(c types.RiskComponents, w types.RiskWeights) []weightedComponent {
	return []weightedComponent{
		{"protocol", c.Protocol, w.Protocol},
		{"liquidity", c.Liquidity, w.Liquidity},
		{"utilization", c.Utilization, w.Utilization},
		{"governance", c.Governance, w.Governance},
		{"oracle", c.Oracle, w.Oracle},
	}
}

// CalculateCompositeRisk returns the weighted mean of the present components, normalised by the
// weights of those components only, so missing inputs do not drag the score towards zero.
// Inputs:
//   - components: component scores in [0,1]; nil entries are missing.
//   - weights: non-negative weights; only the weights of present components matter.
//
// Output:
//   - The composite score, clamped to [0,1].
//   - ErrNoRiskComponents when nothing (with positive weight) is present, ErrInvalidComponent
//     for NaN/Inf or out-of-range inputs.
func CalculateCompositeRisk(components types.RiskComponents, weights types.RiskWeights) (float64, error) {
	if err := ValidateRiskWeights(weights); err != nil {
		return 0, errors.Join(ErrInvalidRiskWeights, err)
	}

	weightedSum := 0.0
	presentWeight := 0.0
	for _, comp := range weightedComponents(components, weights) {
		if comp.value == nil {
			continue
		}
		v := *comp.value
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			scoreLogger.Error().Str("component", comp.name).Float64("value", v).Msg("Invalid risk component")
			return 0, fmt.Errorf("%w: %s=%v", ErrInvalidComponent, comp.name, v)
		}
		weightedSum += comp.weight * v
		presentWeight += comp.weight
	}
	if presentWeight == 0 {
		return 0, ErrNoRiskComponents
	}

	return clamp01(weightedSum / presentWeight), nil
}

// ValidateRiskWeights checks every weight is finite and non-negative with a positive total.
func ValidateRiskWeights(w types.RiskWeights) error {
	var errs []error
	total := 0.0
	for _, comp := range weightedComponents(types.RiskComponents{}, w) {
		if math.IsNaN(comp.weight) || math.IsInf(comp.weight, 0) || comp.weight < 0 {
			errs = append(errs, fmt.Errorf("%s weight %v must be finite and non-negative", comp.name, comp.weight))
			continue
		}
		total += comp.weight
	}
	if len(errs) == 0 && total == 0 {
		errs = append(errs, errors.New("weights sum to zero"))
	}
	return errors.Join(errs...)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
