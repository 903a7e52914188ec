/*

This file contains scorers for the two components the engine can observe locally: venue utilization
and the stable asset's distance from par. They fill gaps when the external risk feed has no entry.

*/

package analyzer

import (
	"math"
)

// UtilizationRiskFromRate scores a venue utilization ratio in [0,1].
func UtilizationRiskFromRate(utilization float64) float64 {
	u := clamp01(utilization)
	switch {
	case u >= 0.9:
		return 0.9
	case u >= 0.8:
		return 0.7
	case u >= 0.7:
		return 0.5
	default:
		return 0.7 * u
	}
}

// OracleRiskFromDeviation scores |price - 1| for a stable asset.
func OracleRiskFromDeviation(deviation float64) float64 {
	d := math.Abs(deviation)
	switch {
	case d >= 0.02:
		return 0.9
	case d >= 0.005:
		return 0.6
	case d >= 0.001:
		return 0.4
	default:
		return 0.2
	}
}

// NeutralRisk is used for a strategy with no feed entry and nothing observable.
const NeutralRisk = 0.5
