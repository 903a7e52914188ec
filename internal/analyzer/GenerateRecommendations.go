/*

This file contains the advisory text attached to each risk assessment.

*/

package analyzer

import (
	"github.com/nexxore/safeyield/internal/types"
)

const (
	RecommendationCritical    = "URGENT: Consider emergency withdrawal. Risk level is critical."
	RecommendationProtocol    = "Protocol risk elevated. Review smart contract security status."
	RecommendationLiquidity   = "Liquidity risk elevated. Increase idle buffer or diversify strategies."
	RecommendationUtilization = "Utilization near capacity. Consider reducing strategy allocations."
	RecommendationGovernance  = "Active governance proposals detected. Monitor for potential changes."
	RecommendationOracle      = "Stablecoin price deviation detected. Monitor for further depegging."
	RecommendationNormal      = "Risk levels within acceptable parameters. Continue normal operations."
)

// GenerateRecommendations lists one advisory per breached trigger, or the all-clear message.
// Missing components never trigger.
func GenerateRecommendations(composite float64, c types.RiskComponents) []string {
	var out []string
	if composite >= EmergencyUnwindAt {
		out = append(out, RecommendationCritical)
	}
	if atLeast(c.Protocol, 0.7) {
		out = append(out, RecommendationProtocol)
	}
	if atLeast(c.Liquidity, 0.7) {
		out = append(out, RecommendationLiquidity)
	}
	if atLeast(c.Utilization, 0.8) {
		out = append(out, RecommendationUtilization)
	}
	if atLeast(c.Governance, 0.6) {
		out = append(out, RecommendationGovernance)
	}
	if atLeast(c.Oracle, 0.6) {
		out = append(out, RecommendationOracle)
	}
	if len(out) == 0 {
		out = append(out, RecommendationNormal)
	}
	return out
}

func atLeast(v *float64, threshold float64) bool {
	return v != nil && *v >= threshold
}
