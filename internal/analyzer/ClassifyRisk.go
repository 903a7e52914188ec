/*

This file contains the fixed thresholds that turn a score into a risk level and a required action.
Both mappings are monotone: a higher score never yields a less severe result.

*/

package analyzer

import (
	"github.com/nexxore/safeyield/internal/types"
)

// Level band upper bounds (exclusive).
const (
	VeryLowBelow  = 0.15
	LowBelow      = 0.30
	MediumBelow   = 0.45
	ElevatedBelow = 0.60
	HighBelow     = 0.75
)

// Action thresholds (inclusive).
const (
	FreezeRebalancingAt = 0.6
	WithdrawOnlyAt      = 0.7
	EmergencyUnwindAt   = 0.8
)

// ClassifyRisk maps a score to one of six bands.
func ClassifyRisk(score float64) types.RiskLevel {
	switch {
	case score < VeryLowBelow:
		return types.RiskLevelVeryLow
	case score < LowBelow:
		return types.RiskLevelLow
	case score < MediumBelow:
		return types.RiskLevelMedium
	case score < ElevatedBelow:
		return types.RiskLevelElevated
	case score < HighBelow:
		return types.RiskLevelHigh
	default:
		return types.RiskLevelCritical
	}
}

// RequiredActionFor maps a score to the action the vault must take.
func RequiredActionFor(score float64) types.RequiredAction {
	switch {
	case score >= EmergencyUnwindAt:
		return types.ActionEmergencyUnwind
	case score >= WithdrawOnlyAt:
		return types.ActionWithdrawOnly
	case score >= FreezeRebalancingAt:
		return types.ActionFreezeRebalancing
	default:
		return types.ActionNormal
	}
}
