/*

This file contains the types for risk scoring: the five risk components, the derived risk level,
and the action the vault must take for a given composite score.

*/

package types

import (
	"fmt"
	"time"
)

// RiskComponents holds the five independent component scores in [0,1].
// A nil component is treated as missing and excluded from the composite.
type RiskComponents struct {
	Protocol    *float64 `json:"protocol,omitempty"`
	Liquidity   *float64 `json:"liquidity,omitempty"`
	Utilization *float64 `json:"utilization,omitempty"`
	Governance  *float64 `json:"governance,omitempty"`
	Oracle      *float64 `json:"oracle,omitempty"`
}

// Score returns a pointer to v, for building RiskComponents literals.
func Score(v float64) *float64 {
	return &v
}

// RiskWeights are the fixed weights applied to each component.
type RiskWeights struct {
	Protocol    float64 `json:"protocol"`
	Liquidity   float64 `json:"liquidity"`
	Utilization float64 `json:"utilization"`
	Governance  float64 `json:"governance"`
	Oracle      float64 `json:"oracle"`
}

// RiskLevel is ordered by severity: a larger value is more severe.
type RiskLevel int

const (
	RiskLevelVeryLow RiskLevel = iota
	RiskLevelLow
	RiskLevelMedium
	RiskLevelElevated
	RiskLevelHigh
	RiskLevelCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelVeryLow:
		return "VERY_LOW"
	case RiskLevelLow:
		return "LOW"
	case RiskLevelMedium:
		return "MEDIUM"
	case RiskLevelElevated:
		return "ELEVATED"
	case RiskLevelHigh:
		return "HIGH"
	case RiskLevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the level by name in JSON payloads.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level name written by MarshalText.
func (l *RiskLevel) UnmarshalText(b []byte) error {
	for c := RiskLevelVeryLow; c <= RiskLevelCritical; c++ {
		if c.String() == string(b) {
			*l = c
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", string(b))
}

// RequiredAction is ordered by severity: a larger value is more severe.
type RequiredAction int

const (
	ActionNormal RequiredAction = iota
	ActionFreezeRebalancing
	ActionWithdrawOnly
	ActionEmergencyUnwind
)

func (a RequiredAction) String() string {
	switch a {
	case ActionNormal:
		return "NORMAL"
	case ActionFreezeRebalancing:
		return "FREEZE_REBALANCING"
	case ActionWithdrawOnly:
		return "WITHDRAW_ONLY"
	case ActionEmergencyUnwind:
		return "EMERGENCY_UNWIND"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the action by name in JSON payloads.
func (a RequiredAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses an action name written by MarshalText.
func (a *RequiredAction) UnmarshalText(b []byte) error {
	for c := ActionNormal; c <= ActionEmergencyUnwind; c++ {
		if c.String() == string(b) {
			*a = c
			return nil
		}
	}
	return fmt.Errorf("unknown required action %q", string(b))
}

// StrategyRisk is the scored view of one strategy in an assessment.
type StrategyRisk struct {
	StrategyID StrategyID     `json:"strategy_id"`
	Components RiskComponents `json:"components"`
	Composite  float64        `json:"composite"`
	Level      RiskLevel      `json:"level"`
	FromFeed   bool           `json:"from_feed"` // false when components were observed locally
}

// RiskAssessment is the outcome of one RiskGate evaluation.
type RiskAssessment struct {
	AssessmentID    int64          `json:"assessment_id,omitempty"` // set by the store
	VaultAsset      string         `json:"vault_asset"`
	Timestamp       time.Time      `json:"timestamp"`
	VaultScore      float64        `json:"vault_score"`
	Level           RiskLevel      `json:"level"`
	Action          RequiredAction `json:"action"`
	AppliedMode     string         `json:"applied_mode"`
	Strategies      []StrategyRisk `json:"strategies"`
	Recommendations []string       `json:"recommendations"`
}
