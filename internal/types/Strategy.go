/*

This file contains the identifiers shared by the vault, its strategies and the risk layer.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// StrategyID identifies a strategy inside a vault registry (e.g. its deployment address).
type StrategyID string

// StrategyKind is the closed set of strategy variants the engine knows how to run.
type StrategyKind string

const (
	StrategyKindPlainLending  StrategyKind = "PLAIN_LENDING"
	StrategyKindLeveragedLoop StrategyKind = "LEVERAGED_LOOP"
)

// Role is a capability checked through the external role oracle.
type Role string

const (
	RoleStrategist Role = "STRATEGIST"
	RoleGuardian   Role = "GUARDIAN"
	RoleAdmin      Role = "ADMIN"
)

// StrategyAllocation is one registry row as seen from outside the vault.
type StrategyAllocation struct {
	ID            StrategyID        `json:"id"`
	Kind          StrategyKind      `json:"kind"`
	WeightBps     uint32            `json:"weight_bps"`
	Allocation    sdkmath.LegacyDec `json:"allocation"`     // principal the vault has deployed
	ReportedValue sdkmath.LegacyDec `json:"reported_value"` // value reported by the strategy, includes yield
	EmergencyMode bool              `json:"emergency_mode"`
}

// LedgerSnapshot is a consistent copy of the vault's mutable ledger, taken under the vault lock.
type LedgerSnapshot struct {
	Asset       string               `json:"asset"`
	IdleBalance sdkmath.LegacyDec    `json:"idle_balance"`
	TotalAssets sdkmath.LegacyDec    `json:"total_assets"`
	TotalShares sdkmath.LegacyDec    `json:"total_shares"`
	Strategies  []StrategyAllocation `json:"strategies"`
	Paused      bool                 `json:"paused"`
	RiskMode    string               `json:"risk_mode"`
}

// Allocations returns the per-strategy principal as a map.
func (s LedgerSnapshot) Allocations() map[StrategyID]sdkmath.LegacyDec {
	out := make(map[StrategyID]sdkmath.LegacyDec, len(s.Strategies))
	for _, st := range s.Strategies {
		out[st.ID] = st.Allocation
	}
	return out
}
