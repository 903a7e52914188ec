package vault

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
)

// Manager is the surface of the vault used by the keeper, the risk gate and the web layer.
// It lets those packages run against a fake in tests.
type Manager interface {
	Asset() string

	// Snapshot returns a consistent copy of the ledger, read under the vault lock.
	Snapshot(ctx context.Context) (types.LedgerSnapshot, error)

	// ApplyRiskAction moves the vault to the mode the action requires; an emergency-unwind action
	// exits every strategy.
	ApplyRiskAction(ctx context.Context, action types.RequiredAction, reason string) (RiskMode, error)

	// Rebalance moves capital towards target weights. Strategist only.
	Rebalance(ctx context.Context, caller string) (types.RebalanceReport, error)

	// HarvestAll collects yield from every strategy and charges the performance fee. Strategist only.
	HarvestAll(ctx context.Context, caller string) (sdkmath.LegacyDec, error)

	// RunStrategyMonitors runs each strategy's circuit-breaker checks and books any self-unwind.
	// Strategist only.
	RunStrategyMonitors(ctx context.Context, caller string) ([]MonitorResult, error)

	// Strategy looks up a registered strategy.
	Strategy(id types.StrategyID) (strategy.Strategy, bool)

	RiskMode() RiskMode
	Paused() bool
	LastRebalance() time.Time
	RebalanceCooldown() time.Duration
}

var _ Manager = (*Vault)(nil)
