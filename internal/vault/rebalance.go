package vault

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
)

const (
	directionNone     = "none"
	directionAllocate = "allocate"
	directionWithdraw = "withdraw"
)

// Rebalance moves every strategy towards totalAssets * weight / 10000.
//
// Over-allocated strategies are drawn down first so the freed capital can fund under-allocated ones
// in the same pass; each phase walks the registry in insertion order. An allocation is capped by the
// idle balance at that point. Each adjustment is independent: a failing strategy is recorded in the
// report and skipped. The cooldown restarts even when some steps failed.
func (v *Vault) Rebalance(ctx context.Context, caller string) (types.RebalanceReport, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return types.RebalanceReport{}, err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return types.RebalanceReport{}, err
	}
	if v.paused.Load() {
		return types.RebalanceReport{}, ErrPaused
	}
	switch v.RiskMode() {
	case RiskModeFrozenRebalancing, RiskModeWithdrawOnly:
		return types.RebalanceReport{}, fmt.Errorf("%w: mode %s", ErrRebalanceFrozen, v.RiskMode())
	case RiskModeEmergencyUnwound:
		return types.RebalanceReport{}, ErrEmergencyUnwound
	}
	now := v.now()
	if last := v.LastRebalance(); !last.IsZero() && now.Before(last.Add(v.params.RebalanceCooldown)) {
		return types.RebalanceReport{}, fmt.Errorf("%w: next at %s", ErrRebalanceTooSoon, last.Add(v.params.RebalanceCooldown).Format("2006-01-02 15:04:05"))
	}

	total, _, readErrs, err := v.valuation(ctx, false)
	if err != nil {
		return types.RebalanceReport{}, err
	}
	report := types.RebalanceReport{Timestamp: now, TotalAssets: total, Steps: make([]types.RebalanceStep, len(v.order))}
	for i, id := range v.order {
		e := v.entries[id]
		report.Steps[i] = types.RebalanceStep{
			StrategyID: id,
			Direction:  directionNone,
			Target:     utils.MulBps(total, e.weightBps),
			Before:     e.allocation,
			Amount:     sdkmath.LegacyZeroDec(),
		}
		if readErr, ok := readErrs[id]; ok {
			report.Steps[i].Error = fmt.Sprintf("value unavailable: %v", readErr)
		}
	}

	for i, id := range v.order {
		step := &report.Steps[i]
		excess := v.entries[id].allocation.Sub(step.Target)
		if !excess.IsPositive() {
			continue
		}
		step.Direction = directionWithdraw
		received, err := v.withdraw(ctx, id, excess)
		if err != nil {
			step.Error = err.Error()
			v.log.Warn().Err(err).Str("strategy", string(id)).Msg("Rebalance withdraw failed, skipping")
			continue
		}
		step.Amount = received
	}

	for i, id := range v.order {
		step := &report.Steps[i]
		gap := step.Target.Sub(v.entries[id].allocation)
		if !gap.IsPositive() {
			continue
		}
		step.Direction = directionAllocate
		amount := sdkmath.LegacyMinDec(gap, v.idle)
		if !amount.IsPositive() {
			continue
		}
		if err := v.allocate(ctx, id, amount); err != nil {
			step.Error = err.Error()
			v.log.Warn().Err(err).Str("strategy", string(id)).Msg("Rebalance allocation failed, skipping")
			continue
		}
		step.Amount = amount
	}

	v.lastRebalance.Store(now.UnixNano())

	ev := v.event(types.EventRebalanced).WithAmount(total)
	ev.Value = float64(report.FailedCount())
	v.emitter.Emit(ev)
	v.log.Info().
		Str("total_assets", total.String()).
		Int("strategies", len(report.Steps)).
		Int("failed", report.FailedCount()).
		Msg("Rebalanced")
	return report, nil
}
