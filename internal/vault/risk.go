package vault

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/types"
)

// Pause blocks deposits, allocations and rebalancing. Withdrawals stay open. Guardian only.
func (v *Vault) Pause(ctx context.Context, caller string) error {
	return v.setPaused(ctx, caller, true)
}

// Unpause lifts Pause. Guardian only.
func (v *Vault) Unpause(ctx context.Context, caller string) error {
	return v.setPaused(ctx, caller, false)
}

func (v *Vault) setPaused(ctx context.Context, caller string, paused bool) error {
	_, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleGuardian); err != nil {
		return err
	}
	if v.paused.Swap(paused) == paused {
		return nil
	}
	t := types.EventUnpaused
	if paused {
		t = types.EventPaused
	}
	ev := v.event(t)
	ev.Account = caller
	v.emitter.Emit(ev)
	v.log.Warn().Str("caller", caller).Bool("paused", paused).Msg("Pause state changed")
	return nil
}

// ApplyRiskAction moves the vault into the mode required by a risk evaluation. Once emergency
// unwound, the vault stays there whatever the action.
func (v *Vault) ApplyRiskAction(ctx context.Context, action types.RequiredAction, reason string) (RiskMode, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return v.RiskMode(), err
	}
	defer release()

	if v.RiskMode() == RiskModeEmergencyUnwound {
		return RiskModeEmergencyUnwound, nil
	}
	switch action {
	case types.ActionEmergencyUnwind:
		_, err := v.unwindAll(ctx, reason)
		return RiskModeEmergencyUnwound, err
	case types.ActionWithdrawOnly:
		v.setMode(RiskModeWithdrawOnly, reason)
	case types.ActionFreezeRebalancing:
		v.setMode(RiskModeFrozenRebalancing, reason)
	case types.ActionNormal:
		v.setMode(RiskModeNormal, reason)
	default:
		return v.RiskMode(), fmt.Errorf("unknown risk action %d", action)
	}
	return v.RiskMode(), nil
}

func (v *Vault) setMode(mode RiskMode, reason string) {
	prev := RiskMode(v.mode.Swap(int32(mode)))
	if prev == mode {
		return
	}
	ev := v.event(types.EventRiskModeChanged)
	ev.Reason = fmt.Sprintf("%s -> %s: %s", prev, mode, reason)
	v.emitter.Emit(ev)
	v.log.Warn().Str("from", prev.String()).Str("to", mode.String()).Str("reason", reason).Msg("Risk mode changed")
}

// EmergencyUnwindAll exits every strategy and locks the vault into EmergencyUnwound. Guardian only.
func (v *Vault) EmergencyUnwindAll(ctx context.Context, caller string, reason string) (sdkmath.LegacyDec, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	if err := v.require(caller, types.RoleGuardian); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return v.unwindAll(ctx, reason)
}

// unwindAll calls EmergencyExit on every strategy. Failures do not stop the others; a strategy that
// failed keeps its allocation so the ledger still shows what is stuck there.
func (v *Vault) unwindAll(ctx context.Context, reason string) (sdkmath.LegacyDec, error) {
	v.setMode(RiskModeEmergencyUnwound, reason)

	recovered := sdkmath.LegacyZeroDec()
	var errs []error
	for _, id := range v.order {
		e := v.entries[id]
		got, err := e.strategy.EmergencyExit(ctx, reason)
		if err != nil {
			errs = append(errs, fmt.Errorf("exit %s: %w", id, err))
			v.log.Error().Err(err).Str("strategy", string(id)).Msg("Emergency exit failed")
			continue
		}
		v.idle = v.idle.Add(got)
		e.allocation = sdkmath.LegacyZeroDec()
		recovered = recovered.Add(got)
	}
	v.log.Error().Str("reason", reason).Str("recovered", recovered.String()).Int("failed", len(errs)).Msg("Vault emergency unwound")
	return recovered, errors.Join(errs...)
}
