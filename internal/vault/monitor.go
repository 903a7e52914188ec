package vault

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
)

// MonitorResult is what one strategy's circuit-breaker check found.
type MonitorResult struct {
	StrategyID types.StrategyID  `json:"strategy_id"`
	Trigger    string            `json:"trigger,omitempty"` // "peg_deviation" or "unprofitable" when an unwind ran
	Recovered  sdkmath.LegacyDec `json:"recovered"`
	Note       string            `json:"note,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Unwound reports whether the check ran a full unwind.
func (r MonitorResult) Unwound() bool {
	return r.Trigger != ""
}

// RunStrategyMonitors runs every strategy's self-protection checks and books what a triggered
// unwind returns to the vault. Loops are checked for peg deviation first, then profitability.
// Plain lending strategies only report their utilization ceilings. Strategist only.
func (v *Vault) RunStrategyMonitors(ctx context.Context, caller string) ([]MonitorResult, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return nil, err
	}

	var (
		results []MonitorResult
		errs    []error
	)
	for _, id := range v.order {
		e := v.entries[id]
		if e.strategy.EmergencyMode() {
			continue
		}
		res := MonitorResult{StrategyID: id, Recovered: sdkmath.LegacyZeroDec()}

		var checkErr error
		switch s := e.strategy.(type) {
		case *strategy.LeveragedLoop:
			checkErr = v.monitorLoop(ctx, e, s, &res)
		case *strategy.PlainLending:
			checkErr = monitorPlain(ctx, s, &res)
		}
		if checkErr != nil {
			res.Error = checkErr.Error()
			errs = append(errs, fmt.Errorf("monitor %s: %w", id, checkErr))
			v.log.Warn().Err(checkErr).Str("strategy", string(id)).Msg("Strategy monitor failed")
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (v *Vault) monitorLoop(ctx context.Context, e *entry, s *strategy.LeveragedLoop, res *MonitorResult) error {
	ran, recovered, err := s.CheckAndExitOnDeviation(ctx)
	if ran {
		res.Trigger = "peg_deviation"
	} else if err == nil {
		ran, recovered, err = s.CheckAndUnwindIfUnprofitable(ctx)
		if ran {
			res.Trigger = "unprofitable"
		}
	}
	if !ran || err != nil {
		// A failed unwind leaves the allocation in place so the ledger still shows the stuck capital.
		return err
	}

	v.idle = v.idle.Add(recovered)
	e.allocation = sdkmath.LegacyZeroDec()
	res.Recovered = recovered
	res.Note = fmt.Sprintf("unwound on %s, recovered %s", res.Trigger, recovered)
	v.log.Warn().Str("strategy", string(res.StrategyID)).Str("trigger", res.Trigger).
		Str("recovered", recovered.String()).Msg("Loop strategy unwound itself")
	return nil
}

func monitorPlain(ctx context.Context, s *strategy.PlainLending, res *MonitorResult) error {
	emergency, err := s.UtilizationEmergency(ctx)
	if err != nil {
		return err
	}
	if emergency {
		res.Note = "utilization at or above hard ceiling"
		return nil
	}
	alert, err := s.UtilizationAlert(ctx)
	if err != nil {
		return err
	}
	if alert {
		res.Note = "utilization at or above soft ceiling"
	}
	return nil
}
