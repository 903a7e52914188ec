package vault

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
)

// HarvestAll moves yield from every strategy into idle capital. The performance fee is charged by
// minting the fee recipient shares worth feeBps of the harvest, so no capital leaves the vault.
// A failing strategy is skipped and reported in the joined error.
func (v *Vault) HarvestAll(ctx context.Context, caller string) (sdkmath.LegacyDec, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	harvested := sdkmath.LegacyZeroDec()
	var errs []error
	for _, id := range v.order {
		got, err := v.entries[id].strategy.Harvest(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("harvest %s: %w", id, err))
			continue
		}
		v.idle = v.idle.Add(got)
		harvested = harvested.Add(got)
	}

	if harvested.IsPositive() && v.feeBps > 0 && v.feeRecipient != "" && v.totalShares.IsPositive() {
		if err := v.chargeFee(ctx, harvested); err != nil {
			errs = append(errs, err)
		}
	}
	return harvested, errors.Join(errs...)
}

// chargeFee mints shares so the recipient owns fee / totalAssets of the vault after minting.
func (v *Vault) chargeFee(ctx context.Context, harvested sdkmath.LegacyDec) error {
	fee := utils.MulBps(harvested, v.feeBps)
	total, _, _, err := v.valuation(ctx, false)
	if err != nil {
		return fmt.Errorf("value vault for fee: %w", err)
	}
	rest := total.Sub(fee)
	if !fee.IsPositive() || !rest.IsPositive() {
		return nil
	}
	feeShares := fee.MulTruncate(v.totalShares).QuoTruncate(rest)
	v.mint(v.feeRecipient, feeShares)

	v.log.Info().
		Str("fee", fee.String()).
		Str("fee_shares", feeShares.String()).
		Str("recipient", v.feeRecipient).
		Msg("Performance fee charged")
	return nil
}
