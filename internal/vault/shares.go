package vault

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
)

// WithdrawResult reports a share redemption. Partial is set when strategies could not return
// enough capital; only SharesBurned were redeemed and the rest stay with the account.
type WithdrawResult struct {
	Assets       sdkmath.LegacyDec `json:"assets"`
	SharesBurned sdkmath.LegacyDec `json:"shares_burned"`
	Partial      bool              `json:"partial"`
}

// BalanceOf returns the account's shares.
func (v *Vault) BalanceOf(ctx context.Context, account string) (sdkmath.LegacyDec, error) {
	_, release, err := v.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()
	return v.balanceOf(account), nil
}

func (v *Vault) balanceOf(account string) sdkmath.LegacyDec {
	if bal, ok := v.shares[account]; ok {
		return bal
	}
	return sdkmath.LegacyZeroDec()
}

func (v *Vault) mint(account string, shares sdkmath.LegacyDec) {
	v.shares[account] = v.balanceOf(account).Add(shares)
	v.totalShares = v.totalShares.Add(shares)
}

func (v *Vault) burn(account string, shares sdkmath.LegacyDec) {
	left := v.balanceOf(account).Sub(shares)
	if left.IsZero() {
		delete(v.shares, account)
	} else {
		v.shares[account] = left
	}
	v.totalShares = utils.FloorZero(v.totalShares.Sub(shares))
}

// Deposit takes assets into idle capital and mints shares priced against TotalAssets.
func (v *Vault) Deposit(ctx context.Context, account string, assets sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	if err := v.checkCanDeploy(); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if account == "" {
		return sdkmath.LegacyZeroDec(), ErrInvalidAddress
	}
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.LegacyZeroDec(), ErrZeroAmount
	}

	total, _, _, err := v.valuation(ctx, true)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	shares := assets
	if v.totalShares.IsPositive() {
		if !total.IsPositive() {
			return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: outstanding shares but no assets", ErrInsufficientBalance)
		}
		shares = assets.MulTruncate(v.totalShares).QuoTruncate(total)
	}
	if !shares.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: deposit too small to mint shares", ErrZeroAmount)
	}

	v.idle = v.idle.Add(assets)
	v.mint(account, shares)

	ev := v.event(types.EventDeposited).WithAmount(assets)
	ev.Account = account
	v.emitter.Emit(ev)
	v.log.Info().Str("account", account).Str("assets", assets.String()).Str("shares", shares.String()).Msg("Deposit")
	return shares, nil
}

// Withdraw redeems shares. It is allowed in every mode, including while paused. Idle capital is used
// first, then value (principal and accrued yield) is pulled from strategies in registry order,
// skipping any in emergency mode or failing. If that still falls short the redemption is partially filled rather than rejected.
func (v *Vault) Withdraw(ctx context.Context, account string, shares sdkmath.LegacyDec) (WithdrawResult, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return WithdrawResult{}, err
	}
	defer release()

	if shares.IsNil() || !shares.IsPositive() {
		return WithdrawResult{}, ErrZeroAmount
	}
	if bal := v.balanceOf(account); shares.GT(bal) {
		return WithdrawResult{}, fmt.Errorf("%w: %s holds %s shares", ErrInsufficientBalance, account, bal)
	}

	total, _, _, err := v.valuation(ctx, false)
	if err != nil {
		return WithdrawResult{}, err
	}
	owed := shares.MulTruncate(total).QuoTruncate(v.totalShares)

	need := owed.Sub(v.idle)
	for _, id := range v.order {
		if !need.IsPositive() {
			break
		}
		if v.entries[id].strategy.EmergencyMode() {
			continue
		}
		received, err := v.redeemFrom(ctx, id, need)
		if err != nil {
			v.log.Warn().Err(err).Str("strategy", string(id)).Msg("Could not pull capital for redemption")
			continue
		}
		need = need.Sub(received)
	}

	result := WithdrawResult{Assets: sdkmath.LegacyMinDec(owed, v.idle), SharesBurned: shares}
	if result.Assets.LT(owed) {
		result.Partial = true
		result.SharesBurned = sdkmath.LegacyMinDec(shares, result.Assets.Mul(v.totalShares).QuoRoundUp(total))
	}

	v.idle = v.idle.Sub(result.Assets)
	v.burn(account, result.SharesBurned)

	ev := v.event(types.EventWithdrawn).WithAmount(result.Assets)
	ev.Account = account
	if result.Partial {
		ev.Reason = "partial fill"
	}
	v.emitter.Emit(ev)
	v.log.Info().
		Str("account", account).
		Str("assets", result.Assets.String()).
		Str("shares_burned", result.SharesBurned.String()).
		Bool("partial", result.Partial).
		Msg("Withdraw")
	return result, nil
}

// redeemFrom pulls up to want of a strategy's reported value, yield included. The allocation drops by
// the principal the strategy gave up: plain lending pays principal first, the loop redeems in
// principal terms and pays the matching share of its net value.
func (v *Vault) redeemFrom(ctx context.Context, id types.StrategyID, want sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	e := v.entries[id]
	value, err := e.strategy.TotalDeposits(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("value of %s: %w", id, err)
	}
	if !value.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}
	want = sdkmath.LegacyMinDec(want, value)

	_, loop := e.strategy.(*strategy.LeveragedLoop)
	request := want
	if loop {
		request = e.allocation
		if want.LT(value) {
			request = sdkmath.LegacyMinDec(e.allocation, want.Mul(e.allocation).Quo(value))
		}
	}
	if !request.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}

	received, err := e.strategy.Withdraw(ctx, request)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw from %s: %w", id, err)
	}
	principal := request
	if !loop {
		principal = sdkmath.LegacyMinDec(e.allocation, received)
	}
	v.bookWithdrawal(id, e, principal, received)
	return received, nil
}
