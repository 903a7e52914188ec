package simulations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/venue"
)

var (
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrExceedsSupply         = errors.New("amount exceeds supplied balance")
	ErrUnhealthyPosition     = errors.New("operation would breach venue loan-to-value")
	ErrInsufficientLiquidity = errors.New("insufficient reserve liquidity")
	ErrInjected              = errors.New("injected venue failure")
)

// Operation names accepted by InjectFailure and passed to call hooks.
const (
	OpSupply   = "supply"
	OpWithdraw = "withdraw"
	OpBorrow   = "borrow"
	OpRepay    = "repay"
	OpRead     = "read"
)

type failure struct {
	skip       int
	err        error
	persistent bool
}

// LendingVenue is an in-memory lending pool seen from a single account. It backs paper mode and tests.
// The rest of the reserve is modelled as an opaque (supplied, borrowed) pair that only affects utilization
// and available liquidity.
type LendingVenue struct {
	mu  sync.Mutex
	log zerolog.Logger

	asset string

	supplied sdkmath.LegacyDec
	debt     sdkmath.LegacyDec

	reserveSupplied sdkmath.LegacyDec
	reserveBorrowed sdkmath.LegacyDec

	supplyRate sdkmath.LegacyDec
	borrowRate sdkmath.LegacyDec
	maxLTV     sdkmath.LegacyDec

	transfers map[string]sdkmath.LegacyDec
	failures  map[string]*failure
	hook      func(ctx context.Context, op string)
	calls     map[string]int
}

var _ venue.LeverageVenue = (*LendingVenue)(nil)

// NewLendingVenue creates an empty venue for asset. The venue enforces an 80% loan-to-value on borrows
// and withdrawals.
func NewLendingVenue(asset string) *LendingVenue {
	return &LendingVenue{
		log:             logger.GetForComponent("sim_venue").With().Str("asset", asset).Logger(),
		asset:           asset,
		supplied:        sdkmath.LegacyZeroDec(),
		debt:            sdkmath.LegacyZeroDec(),
		reserveSupplied: sdkmath.LegacyZeroDec(),
		reserveBorrowed: sdkmath.LegacyZeroDec(),
		supplyRate:      sdkmath.LegacyZeroDec(),
		borrowRate:      sdkmath.LegacyZeroDec(),
		maxLTV:          sdkmath.LegacyNewDecWithPrec(80, 2),
		transfers:       make(map[string]sdkmath.LegacyDec),
		failures:        make(map[string]*failure),
		calls:           make(map[string]int),
	}
}

// SetReserve sets the liquidity supplied and borrowed by other accounts.
func (v *LendingVenue) SetReserve(supplied, borrowed sdkmath.LegacyDec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reserveSupplied = supplied
	v.reserveBorrowed = borrowed
}

// SetRates sets the periodic supply and borrow rates.
func (v *LendingVenue) SetRates(supplyRate, borrowRate sdkmath.LegacyDec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.supplyRate = supplyRate
	v.borrowRate = borrowRate
}

// SetMaxLTV changes the loan-to-value the venue enforces.
func (v *LendingVenue) SetMaxLTV(ltv sdkmath.LegacyDec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maxLTV = ltv
}

// AccrueSupplyInterest credits interest to the account's supply balance.
func (v *LendingVenue) AccrueSupplyInterest(amount sdkmath.LegacyDec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.supplied = v.supplied.Add(amount)
}

// AccrueDebtInterest adds interest to the account's debt.
func (v *LendingVenue) AccrueDebtInterest(amount sdkmath.LegacyDec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.debt = v.debt.Add(amount)
}

// InjectFailure makes the op fail once with err after skip further successful calls.
func (v *LendingVenue) InjectFailure(op string, err error, skip int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[op] = &failure{skip: skip, err: err}
}

// InjectPersistentFailure makes every subsequent call to op fail until ClearFailures.
func (v *LendingVenue) InjectPersistentFailure(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[op] = &failure{err: err, persistent: true}
}

func (v *LendingVenue) ClearFailures() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures = make(map[string]*failure)
}

// OnCall installs a hook invoked before every mutating operation, outside the venue lock.
// Tests use it to simulate a venue calling back into its caller.
func (v *LendingVenue) OnCall(hook func(ctx context.Context, op string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hook = hook
}

// Received returns the total amount withdrawn to a receiver.
func (v *LendingVenue) Received(to string) sdkmath.LegacyDec {
	v.mu.Lock()
	defer v.mu.Unlock()
	if got, ok := v.transfers[to]; ok {
		return got
	}
	return sdkmath.LegacyZeroDec()
}

// Calls returns how many times op was attempted.
func (v *LendingVenue) Calls(op string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// Position returns the account's supply and debt.
func (v *LendingVenue) Position() (supplied, debt sdkmath.LegacyDec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.supplied, v.debt
}

func (v *LendingVenue) enter(ctx context.Context, op, asset string) error {
	v.mu.Lock()
	hook := v.hook
	v.mu.Unlock()
	if hook != nil && op != OpRead {
		hook(ctx, op)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[op]++
	if asset != v.asset {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	f, ok := v.failures[op]
	if !ok {
		return nil
	}
	if f.persistent {
		return f.err
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	delete(v.failures, op)
	return f.err
}

func (v *LendingVenue) Supply(ctx context.Context, asset string, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpSupply, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.supplied = v.supplied.Add(amount)
	v.log.Debug().Str("amount", amount.String()).Msg("supplied")
	return amount, nil
}

func (v *LendingVenue) Withdraw(ctx context.Context, asset string, amount sdkmath.LegacyDec, to string) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpWithdraw, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount.GT(v.supplied) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: requested %s, supplied %s", ErrExceedsSupply, amount, v.supplied)
	}
	if available := v.reserveSupplied.Add(v.supplied).Sub(v.reserveBorrowed).Sub(v.debt); amount.GT(available) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: requested %s, available %s", ErrInsufficientLiquidity, amount, available)
	}
	remaining := v.supplied.Sub(amount)
	if v.debt.IsPositive() && v.debt.GT(remaining.Mul(v.maxLTV)) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: debt %s against supply %s", ErrUnhealthyPosition, v.debt, remaining)
	}
	v.supplied = remaining
	if prev, ok := v.transfers[to]; ok {
		v.transfers[to] = prev.Add(amount)
	} else {
		v.transfers[to] = amount
	}
	return amount, nil
}

func (v *LendingVenue) Borrow(ctx context.Context, asset string, amount sdkmath.LegacyDec) error {
	if err := v.enter(ctx, OpBorrow, asset); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.debt.Add(amount)
	if next.GT(v.supplied.Mul(v.maxLTV)) {
		return fmt.Errorf("%w: debt %s against supply %s", ErrUnhealthyPosition, next, v.supplied)
	}
	v.debt = next
	return nil
}

func (v *LendingVenue) Repay(ctx context.Context, asset string, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpRepay, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	repaid := sdkmath.LegacyMinDec(amount, v.debt)
	v.debt = v.debt.Sub(repaid)
	return repaid, nil
}

func (v *LendingVenue) SupplyBalance(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpRead, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.supplied, nil
}

func (v *LendingVenue) DebtBalance(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpRead, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debt, nil
}

func (v *LendingVenue) ReserveUtilization(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpRead, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	totalSupplied := v.reserveSupplied.Add(v.supplied)
	if !totalSupplied.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return v.reserveBorrowed.Add(v.debt).Quo(totalSupplied), nil
}

func (v *LendingVenue) SupplyRate(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpRead, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.supplyRate, nil
}

func (v *LendingVenue) BorrowRate(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	if err := v.enter(ctx, OpRead, asset); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.borrowRate, nil
}
