package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/guard"
	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
	"github.com/nexxore/safeyield/internal/venue"
)

// LoopState is the position lifecycle of a LeveragedLoop.
type LoopState int

const (
	LoopInactive LoopState = iota
	LoopLeveraged
	LoopUnwinding
)

func (s LoopState) String() string {
	switch s {
	case LoopInactive:
		return "INACTIVE"
	case LoopLeveraged:
		return "LEVERAGED"
	case LoopUnwinding:
		return "UNWINDING"
	default:
		return "UNKNOWN"
	}
}

// LoopPosition is a point-in-time copy of the loop's ledger.
type LoopPosition struct {
	State             LoopState           `json:"state"`
	InitialDeposit    sdkmath.LegacyDec   `json:"initial_deposit"`
	TotalSupplied     sdkmath.LegacyDec   `json:"total_supplied"`
	TotalBorrowed     sdkmath.LegacyDec   `json:"total_borrowed"`
	Tranches          []sdkmath.LegacyDec `json:"tranches"`
	UnprofitableSince time.Time           `json:"unprofitable_since,omitempty"`
	EmergencyMode     bool                `json:"emergency_mode"`
}

// LeveragedLoop supplies, borrows against the supply and re-supplies the borrowed amount, a bounded
// number of times, on a single venue. Collateral and debt are the same stable asset.
type LeveragedLoop struct {
	cfg    Config
	params types.LoopParameters
	venue  venue.LeverageVenue
	feed   venue.PriceFeed
	log    zerolog.Logger

	guard     guard.Guard
	emergency atomic.Bool

	mu                sync.RWMutex
	state             LoopState
	initialDeposit    sdkmath.LegacyDec
	totalSupplied     sdkmath.LegacyDec
	totalBorrowed     sdkmath.LegacyDec
	tranches          []sdkmath.LegacyDec
	unprofitableSince time.Time
}

var _ Strategy = (*LeveragedLoop)(nil)

func NewLeveragedLoop(cfg Config, v venue.LeverageVenue, feed venue.PriceFeed, params types.LoopParameters) (*LeveragedLoop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if v == nil || feed == nil {
		return nil, fmt.Errorf("%w: nil venue or price feed", ErrInvalidAddress)
	}
	if err := validateLoopParameters(params); err != nil {
		return nil, err
	}
	return &LeveragedLoop{
		cfg:            cfg,
		params:         params,
		venue:          v,
		feed:           feed,
		log:            logger.GetForComponent("leveraged_loop").With().Str("strategy", string(cfg.ID)).Logger(),
		initialDeposit: sdkmath.LegacyZeroDec(),
		totalSupplied:  sdkmath.LegacyZeroDec(),
		totalBorrowed:  sdkmath.LegacyZeroDec(),
	}, nil
}

func validateLoopParameters(p types.LoopParameters) error {
	var errs []error
	one := sdkmath.LegacyOneDec()
	if p.MaxLoops < 1 {
		errs = append(errs, errors.New("max loops must be at least 1"))
	}
	if p.MaxUnwindSteps < 1 {
		errs = append(errs, errors.New("max unwind steps must be at least 1"))
	}
	if p.MaxLTV.IsNil() || !p.MaxLTV.IsPositive() || p.MaxLTV.GTE(one) {
		errs = append(errs, errors.New("max LTV must be in (0,1)"))
	}
	if p.HardStopLTV.IsNil() || p.MaxLTV.IsNil() || p.HardStopLTV.LTE(p.MaxLTV) || p.HardStopLTV.GTE(one) {
		errs = append(errs, errors.New("hard stop LTV must be above max LTV and below 1"))
	}
	if p.SafetyBuffer.IsNil() || p.SafetyBuffer.IsNegative() || p.SafetyBuffer.GTE(one) {
		errs = append(errs, errors.New("safety buffer must be in [0,1)"))
	}
	if p.PegDeviationLimit.IsNil() || !p.PegDeviationLimit.IsPositive() {
		errs = append(errs, errors.New("peg deviation limit must be positive"))
	}
	if p.MinBorrow.IsNil() || p.MinBorrow.IsNegative() {
		errs = append(errs, errors.New("min borrow must not be negative"))
	}
	if p.MaxPriceAge <= 0 {
		errs = append(errs, errors.New("max price age must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid loop parameters: %w", errors.Join(errs...))
	}
	return nil
}

func (s *LeveragedLoop) sealed() {}

func (s *LeveragedLoop) ID() types.StrategyID     { return s.cfg.ID }
func (s *LeveragedLoop) Kind() types.StrategyKind { return types.StrategyKindLeveragedLoop }
func (s *LeveragedLoop) EmergencyMode() bool      { return s.emergency.Load() }

// Position returns a copy of the ledger.
func (s *LeveragedLoop) Position() LoopPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tranches := make([]sdkmath.LegacyDec, len(s.tranches))
	copy(tranches, s.tranches)
	return LoopPosition{
		State:             s.state,
		InitialDeposit:    s.initialDeposit,
		TotalSupplied:     s.totalSupplied,
		TotalBorrowed:     s.totalBorrowed,
		Tranches:          tranches,
		UnprofitableSince: s.unprofitableSince,
		EmergencyMode:     s.emergency.Load(),
	}
}

func (s *LeveragedLoop) setState(state LoopState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// positionAt reads the venue's view of supply and debt.
func (s *LeveragedLoop) positionAt(ctx context.Context) (supplied, borrowed sdkmath.LegacyDec, err error) {
	supplied, err = s.venue.SupplyBalance(ctx, s.cfg.Asset)
	if err != nil {
		return supplied, borrowed, fmt.Errorf("read supply balance: %w", err)
	}
	borrowed, err = s.venue.DebtBalance(ctx, s.cfg.Asset)
	if err != nil {
		return supplied, borrowed, fmt.Errorf("read debt balance: %w", err)
	}
	return supplied, borrowed, nil
}

// TotalDeposits is the net position (supplied - borrowed), never negative.
func (s *LeveragedLoop) TotalDeposits(ctx context.Context) (sdkmath.LegacyDec, error) {
	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return utils.FloorZero(supplied.Sub(borrowed)), nil
}

// LTV is borrowed / supplied at the venue, zero with no supply.
func (s *LeveragedLoop) LTV(ctx context.Context) (sdkmath.LegacyDec, error) {
	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if !supplied.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return borrowed.Quo(supplied), nil
}

// loopRatio is the fraction of each tranche borrowed for the next one.
func (s *LeveragedLoop) loopRatio() sdkmath.LegacyDec {
	return s.params.MaxLTV.Mul(sdkmath.LegacyOneDec().Sub(s.params.SafetyBuffer))
}

// ltvLimit is the LTV the loop never reaches: HardStopLTV - SafetyBuffer.
func (s *LeveragedLoop) ltvLimit() sdkmath.LegacyDec {
	return s.params.HardStopLTV.Sub(s.params.SafetyBuffer)
}

// NetAPY is supplyRate weighted by supply minus borrowRate weighted by debt, per unit of net position.
// Without an open position it is the rate a fresh MaxLoops loop would earn.
func (s *LeveragedLoop) NetAPY(ctx context.Context) (sdkmath.LegacyDec, error) {
	supplyRate, err := s.venue.SupplyRate(ctx, s.cfg.Asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("read supply rate: %w", err)
	}
	borrowRate, err := s.venue.BorrowRate(ctx, s.cfg.Asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("read borrow rate: %w", err)
	}
	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	if net := supplied.Sub(borrowed); net.IsPositive() {
		return supplyRate.Mul(supplied).Sub(borrowRate.Mul(borrowed)).Quo(net), nil
	}

	// Supply multiple of a fresh loop: 1 + r + r^2 + ... over MaxLoops supplies; debt multiple is one less.
	r := s.loopRatio()
	supplyMultiple := sdkmath.LegacyZeroDec()
	term := sdkmath.LegacyOneDec()
	for i := 0; i < s.params.MaxLoops; i++ {
		supplyMultiple = supplyMultiple.Add(term)
		term = term.Mul(r)
	}
	debtMultiple := supplyMultiple.Sub(sdkmath.LegacyOneDec())
	return supplyRate.Mul(supplyMultiple).Sub(borrowRate.Mul(debtMultiple)), nil
}

// PegDeviation returns |price - 1| from the price feed, rejecting answers older than MaxPriceAge.
func (s *LeveragedLoop) PegDeviation(ctx context.Context) (price, deviation sdkmath.LegacyDec, err error) {
	p, err := s.feed.LatestPrice(ctx, s.cfg.Asset)
	if err != nil {
		return price, deviation, fmt.Errorf("read price: %w", err)
	}
	if age := s.cfg.Now().Sub(p.UpdatedAt); age > s.params.MaxPriceAge {
		return price, deviation, fmt.Errorf("%w: updated %s ago", ErrStalePrice, age)
	}
	price, err = utils.ScaledIntToDec(p.Value, int(p.Decimals))
	if err != nil {
		return price, deviation, fmt.Errorf("decode price: %w", err)
	}
	return price, price.Sub(sdkmath.LegacyOneDec()).Abs(), nil
}

func (s *LeveragedLoop) checkPeg(ctx context.Context) error {
	price, deviation, err := s.PegDeviation(ctx)
	if err != nil {
		return err
	}
	if deviation.GT(s.params.PegDeviationLimit) {
		s.emitPegAlert(price)
		return fmt.Errorf("%w: price %s", ErrStablecoinDepegged, price)
	}
	return nil
}

func (s *LeveragedLoop) emitPegAlert(price sdkmath.LegacyDec) {
	s.log.Warn().Str("price", price.String()).Msg("Stable asset off peg")
	ev := s.cfg.event(types.EventPegDeviationAlert)
	ev.Value = utils.MustDecToFloat64(price)
	s.cfg.Emitter.Emit(ev)
}

// observeProfitability tracks how long net APY has been negative. It returns the time since the
// first negative observation, zero while profitable.
func (s *LeveragedLoop) observeProfitability(ctx context.Context) (time.Duration, error) {
	apy, err := s.NetAPY(ctx)
	if err != nil {
		return 0, err
	}
	now := s.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !apy.IsNegative() {
		s.unprofitableSince = time.Time{}
		return 0, nil
	}
	if s.unprofitableSince.IsZero() {
		s.unprofitableSince = now
		s.log.Warn().Str("net_apy", apy.String()).Msg("Net APY turned negative")
		ev := s.cfg.event(types.EventUnprofitableAlert)
		ev.Value = utils.MustDecToFloat64(apy)
		s.cfg.Emitter.Emit(ev)
	}
	// Zero elapsed still means "negative", so report at least one nanosecond.
	if elapsed := now.Sub(s.unprofitableSince); elapsed > 0 {
		return elapsed, nil
	}
	return time.Nanosecond, nil
}

func (s *LeveragedLoop) Deposit(ctx context.Context, amount sdkmath.LegacyDec) error {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	if s.emergency.Load() {
		return ErrEmergencyModeActive
	}
	if err := s.checkPeg(ctx); err != nil {
		return err
	}
	unprofitableFor, err := s.observeProfitability(ctx)
	if err != nil {
		return err
	}
	if unprofitableFor >= s.params.UnprofitableGracePeriod {
		return fmt.Errorf("%w: negative for %s", ErrUnprofitablePosition, unprofitableFor)
	}

	result, err := s.executeLoop(ctx, amount)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.initialDeposit = s.initialDeposit.Add(amount)
	s.totalSupplied = s.totalSupplied.Add(result.supplied)
	s.totalBorrowed = s.totalBorrowed.Add(result.borrowed)
	s.tranches = result.tranches
	s.state = LoopLeveraged
	s.mu.Unlock()

	s.log.Info().
		Str("amount", amount.String()).
		Str("supplied", result.supplied.String()).
		Str("borrowed", result.borrowed.String()).
		Int("loops", len(result.tranches)).
		Msg("Loop executed")
	return nil
}

type loopResult struct {
	supplied sdkmath.LegacyDec
	borrowed sdkmath.LegacyDec
	tranches []sdkmath.LegacyDec
}

// executeLoop supplies at most MaxLoops tranches. Every tranche after the first is the amount borrowed
// against the one before it, so the sequence shrinks by loopRatio each step. The last iteration never
// borrows, which leaves no borrowed cash outside the venue. A borrow is skipped, ending the loop, when
// it is below MinBorrow or would take the LTV to HardStopLTV - SafetyBuffer.
//
// If a venue call fails midway, the partial loop is unwound and the original error returned.
func (s *LeveragedLoop) executeLoop(ctx context.Context, amount sdkmath.LegacyDec) (loopResult, error) {
	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		return loopResult{}, err
	}

	res := loopResult{supplied: sdkmath.LegacyZeroDec(), borrowed: sdkmath.LegacyZeroDec()}
	ratio := s.loopRatio()
	limit := s.ltvLimit()
	tranche := amount

	for i := 0; i < s.params.MaxLoops; i++ {
		got, err := s.venue.Supply(ctx, s.cfg.Asset, tranche)
		if err != nil {
			// The tranche is still in hand: amount on the first pass, borrowed cash afterwards.
			return loopResult{}, s.compensate(ctx, res, i > 0, tranche, fmt.Errorf("supply tranche %d: %w", i+1, err))
		}
		supplied = supplied.Add(got)
		res.supplied = res.supplied.Add(got)
		res.tranches = append(res.tranches, got)

		if i == s.params.MaxLoops-1 {
			break
		}
		safeBorrow := got.Mul(ratio)
		if safeBorrow.LT(s.params.MinBorrow) || !safeBorrow.IsPositive() {
			break
		}
		if borrowed.Add(safeBorrow).Quo(supplied).GTE(limit) {
			break
		}
		if err := s.venue.Borrow(ctx, s.cfg.Asset, safeBorrow); err != nil {
			return loopResult{}, s.compensate(ctx, res, false, sdkmath.LegacyZeroDec(), fmt.Errorf("borrow tranche %d: %w", i+1, err))
		}
		borrowed = borrowed.Add(safeBorrow)
		res.borrowed = res.borrowed.Add(safeBorrow)
		tranche = safeBorrow
	}
	return res, nil
}

// compensate reverses a failed loop: borrowed cash in hand repays debt first, the rest of this
// deposit's debt is cleared in lockstep, and this deposit's remaining supply goes back to the vault.
func (s *LeveragedLoop) compensate(ctx context.Context, partial loopResult, cashIsBorrowed bool, cash sdkmath.LegacyDec, cause error) error {
	s.log.Error().Err(cause).Msg("Loop failed, unwinding partial position")

	debt := partial.borrowed
	if cashIsBorrowed && cash.IsPositive() {
		repaid, err := s.venue.Repay(ctx, s.cfg.Asset, cash)
		if err != nil {
			return errors.Join(cause, fmt.Errorf("compensate: repay cash: %w", err))
		}
		debt = utils.FloorZero(debt.Sub(repaid))
	}
	used, err := s.repayLockstep(ctx, debt)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("compensate: %w", err))
	}
	if rest := partial.supplied.Sub(used); rest.IsPositive() {
		if _, err := s.venue.Withdraw(ctx, s.cfg.Asset, rest, s.cfg.Vault); err != nil {
			return errors.Join(cause, fmt.Errorf("compensate: withdraw supply: %w", err))
		}
	}
	return cause
}

// repayLockstep clears up to target debt by withdrawing supply and repaying it. Each chunk keeps the
// venue LTV at or below HardStopLTV. It returns how much supply was consumed.
func (s *LeveragedLoop) repayLockstep(ctx context.Context, target sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	used := sdkmath.LegacyZeroDec()
	remaining := target
	self := string(s.cfg.ID)

	for step := 0; remaining.IsPositive(); step++ {
		if step >= s.params.MaxUnwindSteps {
			return used, fmt.Errorf("%w: %s debt left after %d steps", ErrUnwindStalled, remaining, step)
		}
		supplied, borrowed, err := s.positionAt(ctx)
		if err != nil {
			return used, err
		}
		if !borrowed.IsPositive() {
			break
		}
		headroom := supplied.Sub(borrowed.Quo(s.params.HardStopLTV))
		chunk := sdkmath.LegacyMinDec(sdkmath.LegacyMinDec(remaining, borrowed), headroom)
		if !chunk.IsPositive() {
			return used, fmt.Errorf("%w: no withdrawable headroom (supplied %s, borrowed %s)", ErrUnwindStalled, supplied, borrowed)
		}

		withdrawn, err := s.venue.Withdraw(ctx, s.cfg.Asset, chunk, self)
		if err != nil {
			return used, fmt.Errorf("withdraw for repay: %w", err)
		}
		used = used.Add(withdrawn)
		repaid, err := s.venue.Repay(ctx, s.cfg.Asset, withdrawn)
		if err != nil {
			return used, fmt.Errorf("repay: %w", err)
		}
		remaining = remaining.Sub(repaid)
	}
	return used, nil
}

// Withdraw unwinds amount/initialDeposit of the position and sends the freed net value to the vault.
// amount is in pre-leverage terms.
func (s *LeveragedLoop) Withdraw(ctx context.Context, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	if !amount.IsPositive() {
		return sdkmath.LegacyZeroDec(), ErrZeroAmount
	}
	initial := s.Position().InitialDeposit
	if amount.GT(initial) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: requested %s, initial deposit %s", ErrInsufficientBalance, amount, initial)
	}

	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	proportion := amount.Quo(initial)
	full := proportion.Equal(sdkmath.LegacyOneDec())
	debtTarget := borrowed.Mul(proportion)
	supplyTarget := supplied.Mul(proportion)

	s.setState(LoopUnwinding)
	used, err := s.repayLockstep(ctx, debtTarget)
	if err != nil {
		s.resyncPosition(ctx)
		s.setState(LoopLeveraged)
		return sdkmath.LegacyZeroDec(), err
	}

	freed := utils.FloorZero(supplyTarget.Sub(used))
	if full {
		// Closing the position: take whatever supply is left so interest dust does not strand.
		if freed, err = s.venue.SupplyBalance(ctx, s.cfg.Asset); err != nil {
			s.resyncPosition(ctx)
			s.setState(LoopLeveraged)
			return sdkmath.LegacyZeroDec(), fmt.Errorf("read supply balance: %w", err)
		}
	}
	withdrawn := sdkmath.LegacyZeroDec()
	if freed.IsPositive() {
		if withdrawn, err = s.venue.Withdraw(ctx, s.cfg.Asset, freed, s.cfg.Vault); err != nil {
			s.resyncPosition(ctx)
			s.setState(LoopLeveraged)
			return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw freed supply: %w", err)
		}
	}

	s.mu.Lock()
	s.initialDeposit = utils.FloorZero(s.initialDeposit.Sub(amount))
	s.totalSupplied = utils.FloorZero(s.totalSupplied.Sub(used).Sub(withdrawn))
	s.totalBorrowed = utils.FloorZero(s.totalBorrowed.Sub(debtTarget))
	if s.initialDeposit.IsZero() {
		s.state = LoopInactive
		s.tranches = nil
		s.totalSupplied = sdkmath.LegacyZeroDec()
		s.totalBorrowed = sdkmath.LegacyZeroDec()
	} else {
		s.state = LoopLeveraged
	}
	s.mu.Unlock()

	s.log.Info().Str("amount", amount.String()).Str("withdrawn", withdrawn.String()).Msg("Unwound proportionally")
	return withdrawn, nil
}

// Harvest takes the net position above initialDeposit. It repays that much debt first, then
// withdraws the same amount of freed supply to the vault.
func (s *LeveragedLoop) Harvest(ctx context.Context) (sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	initial := s.Position().InitialDeposit
	yield := supplied.Sub(borrowed).Sub(initial)
	if !yield.IsPositive() || initial.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}

	used := sdkmath.LegacyZeroDec()
	if toRepay := sdkmath.LegacyMinDec(yield, borrowed); toRepay.IsPositive() {
		if used, err = s.repayLockstep(ctx, toRepay); err != nil {
			s.resyncPosition(ctx)
			return sdkmath.LegacyZeroDec(), fmt.Errorf("deleverage before harvest: %w", err)
		}
	}
	harvested, err := s.venue.Withdraw(ctx, s.cfg.Asset, yield, s.cfg.Vault)
	if err != nil {
		s.resyncPosition(ctx)
		return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw yield: %w", err)
	}

	// Rebase on the venue read so accrued interest does not linger in the ledger.
	s.mu.Lock()
	s.totalSupplied = utils.FloorZero(supplied.Sub(used).Sub(harvested))
	s.totalBorrowed = utils.FloorZero(borrowed.Sub(used))
	s.mu.Unlock()

	s.cfg.Emitter.Emit(s.cfg.event(types.EventHarvested).WithAmount(harvested))
	s.log.Info().Str("yield", harvested.String()).Msg("Harvested")
	return harvested, nil
}

func (s *LeveragedLoop) EmergencyExit(ctx context.Context, reason string) (sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()
	return s.fullUnwind(ctx, reason)
}

// CheckAndUnwindIfUnprofitable fully unwinds once net APY has been negative for the grace period.
// It reports whether the unwind ran.
func (s *LeveragedLoop) CheckAndUnwindIfUnprofitable(ctx context.Context) (bool, sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return false, sdkmath.LegacyZeroDec(), err
	}
	defer release()

	if s.Position().State == LoopInactive {
		return false, sdkmath.LegacyZeroDec(), nil
	}
	unprofitableFor, err := s.observeProfitability(ctx)
	if err != nil {
		return false, sdkmath.LegacyZeroDec(), err
	}
	if unprofitableFor == 0 || unprofitableFor < s.params.UnprofitableGracePeriod {
		return false, sdkmath.LegacyZeroDec(), nil
	}
	recovered, err := s.fullUnwind(ctx, fmt.Sprintf("net APY negative for %s", unprofitableFor.Round(time.Minute)))
	return true, recovered, err
}

// CheckAndExitOnDeviation fully unwinds as soon as the asset is off peg. There is no grace period.
func (s *LeveragedLoop) CheckAndExitOnDeviation(ctx context.Context) (bool, sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return false, sdkmath.LegacyZeroDec(), err
	}
	defer release()

	price, deviation, err := s.PegDeviation(ctx)
	if err != nil {
		return false, sdkmath.LegacyZeroDec(), err
	}
	if deviation.LTE(s.params.PegDeviationLimit) {
		return false, sdkmath.LegacyZeroDec(), nil
	}
	s.emitPegAlert(price)
	recovered, err := s.fullUnwind(ctx, fmt.Sprintf("peg deviation: price %s", price))
	return true, recovered, err
}

// fullUnwind repays all debt in lockstep, withdraws all remaining supply to the vault, sets emergency
// mode and zeroes the ledger. On an empty position it only sets emergency mode and returns zero.
func (s *LeveragedLoop) fullUnwind(ctx context.Context, reason string) (sdkmath.LegacyDec, error) {
	s.emergency.Store(true)

	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if supplied.IsZero() && borrowed.IsZero() {
		s.resetLedger()
		return sdkmath.LegacyZeroDec(), nil
	}

	s.setState(LoopUnwinding)
	if borrowed.IsPositive() {
		if _, err := s.repayLockstep(ctx, borrowed); err != nil {
			s.resyncPosition(ctx)
			return sdkmath.LegacyZeroDec(), fmt.Errorf("unwind debt: %w", err)
		}
	}
	if _, borrowed, err = s.positionAt(ctx); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if borrowed.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s debt left", ErrUnwindStalled, borrowed)
	}

	remaining, err := s.venue.SupplyBalance(ctx, s.cfg.Asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("read supply balance: %w", err)
	}
	recovered := sdkmath.LegacyZeroDec()
	if remaining.IsPositive() {
		if recovered, err = s.venue.Withdraw(ctx, s.cfg.Asset, remaining, s.cfg.Vault); err != nil {
			s.resyncPosition(ctx)
			return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw remaining supply: %w", err)
		}
	}
	s.resetLedger()

	ev := s.cfg.event(types.EventEmergencyExitTriggered).WithAmount(recovered)
	ev.Reason = reason
	s.cfg.Emitter.Emit(ev)
	s.log.Error().Str("reason", reason).Str("recovered", recovered.String()).Msg("Position fully unwound")
	return recovered, nil
}

// resyncPosition copies the venue's supply and debt into the ledger after a sequence failed partway.
func (s *LeveragedLoop) resyncPosition(ctx context.Context) {
	supplied, borrowed, err := s.positionAt(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not resync position after partial unwind")
		return
	}
	s.mu.Lock()
	s.totalSupplied = supplied
	s.totalBorrowed = borrowed
	s.mu.Unlock()
}

func (s *LeveragedLoop) resetLedger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = LoopInactive
	s.initialDeposit = sdkmath.LegacyZeroDec()
	s.totalSupplied = sdkmath.LegacyZeroDec()
	s.totalBorrowed = sdkmath.LegacyZeroDec()
	s.tranches = nil
	s.unprofitableSince = time.Time{}
}

func (s *LeveragedLoop) ResetEmergency(caller string) error {
	if !s.cfg.Roles.HasRole(caller, types.RoleAdmin) {
		return ErrUnauthorized
	}
	if s.emergency.CompareAndSwap(true, false) {
		ev := s.cfg.event(types.EventEmergencyReset)
		ev.Account = caller
		s.cfg.Emitter.Emit(ev)
	}
	return nil
}
