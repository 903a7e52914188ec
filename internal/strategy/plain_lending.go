package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/guard"
	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
	"github.com/nexxore/safeyield/internal/venue"
)

// PlainLending supplies capital to one lending venue and guards deposits with a utilization ceiling.
type PlainLending struct {
	cfg    Config
	params types.PlainLendingParameters
	venue  venue.LendingVenue
	log    zerolog.Logger

	guard     guard.Guard
	emergency atomic.Bool

	mu             sync.RWMutex
	totalDeposited sdkmath.LegacyDec
}

var _ Strategy = (*PlainLending)(nil)

func NewPlainLending(cfg Config, v venue.LendingVenue, params types.PlainLendingParameters) (*PlainLending, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: nil venue", ErrInvalidAddress)
	}
	return &PlainLending{
		cfg:            cfg,
		params:         params,
		venue:          v,
		log:            logger.GetForComponent("plain_lending").With().Str("strategy", string(cfg.ID)).Logger(),
		totalDeposited: sdkmath.LegacyZeroDec(),
	}, nil
}

func (s *PlainLending) sealed() {}

func (s *PlainLending) ID() types.StrategyID     { return s.cfg.ID }
func (s *PlainLending) Kind() types.StrategyKind { return types.StrategyKindPlainLending }
func (s *PlainLending) EmergencyMode() bool      { return s.emergency.Load() }

// TotalDeposited is the principal ledger.
func (s *PlainLending) TotalDeposited() sdkmath.LegacyDec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalDeposited
}

func (s *PlainLending) setTotalDeposited(v sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalDeposited = utils.FloorZero(v)
}

// Utilization is the venue's reserve utilization.
func (s *PlainLending) Utilization(ctx context.Context) (sdkmath.LegacyDec, error) {
	return s.venue.ReserveUtilization(ctx, s.cfg.Asset)
}

// UtilizationAlert reports whether utilization is at or above the soft ceiling.
func (s *PlainLending) UtilizationAlert(ctx context.Context) (bool, error) {
	u, err := s.Utilization(ctx)
	if err != nil {
		return false, err
	}
	return u.GTE(s.params.SoftUtilizationCeiling), nil
}

// UtilizationEmergency reports whether utilization is at or above the hard ceiling.
func (s *PlainLending) UtilizationEmergency(ctx context.Context) (bool, error) {
	u, err := s.Utilization(ctx)
	if err != nil {
		return false, err
	}
	return u.GTE(s.params.HardUtilizationCeiling), nil
}

func (s *PlainLending) Deposit(ctx context.Context, amount sdkmath.LegacyDec) error {
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

	u, err := s.Utilization(ctx)
	if err != nil {
		return fmt.Errorf("read utilization: %w", err)
	}
	if u.GTE(s.params.HardUtilizationCeiling) {
		return fmt.Errorf("%w: %s", ErrUtilizationTooHigh, u)
	}
	if u.GTE(s.params.SoftUtilizationCeiling) {
		s.log.Warn().Str("utilization", u.String()).Msg("Venue utilization above soft ceiling")
		ev := s.cfg.event(types.EventUtilizationAlert)
		ev.Value = utils.MustDecToFloat64(u)
		s.cfg.Emitter.Emit(ev)
	}

	supplied, err := s.venue.Supply(ctx, s.cfg.Asset, amount)
	if err != nil {
		return fmt.Errorf("supply to venue: %w", err)
	}
	s.setTotalDeposited(s.TotalDeposited().Add(supplied))

	s.log.Info().Str("amount", supplied.String()).Msg("Deposited")
	return nil
}

func (s *PlainLending) Withdraw(ctx context.Context, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	if !amount.IsPositive() {
		return sdkmath.LegacyZeroDec(), ErrZeroAmount
	}
	balance, err := s.venue.SupplyBalance(ctx, s.cfg.Asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("read supply balance: %w", err)
	}
	if amount.GT(balance) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount, balance)
	}

	withdrawn, err := s.venue.Withdraw(ctx, s.cfg.Asset, amount, s.cfg.Vault)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw from venue: %w", err)
	}
	s.setTotalDeposited(s.TotalDeposited().Sub(withdrawn))

	s.log.Info().Str("amount", withdrawn.String()).Msg("Withdrew")
	return withdrawn, nil
}

// Harvest withdraws venueBalance - principal when positive. Repeated calls with no new yield return zero.
func (s *PlainLending) Harvest(ctx context.Context) (sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	balance, err := s.venue.SupplyBalance(ctx, s.cfg.Asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("read supply balance: %w", err)
	}
	yield := balance.Sub(s.TotalDeposited())
	if !yield.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}

	harvested, err := s.venue.Withdraw(ctx, s.cfg.Asset, yield, s.cfg.Vault)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw yield: %w", err)
	}
	s.cfg.Emitter.Emit(s.cfg.event(types.EventHarvested).WithAmount(harvested))
	s.log.Info().Str("yield", harvested.String()).Msg("Harvested")
	return harvested, nil
}

// EmergencyExit withdraws the full venue balance. Emergency mode is set before touching the venue,
// so deposits stay blocked even if the withdrawal fails.
func (s *PlainLending) EmergencyExit(ctx context.Context, reason string) (sdkmath.LegacyDec, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	s.emergency.Store(true)

	balance, err := s.venue.SupplyBalance(ctx, s.cfg.Asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("read supply balance: %w", err)
	}
	recovered := sdkmath.LegacyZeroDec()
	if balance.IsPositive() {
		recovered, err = s.venue.Withdraw(ctx, s.cfg.Asset, balance, s.cfg.Vault)
		if err != nil {
			return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw full balance: %w", err)
		}
	}
	s.setTotalDeposited(sdkmath.LegacyZeroDec())

	ev := s.cfg.event(types.EventEmergencyExitTriggered).WithAmount(recovered)
	ev.Reason = reason
	s.cfg.Emitter.Emit(ev)
	s.log.Error().Str("reason", reason).Str("recovered", recovered.String()).Msg("Emergency exit")
	return recovered, nil
}

func (s *PlainLending) TotalDeposits(ctx context.Context) (sdkmath.LegacyDec, error) {
	return s.venue.SupplyBalance(ctx, s.cfg.Asset)
}

func (s *PlainLending) ResetEmergency(caller string) error {
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
