/*

Package vault implements the capital-allocation core: the strategy registry with its target weights,
the allocation ledger, proportional share accounting, the rebalancing pass and the risk-driven
operating modes.

Every state-mutating entry point runs under one non-reentrant guard, which is also the single lock
over the ledger. Reads that must be consistent (Snapshot, TotalAssets) take the same guard.

*/

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/access"
	"github.com/nexxore/safeyield/internal/events"
	"github.com/nexxore/safeyield/internal/guard"
	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
)

// Registration is one strategy in the initial registry.
type Registration struct {
	Strategy  strategy.Strategy
	WeightBps uint32
}

// Config holds everything fixed at creation.
type Config struct {
	Asset string
	// Address is the vault's own account; strategies send withdrawals here.
	Address           string
	Strategies        []Registration
	PerformanceFeeBps uint32
	FeeRecipient      string
	Params            types.VaultParameters
	Roles             access.RoleChecker
	Emitter           events.Emitter
	Now               func() time.Time
}

type entry struct {
	strategy   strategy.Strategy
	weightBps  uint32
	allocation sdkmath.LegacyDec
}

// Vault is the capital-allocation core.
type Vault struct {
	asset   string
	address string
	params  types.VaultParameters
	roles   access.RoleChecker
	emitter events.Emitter
	now     func() time.Time
	log     zerolog.Logger

	guard guard.Guard

	// regMu guards registry membership for lock-free lookups; writers also hold guard.
	regMu   sync.RWMutex
	order   []types.StrategyID
	entries map[types.StrategyID]*entry

	idle         sdkmath.LegacyDec
	totalShares  sdkmath.LegacyDec
	shares       map[string]sdkmath.LegacyDec
	feeBps       uint32
	feeRecipient string

	paused        atomic.Bool
	mode          atomic.Int32
	lastRebalance atomic.Int64 // unix nanos, zero when never rebalanced
}

// New validates the initial registry and fee configuration and creates a vault with no idle capital.
func New(cfg Config) (*Vault, error) {
	if cfg.Asset == "" || cfg.Address == "" {
		return nil, fmt.Errorf("%w: asset and vault address are required", ErrInvalidAddress)
	}
	if cfg.Roles == nil {
		return nil, fmt.Errorf("%w: no role checker", ErrUnauthorized)
	}
	if cfg.PerformanceFeeBps > cfg.Params.MaxPerformanceFeeBps {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidFee, cfg.PerformanceFeeBps, cfg.Params.MaxPerformanceFeeBps)
	}
	if len(cfg.Strategies) > cfg.Params.MaxStrategies {
		return nil, fmt.Errorf("%w: %d strategies, capacity %d", ErrMaxStrategiesExceeded, len(cfg.Strategies), cfg.Params.MaxStrategies)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	v := &Vault{
		asset:        cfg.Asset,
		address:      cfg.Address,
		params:       cfg.Params,
		roles:        cfg.Roles,
		emitter:      cfg.Emitter,
		now:          cfg.Now,
		log:          logger.GetForComponent("vault_core").With().Str("vault", cfg.Address).Logger(),
		entries:      make(map[types.StrategyID]*entry, len(cfg.Strategies)),
		idle:         sdkmath.LegacyZeroDec(),
		totalShares:  sdkmath.LegacyZeroDec(),
		shares:       make(map[string]sdkmath.LegacyDec),
		feeBps:       cfg.PerformanceFeeBps,
		feeRecipient: cfg.FeeRecipient,
	}

	var total uint32
	for _, reg := range cfg.Strategies {
		if reg.Strategy == nil || reg.Strategy.ID() == "" {
			return nil, fmt.Errorf("%w: empty strategy", ErrInvalidAddress)
		}
		id := reg.Strategy.ID()
		if _, exists := v.entries[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrStrategyAlreadyExists, id)
		}
		if reg.WeightBps > cfg.Params.MaxStrategyWeightBps {
			return nil, fmt.Errorf("%w: %s weight %d above %d", ErrInvalidWeight, id, reg.WeightBps, cfg.Params.MaxStrategyWeightBps)
		}
		total += reg.WeightBps
		v.order = append(v.order, id)
		v.entries[id] = &entry{strategy: reg.Strategy, weightBps: reg.WeightBps, allocation: sdkmath.LegacyZeroDec()}
	}
	if err := checkWeightSum(total); err != nil {
		return nil, err
	}

	v.log.Info().
		Str("asset", v.asset).
		Int("strategies", len(v.order)).
		Uint32("total_weight_bps", total).
		Msg("Vault created")
	return v, nil
}

// checkWeightSum enforces the committed-weights invariant: all or nothing.
func checkWeightSum(total uint32) error {
	switch {
	case total == 0 || total == utils.BpsDenominator:
		return nil
	case total > utils.BpsDenominator:
		return fmt.Errorf("%w: %d", ErrTotalWeightExceeded, total)
	default:
		return fmt.Errorf("%w: weights sum to %d, want 0 or %d", ErrInvalidWeight, total, utils.BpsDenominator)
	}
}

func (v *Vault) Asset() string   { return v.asset }
func (v *Vault) Address() string { return v.address }
func (v *Vault) Paused() bool    { return v.paused.Load() }

func (v *Vault) RiskMode() RiskMode { return RiskMode(v.mode.Load()) }

func (v *Vault) RebalanceCooldown() time.Duration { return v.params.RebalanceCooldown }

// LastRebalance returns the time of the last rebalance, zero if there was none.
func (v *Vault) LastRebalance() time.Time {
	ns := v.lastRebalance.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Strategy looks up a registered strategy.
func (v *Vault) Strategy(id types.StrategyID) (strategy.Strategy, bool) {
	v.regMu.RLock()
	defer v.regMu.RUnlock()
	e, ok := v.entries[id]
	if !ok {
		return nil, false
	}
	return e.strategy, true
}

// StrategyIDs returns the registry in insertion order.
func (v *Vault) StrategyIDs() []types.StrategyID {
	v.regMu.RLock()
	defer v.regMu.RUnlock()
	out := make([]types.StrategyID, len(v.order))
	copy(out, v.order)
	return out
}

func (v *Vault) require(caller string, role types.Role) error {
	if !v.roles.HasRole(caller, role) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller, role)
	}
	return nil
}

func (v *Vault) event(t types.EventType) types.Event {
	return types.Event{Type: t, Vault: v.address, Timestamp: v.now()}
}

func (v *Vault) totalWeight() uint32 {
	var total uint32
	for _, e := range v.entries {
		total += e.weightBps
	}
	return total
}

// AddStrategy registers s with zero allocation.
func (v *Vault) AddStrategy(ctx context.Context, caller string, s strategy.Strategy, weightBps uint32) error {
	_, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return err
	}
	if s == nil || s.ID() == "" {
		return ErrInvalidAddress
	}
	id := s.ID()
	if _, exists := v.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyAlreadyExists, id)
	}
	if len(v.order) >= v.params.MaxStrategies {
		return fmt.Errorf("%w: capacity %d", ErrMaxStrategiesExceeded, v.params.MaxStrategies)
	}
	if weightBps > v.params.MaxStrategyWeightBps {
		return fmt.Errorf("%w: %d above %d", ErrInvalidWeight, weightBps, v.params.MaxStrategyWeightBps)
	}
	if total := v.totalWeight() + weightBps; total > utils.BpsDenominator {
		return fmt.Errorf("%w: %d", ErrTotalWeightExceeded, total)
	}

	v.regMu.Lock()
	v.order = append(v.order, id)
	v.entries[id] = &entry{strategy: s, weightBps: weightBps, allocation: sdkmath.LegacyZeroDec()}
	v.regMu.Unlock()

	ev := v.event(types.EventStrategyAdded)
	ev.Strategy = id
	ev.WeightBps = weightBps
	v.emitter.Emit(ev)
	v.log.Info().Str("strategy", string(id)).Uint32("weight_bps", weightBps).Msg("Strategy added")
	return nil
}

// RemoveStrategy unregisters a strategy whose allocation has been fully withdrawn and which holds no
// residual value. Yield left behind must be harvested first or it would drop out of TotalAssets.
func (v *Vault) RemoveStrategy(ctx context.Context, caller string, id types.StrategyID) error {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return err
	}
	e, ok := v.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if !e.allocation.IsZero() {
		return fmt.Errorf("%w: %s still holds %s", ErrInsufficientBalance, id, e.allocation)
	}
	value, err := e.strategy.TotalDeposits(ctx)
	if err != nil {
		return fmt.Errorf("value of %s: %w", id, err)
	}
	if value.IsPositive() {
		return fmt.Errorf("%w: %s still holds %s of unharvested value", ErrInsufficientBalance, id, value)
	}

	v.regMu.Lock()
	delete(v.entries, id)
	for i, existing := range v.order {
		if existing == id {
			v.order = append(v.order[:i:i], v.order[i+1:]...)
			break
		}
	}
	v.regMu.Unlock()

	ev := v.event(types.EventStrategyRemoved)
	ev.Strategy = id
	v.emitter.Emit(ev)
	v.log.Info().Str("strategy", string(id)).Msg("Strategy removed")
	return nil
}

// UpdateStrategyWeight changes one strategy's weight within the same bounds as AddStrategy.
func (v *Vault) UpdateStrategyWeight(ctx context.Context, caller string, id types.StrategyID, weightBps uint32) error {
	_, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return err
	}
	e, ok := v.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if weightBps > v.params.MaxStrategyWeightBps {
		return fmt.Errorf("%w: %d above %d", ErrInvalidWeight, weightBps, v.params.MaxStrategyWeightBps)
	}
	if total := v.totalWeight() - e.weightBps + weightBps; total > utils.BpsDenominator {
		return fmt.Errorf("%w: %d", ErrTotalWeightExceeded, total)
	}

	e.weightBps = weightBps
	ev := v.event(types.EventStrategyWeightChanged)
	ev.Strategy = id
	ev.WeightBps = weightBps
	v.emitter.Emit(ev)
	return nil
}

// SetWeights replaces several weights at once. Strategies not in the map keep their weight. The
// resulting total must be 0 or 10000, which makes this the way to move between complete weight sets.
func (v *Vault) SetWeights(ctx context.Context, caller string, weights map[types.StrategyID]uint32) error {
	_, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return err
	}
	var total uint32
	for id, e := range v.entries {
		w, ok := weights[id]
		if !ok {
			w = e.weightBps
		}
		if w > v.params.MaxStrategyWeightBps {
			return fmt.Errorf("%w: %s weight %d above %d", ErrInvalidWeight, id, w, v.params.MaxStrategyWeightBps)
		}
		total += w
	}
	for id := range weights {
		if _, ok := v.entries[id]; !ok {
			return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
		}
	}
	if err := checkWeightSum(total); err != nil {
		return err
	}

	for _, id := range v.order {
		w, ok := weights[id]
		if !ok || v.entries[id].weightBps == w {
			continue
		}
		v.entries[id].weightBps = w
		ev := v.event(types.EventStrategyWeightChanged)
		ev.Strategy = id
		ev.WeightBps = w
		v.emitter.Emit(ev)
	}
	return nil
}

// checkCanDeploy rejects moves of capital into strategies while paused or restricted.
func (v *Vault) checkCanDeploy() error {
	if v.paused.Load() {
		return ErrPaused
	}
	switch v.RiskMode() {
	case RiskModeWithdrawOnly:
		return ErrWithdrawOnly
	case RiskModeEmergencyUnwound:
		return ErrEmergencyUnwound
	}
	return nil
}

// AllocateToStrategy moves amount of idle capital into a strategy.
func (v *Vault) AllocateToStrategy(ctx context.Context, caller string, id types.StrategyID, amount sdkmath.LegacyDec) error {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return err
	}
	if err := v.checkCanDeploy(); err != nil {
		return err
	}
	return v.allocate(ctx, id, amount)
}

func (v *Vault) allocate(ctx context.Context, id types.StrategyID, amount sdkmath.LegacyDec) error {
	e, ok := v.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}
	if amount.GT(v.idle) {
		return fmt.Errorf("%w: idle %s, requested %s", ErrInsufficientBalance, v.idle, amount)
	}
	if err := e.strategy.Deposit(ctx, amount); err != nil {
		return fmt.Errorf("deposit into %s: %w", id, err)
	}
	v.idle = v.idle.Sub(amount)
	e.allocation = e.allocation.Add(amount)

	ev := v.event(types.EventCapitalAllocated).WithAmount(amount)
	ev.Strategy = id
	v.emitter.Emit(ev)
	return nil
}

// WithdrawFromStrategy asks a strategy to return amount of principal. The ledger changes only after
// the strategy reports the funds sent; idle grows by what was actually received.
func (v *Vault) WithdrawFromStrategy(ctx context.Context, caller string, id types.StrategyID, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return v.withdraw(ctx, id, amount)
}

func (v *Vault) withdraw(ctx context.Context, id types.StrategyID, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	e, ok := v.entries[id]
	if !ok {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.LegacyZeroDec(), ErrZeroAmount
	}
	if amount.GT(e.allocation) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s allocation %s, requested %s", ErrInsufficientBalance, id, e.allocation, amount)
	}
	received, err := e.strategy.Withdraw(ctx, amount)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("withdraw from %s: %w", id, err)
	}
	v.bookWithdrawal(id, e, amount, received)
	return received, nil
}

// bookWithdrawal moves a confirmed receipt into idle and takes principal off the allocation.
func (v *Vault) bookWithdrawal(id types.StrategyID, e *entry, principal, received sdkmath.LegacyDec) {
	e.allocation = utils.FloorZero(e.allocation.Sub(principal))
	v.idle = v.idle.Add(received)

	ev := v.event(types.EventCapitalWithdrawn).WithAmount(received)
	ev.Strategy = id
	v.emitter.Emit(ev)
}

// valuation returns idle plus each strategy's reported value. With strict set, any failed read
// fails the call; otherwise the ledger allocation stands in for the missing value and the read
// error is returned per strategy.
func (v *Vault) valuation(ctx context.Context, strict bool) (sdkmath.LegacyDec, map[types.StrategyID]sdkmath.LegacyDec, map[types.StrategyID]error, error) {
	total := v.idle
	values := make(map[types.StrategyID]sdkmath.LegacyDec, len(v.order))
	var readErrs map[types.StrategyID]error
	for _, id := range v.order {
		e := v.entries[id]
		value, err := e.strategy.TotalDeposits(ctx)
		if err != nil {
			if strict {
				return sdkmath.LegacyZeroDec(), nil, nil, fmt.Errorf("value of %s: %w", id, err)
			}
			if readErrs == nil {
				readErrs = make(map[types.StrategyID]error)
			}
			readErrs[id] = err
			value = e.allocation
			v.log.Warn().Err(err).Str("strategy", string(id)).Msg("Strategy value unavailable, using ledger allocation")
		}
		values[id] = value
		total = total.Add(value)
	}
	return total, values, readErrs, nil
}

// TotalAssets is idle capital plus every strategy's reported value, including accrued yield.
func (v *Vault) TotalAssets(ctx context.Context) (sdkmath.LegacyDec, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	defer release()

	total, _, _, err := v.valuation(ctx, true)
	return total, err
}

// Snapshot copies the ledger under the vault lock.
func (v *Vault) Snapshot(ctx context.Context) (types.LedgerSnapshot, error) {
	ctx, release, err := v.guard.Enter(ctx)
	if err != nil {
		return types.LedgerSnapshot{}, err
	}
	defer release()

	total, values, readErrs, err := v.valuation(ctx, false)
	if err != nil {
		return types.LedgerSnapshot{}, err
	}
	snap := types.LedgerSnapshot{
		Asset:       v.asset,
		IdleBalance: v.idle,
		TotalAssets: total,
		TotalShares: v.totalShares,
		Paused:      v.paused.Load(),
		RiskMode:    v.RiskMode().String(),
		Strategies:  make([]types.StrategyAllocation, 0, len(v.order)),
	}
	for _, id := range v.order {
		e := v.entries[id]
		snap.Strategies = append(snap.Strategies, types.StrategyAllocation{
			ID:            id,
			Kind:          e.strategy.Kind(),
			WeightBps:     e.weightBps,
			Allocation:    e.allocation,
			ReportedValue: values[id],
			EmergencyMode: e.strategy.EmergencyMode(),
		})
	}
	if len(readErrs) > 0 {
		errs := make([]error, 0, len(readErrs))
		for id, e := range readErrs {
			errs = append(errs, fmt.Errorf("%s: %w", id, e))
		}
		v.log.Warn().Err(errors.Join(errs...)).Msg("Snapshot used ledger values for some strategies")
	}
	return snap, nil
}

// SetPerformanceFee changes the fee charged on harvested yield.
func (v *Vault) SetPerformanceFee(ctx context.Context, caller string, bps uint32) error {
	_, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return err
	}
	if bps > v.params.MaxPerformanceFeeBps {
		return fmt.Errorf("%w: %d > %d", ErrInvalidFee, bps, v.params.MaxPerformanceFeeBps)
	}
	v.feeBps = bps
	ev := v.event(types.EventFeeUpdated)
	ev.WeightBps = bps
	v.emitter.Emit(ev)
	return nil
}

// SetFeeRecipient changes the account that receives fee shares.
func (v *Vault) SetFeeRecipient(ctx context.Context, caller string, recipient string) error {
	_, release, err := v.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := v.require(caller, types.RoleStrategist); err != nil {
		return err
	}
	if recipient == "" {
		return ErrInvalidAddress
	}
	v.feeRecipient = recipient
	ev := v.event(types.EventFeeRecipientUpdated)
	ev.Account = recipient
	v.emitter.Emit(ev)
	return nil
}
