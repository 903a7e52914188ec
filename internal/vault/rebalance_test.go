package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexxore/safeyield/internal/simulations"
	"github.com/nexxore/safeyield/internal/types"
)

func TestRebalanceFromIdle(t *testing.T) {
	f := newFixture(t, 5000, 3000, 2000)
	f.deposit(t, alice, "100000")

	report, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)

	alloc := f.allocations(t)
	assertDec(t, "50000", alloc[0])
	assertDec(t, "30000", alloc[1])
	assertDec(t, "20000", alloc[2])

	assert.Zero(t, report.FailedCount())
	assertDec(t, "100000", report.TotalAssets)
	for _, step := range report.Steps {
		assert.Equal(t, directionAllocate, step.Direction)
		assert.True(t, step.Amount.Equal(step.Target), step.StrategyID)
	}
	assert.Equal(t, f.clock.Now(), f.vault.LastRebalance())
	assert.Len(t, f.events.OfType(types.EventRebalanced), 1)
	assert.Len(t, f.events.OfType(types.EventCapitalAllocated), 3)
}

func TestRebalanceConverges(t *testing.T) {
	f := newFixture(t, 5000, 2500, 2500)
	f.deposit(t, alice, "1000")
	_, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)

	// Yield is harvested into idle, then redistributed.
	f.venues[0].AccrueSupplyInterest(dec("300"))
	harvested, err := f.vault.HarvestAll(f.ctx, testStrategist)
	require.NoError(t, err)
	assertDec(t, "300", harvested)

	f.clock.Advance(time.Hour)
	_, err = f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)
	assertConverged(t, f)

	// A new weight set needs capital pulled out of one strategy to fund another.
	require.NoError(t, f.vault.SetWeights(f.ctx, testStrategist, map[types.StrategyID]uint32{"s1": 2500, "s3": 5000}))
	f.clock.Advance(time.Hour)
	report, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)
	assertConverged(t, f)

	assert.Equal(t, directionWithdraw, report.Steps[0].Direction)
	assertDec(t, "325", report.Steps[0].Amount)
	assert.Equal(t, directionNone, report.Steps[1].Direction)
	assert.Equal(t, directionAllocate, report.Steps[2].Direction)
	assertDec(t, "325", report.Steps[2].Amount)
}

func assertConverged(t *testing.T, f fixture) {
	t.Helper()
	snap, err := f.vault.Snapshot(f.ctx)
	require.NoError(t, err)
	for _, s := range snap.Strategies {
		target := snap.TotalAssets.MulInt64(int64(s.WeightBps)).QuoInt64(10000)
		diff := s.Allocation.Sub(target).Abs()
		assert.True(t, diff.LTE(dec("1")), "%s: allocation %s, target %s", s.ID, s.Allocation, target)
	}
}

func TestRebalanceSkipsFailingStrategy(t *testing.T) {
	f := newFixture(t, 5000, 2500, 2500)
	f.deposit(t, alice, "1000")
	f.venues[1].InjectFailure(simulations.OpSupply, simulations.ErrInjected, 0)

	report, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedCount())
	assert.True(t, report.Steps[1].Failed())
	assert.Contains(t, report.Steps[1].Error, "injected")

	alloc := f.allocations(t)
	assertDec(t, "500", alloc[0])
	assertDec(t, "0", alloc[1])
	assertDec(t, "250", alloc[2])

	snap, err := f.vault.Snapshot(f.ctx)
	require.NoError(t, err)
	assertDec(t, "250", snap.IdleBalance)
	assert.Equal(t, f.clock.Now(), f.vault.LastRebalance(), "cooldown restarts after a partial pass")
}

func TestRebalanceRecordsUnreadableStrategy(t *testing.T) {
	f := newFixture(t, 5000, 5000)
	f.deposit(t, alice, "1000")
	_, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)

	f.venues[0].InjectPersistentFailure(simulations.OpRead, simulations.ErrInjected)
	f.clock.Advance(time.Hour)
	report, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)
	assert.Contains(t, report.Steps[0].Error, "value unavailable")
	assert.False(t, report.Steps[1].Failed())
}

func TestRebalanceCooldown(t *testing.T) {
	f := newFixture(t, 5000, 5000)
	f.deposit(t, alice, "1000")
	_, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)

	f.clock.Advance(59 * time.Minute)
	_, err = f.vault.Rebalance(f.ctx, testStrategist)
	assert.ErrorIs(t, err, ErrRebalanceTooSoon)
	assert.Equal(t, types.ErrorKindInvariant, Kind(err))

	f.clock.Advance(time.Minute)
	_, err = f.vault.Rebalance(f.ctx, testStrategist)
	assert.NoError(t, err)
}

func TestRebalanceRequiresStrategist(t *testing.T) {
	f := newFixture(t, 5000, 5000)
	_, err := f.vault.Rebalance(f.ctx, alice)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, f.vault.LastRebalance().IsZero())
}

func TestRebalanceWithNoWeightsKeepsCapitalIdle(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.deposit(t, alice, "1000")
	report, err := f.vault.Rebalance(f.ctx, testStrategist)
	require.NoError(t, err)
	for _, step := range report.Steps {
		assert.Equal(t, directionNone, step.Direction)
	}
	snap, err := f.vault.Snapshot(f.ctx)
	require.NoError(t, err)
	assertDec(t, "1000", snap.IdleBalance)
}
