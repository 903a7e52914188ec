package strategy

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexxore/safeyield/internal/config"
	"github.com/nexxore/safeyield/internal/events"
	"github.com/nexxore/safeyield/internal/simulations"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/venue"
)

func TestLoopDepositProducesGeometricTranches(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)

	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	pos := f.strategy.Position()
	assertTranches(t, []string{"1000", "380", "144.4", "54.872"}, pos.Tranches)
	assert.InDelta(t, 54.9, pos.Tranches[3].MustFloat64(), 0.05)
	assert.Equal(t, LoopLeveraged, pos.State)
	assertDec(t, "1000", pos.InitialDeposit)
	assertDec(t, "1579.272", pos.TotalSupplied)
	assertDec(t, "579.272", pos.TotalBorrowed)

	supplied, debt := f.venue.Position()
	assertDec(t, "1579.272", supplied)
	assertDec(t, "579.272", debt)

	net, err := f.strategy.TotalDeposits(ctx)
	require.NoError(t, err)
	assertDec(t, "1000", net)

	ltv, err := f.strategy.LTV(ctx)
	require.NoError(t, err)
	assert.True(t, ltv.LT(dec("0.40")), "ltv %s", ltv)
}

func TestLoopStopsAtDustFloor(t *testing.T) {
	f := newLoopFixture(t, func(p *types.LoopParameters) { p.MinBorrow = dec("100") })

	require.NoError(t, f.strategy.Deposit(context.Background(), dec("1000")))
	assertTranches(t, []string{"1000", "380", "144.4"}, f.strategy.Position().Tranches)
	assert.Equal(t, 2, f.venue.Calls(simulations.OpBorrow))
}

func TestLoopTerminatesBelowLTVLimit(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		maxLoops int
		maxLTV   string
		hardStop string
		buffer   string
	}{
		{name: "defaults", amount: "1000", maxLoops: 4, maxLTV: "0.40", hardStop: "0.45", buffer: "0.05"},
		{name: "single loop", amount: "1000", maxLoops: 1, maxLTV: "0.40", hardStop: "0.45", buffer: "0.05"},
		{name: "many loops", amount: "250000", maxLoops: 12, maxLTV: "0.40", hardStop: "0.45", buffer: "0.05"},
		{name: "aggressive ratio", amount: "1000", maxLoops: 8, maxLTV: "0.70", hardStop: "0.75", buffer: "0.01"},
		{name: "no buffer", amount: "77.7", maxLoops: 6, maxLTV: "0.30", hardStop: "0.35", buffer: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newLoopFixture(t, func(p *types.LoopParameters) {
				p.MaxLoops = tt.maxLoops
				p.MaxLTV = dec(tt.maxLTV)
				p.HardStopLTV = dec(tt.hardStop)
				p.SafetyBuffer = dec(tt.buffer)
				p.MinBorrow = dec("0.01")
			})

			require.NoError(t, f.strategy.Deposit(ctx, dec(tt.amount)))

			pos := f.strategy.Position()
			assert.LessOrEqual(t, len(pos.Tranches), tt.maxLoops)
			for i := 1; i < len(pos.Tranches); i++ {
				assert.True(t, pos.Tranches[i].LT(pos.Tranches[i-1]), "tranches must shrink")
			}
			ltv, err := f.strategy.LTV(ctx)
			require.NoError(t, err)
			limit := dec(tt.hardStop).Sub(dec(tt.buffer))
			assert.True(t, ltv.LT(limit), "ltv %s reached limit %s", ltv, limit)
		})
	}
}

func TestLoopSkipsBorrowWhenExistingLTVIsHigh(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)

	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	f.venue.AccrueDebtInterest(dec("200"))
	borrowsBefore := f.venue.Calls(simulations.OpBorrow)

	require.NoError(t, f.strategy.Deposit(ctx, dec("100")))
	assertTranches(t, []string{"100"}, f.strategy.Position().Tranches)
	assert.Equal(t, borrowsBefore, f.venue.Calls(simulations.OpBorrow))
}

func TestLoopDepositRejectsDepeggedAsset(t *testing.T) {
	f := newLoopFixture(t)
	f.feed.SetPrice(testAsset, dec("0.993"), f.clock.Now())

	err := f.strategy.Deposit(context.Background(), dec("1000"))
	assert.ErrorIs(t, err, ErrStablecoinDepegged)
	assert.Zero(t, f.venue.Calls(simulations.OpSupply))
	assert.Len(t, f.events.OfType(types.EventPegDeviationAlert), 1)
}

func TestLoopDepositAcceptsPriceWithinTolerance(t *testing.T) {
	f := newLoopFixture(t)
	f.feed.SetPrice(testAsset, dec("1.005"), f.clock.Now())
	require.NoError(t, f.strategy.Deposit(context.Background(), dec("1000")))
}

func TestLoopDepositRejectsStalePrice(t *testing.T) {
	f := newLoopFixture(t)
	f.feed.SetPrice(testAsset, sdkmath.LegacyOneDec(), f.clock.Now().Add(-2*time.Hour))

	err := f.strategy.Deposit(context.Background(), dec("1000"))
	assert.ErrorIs(t, err, ErrStalePrice)
	assert.Zero(t, f.venue.Calls(simulations.OpSupply))
}

func TestLoopDecodesOracleDecimals(t *testing.T) {
	f := newLoopFixture(t)
	f.feed.SetRaw(testAsset, venue.Price{Value: sdkmath.NewInt(993_000), Decimals: 6, UpdatedAt: f.clock.Now()})

	price, deviation, err := f.strategy.PegDeviation(context.Background())
	require.NoError(t, err)
	assertDec(t, "0.993", price)
	assertDec(t, "0.007", deviation)
}

func TestLoopExitOnDeviation(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	f.feed.SetPrice(testAsset, dec("0.996"), f.clock.Now())
	fired, _, err := f.strategy.CheckAndExitOnDeviation(ctx)
	require.NoError(t, err)
	assert.False(t, fired, "0.4% is inside the tolerance")

	f.feed.SetPrice(testAsset, dec("0.993"), f.clock.Now())
	fired, recovered, err := f.strategy.CheckAndExitOnDeviation(ctx)
	require.NoError(t, err)
	assert.True(t, fired)
	assertDec(t, "1000", recovered)
	assert.True(t, f.strategy.EmergencyMode())

	supplied, debt := f.venue.Position()
	assert.True(t, supplied.IsZero())
	assert.True(t, debt.IsZero())

	pos := f.strategy.Position()
	assert.Equal(t, LoopInactive, pos.State)
	assert.True(t, pos.InitialDeposit.IsZero())
	assertDec(t, "1000", f.venue.Received(testVault))

	exits := f.events.OfType(types.EventEmergencyExitTriggered)
	require.Len(t, exits, 1)
	assert.Contains(t, exits[0].Reason, "peg deviation")

	assert.ErrorIs(t, f.strategy.Deposit(ctx, dec("1")), ErrEmergencyModeActive)
}

func TestLoopFullUnwindIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)

	recovered, err := f.strategy.EmergencyExit(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, recovered.IsZero())
	assert.True(t, f.strategy.EmergencyMode(), "unwind sets emergency mode when it was clear")

	recovered, err = f.strategy.EmergencyExit(ctx, "empty again")
	require.NoError(t, err)
	assert.True(t, recovered.IsZero())
	assert.True(t, f.strategy.EmergencyMode(), "unwind leaves emergency mode set")
	assert.Zero(t, f.venue.Calls(simulations.OpWithdraw))
}

func TestLoopEmergencyExitUnwindsDebtInLockstep(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	recovered, err := f.strategy.EmergencyExit(ctx, "guardian")
	require.NoError(t, err)
	assertDec(t, "1000", recovered)
	assert.Equal(t, 2, f.venue.Calls(simulations.OpRepay))

	supplied, debt := f.venue.Position()
	assert.True(t, supplied.IsZero())
	assert.True(t, debt.IsZero())
}

func TestLoopUnwindReportsStall(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t, func(p *types.LoopParameters) { p.MaxUnwindSteps = 1 })
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	_, err := f.strategy.EmergencyExit(ctx, "guardian")
	assert.ErrorIs(t, err, ErrUnwindStalled)
	assert.True(t, f.strategy.EmergencyMode())
}

func TestLoopWithdrawIsProportional(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	got, err := f.strategy.Withdraw(ctx, dec("500"))
	require.NoError(t, err)
	assertDec(t, "500", got)

	supplied, debt := f.venue.Position()
	assertDec(t, "789.636", supplied)
	assertDec(t, "289.636", debt)
	assertDec(t, "500", f.strategy.Position().InitialDeposit)
	assert.Equal(t, LoopLeveraged, f.strategy.Position().State)

	got, err = f.strategy.Withdraw(ctx, dec("500"))
	require.NoError(t, err)
	assertDec(t, "500", got)
	assert.Equal(t, LoopInactive, f.strategy.Position().State)
	supplied, debt = f.venue.Position()
	assert.True(t, supplied.IsZero())
	assert.True(t, debt.IsZero())
	assert.False(t, f.strategy.EmergencyMode(), "ordinary withdraw does not set emergency mode")
}

func TestLoopWithdrawRejectsMoreThanInitialDeposit(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	_, err := f.strategy.Withdraw(ctx, dec("1000.5"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assertDec(t, "1000", f.strategy.Position().InitialDeposit)
}

func TestLoopHarvestDeleveragesThenWithdrawsYield(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	f.venue.AccrueSupplyInterest(dec("30"))

	harvested, err := f.strategy.Harvest(ctx)
	require.NoError(t, err)
	assertDec(t, "30", harvested)

	supplied, debt := f.venue.Position()
	assertDec(t, "1549.272", supplied)
	assertDec(t, "549.272", debt)
	pos := f.strategy.Position()
	assertDec(t, "1549.272", pos.TotalSupplied, "ledger follows the venue after harvest")
	assertDec(t, "549.272", pos.TotalBorrowed)

	again, err := f.strategy.Harvest(ctx)
	require.NoError(t, err)
	assert.True(t, again.IsZero())
}

func TestLoopHarvestLedgerMatchesVenueWithDebtInterest(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	f.venue.AccrueSupplyInterest(dec("40"))
	f.venue.AccrueDebtInterest(dec("10"))

	harvested, err := f.strategy.Harvest(ctx)
	require.NoError(t, err)
	assertDec(t, "30", harvested)

	supplied, debt := f.venue.Position()
	pos := f.strategy.Position()
	assertDec(t, supplied.String(), pos.TotalSupplied)
	assertDec(t, debt.String(), pos.TotalBorrowed)
}

func TestLoopFailedWithdrawResyncsLedger(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	// Let the first lockstep chunk through, then fail the second repay.
	f.venue.InjectFailure(simulations.OpRepay, simulations.ErrInjected, 1)

	_, err := f.strategy.Withdraw(ctx, dec("1000"))
	require.ErrorIs(t, err, simulations.ErrInjected)

	supplied, debt := f.venue.Position()
	pos := f.strategy.Position()
	assertDec(t, supplied.String(), pos.TotalSupplied)
	assertDec(t, debt.String(), pos.TotalBorrowed)
	assert.True(t, debt.LT(dec("579.272")), "the first chunk was repaid")
	assertDec(t, "1000", pos.InitialDeposit)
	assert.Equal(t, LoopLeveraged, pos.State)
}

func TestLoopCompensatesFailedBorrow(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	f.venue.InjectFailure(simulations.OpBorrow, simulations.ErrInjected, 1)

	err := f.strategy.Deposit(ctx, dec("1000"))
	assert.ErrorIs(t, err, simulations.ErrInjected)

	supplied, debt := f.venue.Position()
	assert.True(t, supplied.IsZero(), "supplied %s", supplied)
	assert.True(t, debt.IsZero(), "debt %s", debt)
	assertDec(t, "1000", f.venue.Received(testVault))
	assert.Equal(t, LoopInactive, f.strategy.Position().State)
	assert.True(t, f.strategy.Position().InitialDeposit.IsZero())
}

func TestLoopCompensatesFailedSupply(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	f.venue.InjectFailure(simulations.OpSupply, simulations.ErrInjected, 1)

	err := f.strategy.Deposit(ctx, dec("1000"))
	assert.ErrorIs(t, err, simulations.ErrInjected)

	supplied, debt := f.venue.Position()
	assert.True(t, supplied.IsZero())
	assert.True(t, debt.IsZero())
	assertDec(t, "1000", f.venue.Received(testVault))
}

func TestLoopNetAPY(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)

	// supply multiple 1.579272, debt multiple 0.579272
	apy, err := f.strategy.NetAPY(ctx)
	require.NoError(t, err)
	assertDec(t, "0.06158544", apy)

	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	apy, err = f.strategy.NetAPY(ctx)
	require.NoError(t, err)
	assertDec(t, "0.06158544", apy)
}

func TestLoopUnprofitableGracePeriod(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	fired, _, err := f.strategy.CheckAndUnwindIfUnprofitable(ctx)
	require.NoError(t, err)
	assert.False(t, fired)

	f.venue.SetRates(dec("0.03"), dec("0.10"))
	fired, _, err = f.strategy.CheckAndUnwindIfUnprofitable(ctx)
	require.NoError(t, err)
	assert.False(t, fired, "grace period starts at the first negative reading")
	assert.Len(t, f.events.OfType(types.EventUnprofitableAlert), 1)

	f.clock.Advance(23 * time.Hour)
	fired, _, err = f.strategy.CheckAndUnwindIfUnprofitable(ctx)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Len(t, f.events.OfType(types.EventUnprofitableAlert), 1, "alert fires once per negative stretch")

	f.clock.Advance(time.Hour)
	fired, recovered, err := f.strategy.CheckAndUnwindIfUnprofitable(ctx)
	require.NoError(t, err)
	assert.True(t, fired)
	assertDec(t, "1000", recovered)
	assert.True(t, f.strategy.EmergencyMode())
}

func TestLoopProfitabilityRecoveryResetsGrace(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))

	f.venue.SetRates(dec("0.03"), dec("0.10"))
	_, _, err := f.strategy.CheckAndUnwindIfUnprofitable(ctx)
	require.NoError(t, err)
	assert.False(t, f.strategy.Position().UnprofitableSince.IsZero())

	f.clock.Advance(20 * time.Hour)
	f.venue.SetRates(dec("0.05"), dec("0.03"))
	_, _, err = f.strategy.CheckAndUnwindIfUnprofitable(ctx)
	require.NoError(t, err)
	assert.True(t, f.strategy.Position().UnprofitableSince.IsZero())

	f.venue.SetRates(dec("0.03"), dec("0.10"))
	f.clock.Advance(10 * time.Hour)
	fired, _, err := f.strategy.CheckAndUnwindIfUnprofitable(ctx)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestLoopDepositRejectedAfterGracePeriod(t *testing.T) {
	ctx := context.Background()
	f := newLoopFixture(t)
	f.venue.SetRates(dec("0.03"), dec("0.10"))

	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")), "negative carry inside grace is tolerated")

	f.clock.Advance(25 * time.Hour)
	f.feed.SetPrice(testAsset, sdkmath.LegacyOneDec(), f.clock.Now())
	err := f.strategy.Deposit(ctx, dec("100"))
	assert.ErrorIs(t, err, ErrUnprofitablePosition)
	assertDec(t, "1000", f.strategy.Position().InitialDeposit)
}

func TestLoopRejectsReentrantCall(t *testing.T) {
	f := newLoopFixture(t)

	var inner error
	f.venue.OnCall(func(ctx context.Context, op string) {
		if op == simulations.OpBorrow && inner == nil {
			_, inner = f.strategy.EmergencyExit(ctx, "reentrant")
		}
	})
	require.NoError(t, f.strategy.Deposit(context.Background(), dec("1000")))
	assert.ErrorIs(t, inner, ErrReentrantCall)
	assert.False(t, f.strategy.EmergencyMode())
}

func TestLoopParameterValidation(t *testing.T) {
	params := config.DefaultEngineParameters.Loop
	params.HardStopLTV = dec("0.30")
	params.MaxLoops = 0

	_, err := NewLeveragedLoop(testConfig("bad", events.NewRecorder(), newTestClock()), simulations.NewLendingVenue(testAsset), simulations.NewPriceFeed(), params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max loops")
	assert.Contains(t, err.Error(), "hard stop")
}
