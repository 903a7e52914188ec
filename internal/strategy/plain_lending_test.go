package strategy

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexxore/safeyield/internal/simulations"
	"github.com/nexxore/safeyield/internal/types"
)

func TestPlainLendingDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newPlainFixture(t)

	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	assertDec(t, "1000", f.strategy.TotalDeposited())

	total, err := f.strategy.TotalDeposits(ctx)
	require.NoError(t, err)
	assertDec(t, "1000", total)

	got, err := f.strategy.Withdraw(ctx, dec("400"))
	require.NoError(t, err)
	assertDec(t, "400", got)
	assertDec(t, "600", f.strategy.TotalDeposited())
	assertDec(t, "400", f.venue.Received(testVault))

	_, err = f.strategy.Withdraw(ctx, dec("600.000001"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assertDec(t, "600", f.strategy.TotalDeposited(), "rejected withdraw leaves the ledger unchanged")
}

func TestPlainLendingRejectsZeroAmount(t *testing.T) {
	f := newPlainFixture(t)
	assert.ErrorIs(t, f.strategy.Deposit(context.Background(), sdkmath.LegacyZeroDec()), ErrZeroAmount)
	_, err := f.strategy.Withdraw(context.Background(), sdkmath.LegacyZeroDec())
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestPlainLendingWithdrawFloorsLedgerAtZero(t *testing.T) {
	ctx := context.Background()
	f := newPlainFixture(t)

	require.NoError(t, f.strategy.Deposit(ctx, dec("100")))
	f.venue.AccrueSupplyInterest(dec("10"))

	got, err := f.strategy.Withdraw(ctx, dec("110"))
	require.NoError(t, err)
	assertDec(t, "110", got)
	assert.True(t, f.strategy.TotalDeposited().IsZero())
}

func TestPlainLendingUtilizationCeilings(t *testing.T) {
	tests := []struct {
		name      string
		borrowed  string
		wantErr   error
		wantAlert bool
	}{
		{name: "below soft ceiling", borrowed: "500"},
		{name: "soft ceiling alerts", borrowed: "800", wantAlert: true},
		{name: "between ceilings alerts", borrowed: "850", wantAlert: true},
		{name: "hard ceiling rejects", borrowed: "900", wantErr: ErrUtilizationTooHigh},
		{name: "above hard ceiling rejects", borrowed: "950", wantErr: ErrUtilizationTooHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newPlainFixture(t)
			f.venue.SetReserve(dec("1000"), dec(tt.borrowed))

			err := f.strategy.Deposit(ctx, dec("10"))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, f.venue.Calls(simulations.OpSupply))
				assert.True(t, f.strategy.TotalDeposited().IsZero())
				return
			}
			require.NoError(t, err)
			alerts := f.events.OfType(types.EventUtilizationAlert)
			if tt.wantAlert {
				require.Len(t, alerts, 1)
				assert.InDelta(t, dec(tt.borrowed).QuoInt64(1000).MustFloat64(), alerts[0].Value, 1e-9)
			} else {
				assert.Empty(t, alerts)
			}
		})
	}
}

func TestPlainLendingUtilizationPredicates(t *testing.T) {
	ctx := context.Background()
	f := newPlainFixture(t)

	u, err := f.strategy.Utilization(ctx)
	require.NoError(t, err)
	assert.True(t, u.IsZero(), "no supply means zero utilization")

	f.venue.SetReserve(dec("1000"), dec("920"))
	alert, err := f.strategy.UtilizationAlert(ctx)
	require.NoError(t, err)
	emergency, err := f.strategy.UtilizationEmergency(ctx)
	require.NoError(t, err)
	assert.True(t, alert)
	assert.True(t, emergency)
}

func TestPlainLendingHarvest(t *testing.T) {
	ctx := context.Background()
	f := newPlainFixture(t)

	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	f.venue.AccrueSupplyInterest(dec("25"))

	harvested, err := f.strategy.Harvest(ctx)
	require.NoError(t, err)
	assertDec(t, "25", harvested)
	assertDec(t, "1000", f.strategy.TotalDeposited())

	again, err := f.strategy.Harvest(ctx)
	require.NoError(t, err)
	assert.True(t, again.IsZero(), "harvest without new yield is a no-op")
	assert.Len(t, f.events.OfType(types.EventHarvested), 1)
}

func TestPlainLendingEmergencyExit(t *testing.T) {
	ctx := context.Background()
	f := newPlainFixture(t)

	require.NoError(t, f.strategy.Deposit(ctx, dec("1000")))
	f.venue.AccrueSupplyInterest(dec("5"))

	recovered, err := f.strategy.EmergencyExit(ctx, "guardian request")
	require.NoError(t, err)
	assertDec(t, "1005", recovered)
	assert.True(t, f.strategy.EmergencyMode())
	assert.True(t, f.strategy.TotalDeposited().IsZero())

	exits := f.events.OfType(types.EventEmergencyExitTriggered)
	require.Len(t, exits, 1)
	assert.Equal(t, "guardian request", exits[0].Reason)

	assert.ErrorIs(t, f.strategy.Deposit(ctx, dec("1")), ErrEmergencyModeActive)

	again, err := f.strategy.EmergencyExit(ctx, "again")
	require.NoError(t, err)
	assert.True(t, again.IsZero())
	assert.True(t, f.strategy.EmergencyMode())
}

func TestPlainLendingResetEmergencyRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newPlainFixture(t)

	_, err := f.strategy.EmergencyExit(ctx, "test")
	require.NoError(t, err)

	assert.ErrorIs(t, f.strategy.ResetEmergency("someone"), ErrUnauthorized)
	assert.True(t, f.strategy.EmergencyMode())

	require.NoError(t, f.strategy.ResetEmergency(testAdmin))
	assert.False(t, f.strategy.EmergencyMode())
	assert.Len(t, f.events.OfType(types.EventEmergencyReset), 1)
	require.NoError(t, f.strategy.Deposit(ctx, dec("1")))
}

func TestPlainLendingRejectsReentrantCall(t *testing.T) {
	f := newPlainFixture(t)

	var inner error
	f.venue.OnCall(func(ctx context.Context, op string) {
		if op == simulations.OpSupply {
			_, inner = f.strategy.Withdraw(ctx, dec("1"))
		}
	})
	require.NoError(t, f.strategy.Deposit(context.Background(), dec("10")))
	assert.ErrorIs(t, inner, ErrReentrantCall)
}

func TestPlainLendingVenueFailureLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newPlainFixture(t)
	f.venue.InjectFailure(simulations.OpSupply, simulations.ErrInjected, 0)

	err := f.strategy.Deposit(ctx, dec("10"))
	assert.ErrorIs(t, err, simulations.ErrInjected)
	assert.True(t, f.strategy.TotalDeposited().IsZero())
}
