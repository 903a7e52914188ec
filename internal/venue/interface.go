package venue

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
)

// LendingVenue defines the operations the engine needs from an external lending pool.
// Each instance is bound to one strategy account: balances are that account's balances.
// Implementations own timeouts; a timeout surfaces as an ordinary error.
type LendingVenue interface {
	// Supply deposits amount of asset and returns the amount actually supplied.
	Supply(ctx context.Context, asset string, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error)

	// Withdraw removes amount of asset from supply and sends it to the receiver `to`.
	Withdraw(ctx context.Context, asset string, amount sdkmath.LegacyDec, to string) (sdkmath.LegacyDec, error)

	// SupplyBalance returns the account's supplied balance including accrued interest.
	SupplyBalance(ctx context.Context, asset string) (sdkmath.LegacyDec, error)

	// ReserveUtilization returns totalBorrowed / totalSupplied for the whole reserve (0 if empty).
	ReserveUtilization(ctx context.Context, asset string) (sdkmath.LegacyDec, error)

	// SupplyRate returns the periodic supply rate; annualization happens outside the engine.
	SupplyRate(ctx context.Context, asset string) (sdkmath.LegacyDec, error)
}

// LeverageVenue adds the borrow side needed by the leveraged loop strategy.
type LeverageVenue interface {
	LendingVenue

	Borrow(ctx context.Context, asset string, amount sdkmath.LegacyDec) error

	// Repay returns the amount of debt actually repaid.
	Repay(ctx context.Context, asset string, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error)

	// DebtBalance returns the account's outstanding debt including accrued interest.
	DebtBalance(ctx context.Context, asset string) (sdkmath.LegacyDec, error)

	BorrowRate(ctx context.Context, asset string) (sdkmath.LegacyDec, error)
}

// Price is an oracle answer: Value scaled by 10^Decimals.
type Price struct {
	Value     sdkmath.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// PriceFeed is used only for the stable-asset peg check.
type PriceFeed interface {
	LatestPrice(ctx context.Context, asset string) (Price, error)
}
