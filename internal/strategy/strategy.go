/*

Package strategy contains the two capital strategies a vault can deploy to: plain supply to a lending
venue, and a conservative supply-borrow loop on a single venue.

The set of variants is closed: Strategy carries an unexported method, so only this package can
implement it.

*/

package strategy

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/access"
	"github.com/nexxore/safeyield/internal/events"
	"github.com/nexxore/safeyield/internal/types"
)

// Strategy is the capability set the vault uses to move capital in and out of a venue.
type Strategy interface {
	ID() types.StrategyID
	Kind() types.StrategyKind

	// Deposit deploys amount to the venue. The vault has already handed over the funds.
	Deposit(ctx context.Context, amount sdkmath.LegacyDec) error

	// Withdraw returns amount to the vault and reports what was actually sent.
	Withdraw(ctx context.Context, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error)

	// Harvest sends accrued yield to the vault.
	Harvest(ctx context.Context) (sdkmath.LegacyDec, error)

	// EmergencyExit closes the whole position, sends everything to the vault and sets emergency mode.
	EmergencyExit(ctx context.Context, reason string) (sdkmath.LegacyDec, error)

	// TotalDeposits is the venue-reported net value of the position, including yield.
	TotalDeposits(ctx context.Context) (sdkmath.LegacyDec, error)

	EmergencyMode() bool

	// ResetEmergency clears emergency mode. Admin only.
	ResetEmergency(caller string) error

	sealed()
}

// Config is shared by both variants.
type Config struct {
	ID    types.StrategyID
	Asset string
	// Vault is the receiver of every withdrawal.
	Vault   string
	Roles   access.RoleChecker
	Emitter events.Emitter
	Now     func() time.Time
}

func (c *Config) validate() error {
	if c.ID == "" || c.Vault == "" || c.Asset == "" {
		return ErrInvalidAddress
	}
	if c.Roles == nil {
		return ErrUnauthorized
	}
	if c.Emitter == nil {
		c.Emitter = events.Nop{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

func (c *Config) event(t types.EventType) types.Event {
	return types.Event{Type: t, Vault: c.Vault, Strategy: c.ID, Timestamp: c.Now()}
}
