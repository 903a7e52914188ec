package vault

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexxore/safeyield/internal/access"
	"github.com/nexxore/safeyield/internal/config"
	"github.com/nexxore/safeyield/internal/events"
	"github.com/nexxore/safeyield/internal/simulations"
	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
)

const (
	testAsset      = "USDC"
	testVault      = "vault-1"
	testStrategist = "keeper"
	testGuardian   = "guardian"
	testAdmin      = "admin"
	alice          = "alice"
	bob            = "bob"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func assertDec(t *testing.T, want string, got sdkmath.LegacyDec, msgAndArgs ...any) bool {
	t.Helper()
	if got.IsNil() {
		return assert.Fail(t, "decimal is nil", msgAndArgs...)
	}
	if !dec(want).Equal(got) {
		return assert.Fail(t, fmt.Sprintf("want %s, got %s", want, got), msgAndArgs...)
	}
	return true
}

func testRoles() *access.StaticRoles {
	return access.NewStaticRoles().
		Grant(testStrategist, types.RoleStrategist).
		Grant(testGuardian, types.RoleGuardian).
		Grant(testAdmin, types.RoleAdmin)
}

type fixture struct {
	vault  *Vault
	venues []*simulations.LendingVenue
	plains []*strategy.PlainLending
	events *events.Recorder
	clock  *testClock
	ctx    context.Context
}

func (f fixture) id(i int) types.StrategyID {
	return f.plains[i].ID()
}

// newPlain builds a plain lending strategy on its own venue.
func newPlain(t *testing.T, id string, rec *events.Recorder, clock *testClock) (*strategy.PlainLending, *simulations.LendingVenue) {
	t.Helper()
	venue := simulations.NewLendingVenue(testAsset)
	s, err := strategy.NewPlainLending(strategy.Config{
		ID:      types.StrategyID(id),
		Asset:   testAsset,
		Vault:   testVault,
		Roles:   testRoles(),
		Emitter: rec,
		Now:     clock.Now,
	}, venue, config.DefaultEngineParameters.PlainLending)
	require.NoError(t, err)
	return s, venue
}

// newFixture creates a vault with one plain lending strategy per weight.
func newFixture(t *testing.T, weights ...uint32) fixture {
	t.Helper()
	f := fixture{events: events.NewRecorder(), clock: newTestClock(), ctx: context.Background()}
	regs := make([]Registration, 0, len(weights))
	for i, w := range weights {
		s, venue := newPlain(t, fmt.Sprintf("s%d", i+1), f.events, f.clock)
		f.plains = append(f.plains, s)
		f.venues = append(f.venues, venue)
		regs = append(regs, Registration{Strategy: s, WeightBps: w})
	}
	v, err := New(Config{
		Asset:        testAsset,
		Address:      testVault,
		Strategies:   regs,
		FeeRecipient: "treasury",
		Params:       config.DefaultEngineParameters.Vault,
		Roles:        testRoles(),
		Emitter:      f.events,
		Now:          f.clock.Now,
	})
	require.NoError(t, err)
	f.vault = v
	return f
}

func (f fixture) deposit(t *testing.T, account, amount string) {
	t.Helper()
	_, err := f.vault.Deposit(f.ctx, account, dec(amount))
	require.NoError(t, err)
}

func (f fixture) allocations(t *testing.T) []sdkmath.LegacyDec {
	t.Helper()
	snap, err := f.vault.Snapshot(f.ctx)
	require.NoError(t, err)
	out := make([]sdkmath.LegacyDec, len(snap.Strategies))
	for i, s := range snap.Strategies {
		out[i] = s.Allocation
	}
	return out
}

// ledger renders the mutable ledger so two states can be compared exactly.
func (f fixture) ledger(t *testing.T) string {
	t.Helper()
	snap, err := f.vault.Snapshot(f.ctx)
	require.NoError(t, err)
	out := fmt.Sprintf("idle=%s shares=%s mode=%s paused=%t", snap.IdleBalance, snap.TotalShares, snap.RiskMode, snap.Paused)
	for _, s := range snap.Strategies {
		out += fmt.Sprintf(" %s:w=%d,a=%s", s.ID, s.WeightBps, s.Allocation)
	}
	return out
}

func (f fixture) weightSum() uint32 {
	var total uint32
	for _, id := range f.vault.StrategyIDs() {
		total += f.vault.entries[id].weightBps
	}
	return total
}
