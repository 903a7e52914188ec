package strategy

import (
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
	"github.com/nexxore/safeyield/internal/types"
)

const (
	testAsset = "USDC"
	testVault = "vault-1"
	testAdmin = "admin"
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

func testConfig(id types.StrategyID, rec *events.Recorder, clock *testClock) Config {
	return Config{
		ID:      id,
		Asset:   testAsset,
		Vault:   testVault,
		Roles:   access.NewStaticRoles().Grant(testAdmin, types.RoleAdmin),
		Emitter: rec,
		Now:     clock.Now,
	}
}

type plainFixture struct {
	strategy *PlainLending
	venue    *simulations.LendingVenue
	events   *events.Recorder
}

func newPlainFixture(t *testing.T) plainFixture {
	t.Helper()
	rec := events.NewRecorder()
	v := simulations.NewLendingVenue(testAsset)
	s, err := NewPlainLending(testConfig("plain-1", rec, newTestClock()), v, config.DefaultEngineParameters.PlainLending)
	require.NoError(t, err)
	return plainFixture{strategy: s, venue: v, events: rec}
}

type loopFixture struct {
	strategy *LeveragedLoop
	venue    *simulations.LendingVenue
	feed     *simulations.PriceFeed
	events   *events.Recorder
	clock    *testClock
}

func newLoopFixture(t *testing.T, mutate ...func(*types.LoopParameters)) loopFixture {
	t.Helper()
	rec := events.NewRecorder()
	clock := newTestClock()
	v := simulations.NewLendingVenue(testAsset)
	v.SetRates(dec("0.05"), dec("0.03"))
	feed := simulations.NewPriceFeed()
	feed.SetPrice(testAsset, sdkmath.LegacyOneDec(), clock.Now())

	params := config.DefaultEngineParameters.Loop
	for _, m := range mutate {
		m(&params)
	}
	s, err := NewLeveragedLoop(testConfig("loop-1", rec, clock), v, feed, params)
	require.NoError(t, err)
	return loopFixture{strategy: s, venue: v, feed: feed, events: rec, clock: clock}
}

func assertDec(t *testing.T, want string, got sdkmath.LegacyDec, msgAndArgs ...any) bool {
	t.Helper()
	if got.IsNil() {
		return assert.Fail(t, "decimal is nil", msgAndArgs...)
	}
	return assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func assertTranches(t *testing.T, want []string, got []sdkmath.LegacyDec) {
	t.Helper()
	if !assert.Len(t, got, len(want)) {
		return
	}
	for i := range want {
		assertDec(t, want[i], got[i], "tranche %d", i)
	}
}
