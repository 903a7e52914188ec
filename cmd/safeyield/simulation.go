package main

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/access"
	"github.com/nexxore/safeyield/internal/config"
	"github.com/nexxore/safeyield/internal/events"
	"github.com/nexxore/safeyield/internal/simulations"
	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/vault"
)

// simVenue is one simulated market and the periodic rates it accrues at.
type simVenue struct {
	venue      *simulations.LendingVenue
	supplyRate sdkmath.LegacyDec
	borrowRate sdkmath.LegacyDec
}

// simulation is the in-process market the vault runs against in simulation mode.
type simulation struct {
	asset  string
	prices *simulations.PriceFeed
	venues []simVenue
}

// newSimulation builds two plain lending markets and one loopable market, with rates per keeper tick.
func newSimulation(asset string) *simulation {
	sim := &simulation{asset: asset, prices: simulations.NewPriceFeed()}
	for _, rates := range [][2]string{{"0.00004", "0.00006"}, {"0.00003", "0.00005"}, {"0.00005", "0.00003"}} {
		v := simulations.NewLendingVenue(asset)
		supply, borrow := sdkmath.LegacyMustNewDecFromStr(rates[0]), sdkmath.LegacyMustNewDecFromStr(rates[1])
		v.SetRates(supply, borrow)
		v.SetReserve(sdkmath.LegacyNewDec(1_000_000), sdkmath.LegacyNewDec(600_000))
		sim.venues = append(sim.venues, simVenue{venue: v, supplyRate: supply, borrowRate: borrow})
	}
	sim.prices.SetPrice(asset, sdkmath.LegacyOneDec(), time.Now())
	return sim
}

// registrations creates the strategies: 40% and 30% plain lending, 30% leveraged loop.
func (s *simulation) registrations(vaultAddr string, roles access.RoleChecker, emitter events.Emitter) ([]vault.Registration, error) {
	cfg := func(id string) strategy.Config {
		return strategy.Config{ID: types.StrategyID(id), Asset: s.asset, Vault: vaultAddr, Roles: roles, Emitter: emitter}
	}
	params := config.DefaultEngineParameters

	plainA, err := strategy.NewPlainLending(cfg("plain-a"), s.venues[0].venue, params.PlainLending)
	if err != nil {
		return nil, err
	}
	plainB, err := strategy.NewPlainLending(cfg("plain-b"), s.venues[1].venue, params.PlainLending)
	if err != nil {
		return nil, err
	}
	loop, err := strategy.NewLeveragedLoop(cfg("loop-a"), s.venues[2].venue, s.prices, params.Loop)
	if err != nil {
		return nil, err
	}
	return []vault.Registration{
		{Strategy: plainA, WeightBps: 4000},
		{Strategy: plainB, WeightBps: 3000},
		{Strategy: loop, WeightBps: 3000},
	}, nil
}

// Name implements scheduler.Job.
func (s *simulation) Name() string {
	return "simulation_tick"
}

// Run refreshes the oracle and accrues one period of interest on every market.
func (s *simulation) Run() error {
	s.prices.SetPrice(s.asset, sdkmath.LegacyOneDec(), time.Now())
	for _, sv := range s.venues {
		supplied, debt := sv.venue.Position()
		if supplied.IsPositive() {
			sv.venue.AccrueSupplyInterest(supplied.Mul(sv.supplyRate))
		}
		if debt.IsPositive() {
			sv.venue.AccrueDebtInterest(debt.Mul(sv.borrowRate))
		}
	}
	return nil
}
