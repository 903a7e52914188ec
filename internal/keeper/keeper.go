package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/metrics"
	"github.com/nexxore/safeyield/internal/riskfeed"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/vault"
)

// ErrCycleInProgress is returned when a cycle is requested while another one is running.
var ErrCycleInProgress = errors.New("keeper cycle already in progress")

// Evaluator scores risk components and enforces the resulting action on the vault.
type Evaluator interface {
	Evaluate(ctx context.Context, components map[types.StrategyID]types.RiskComponents) (types.RiskAssessment, error)
}

// CycleStore numbers and persists keeper cycles.
type CycleStore interface {
	IncrementCycleNumber(ctx context.Context) (int, error)
	SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) (int64, error)
}

// Config holds the dependencies of a Keeper.
type Config struct {
	Vault      vault.Manager
	Feed       riskfeed.Feed
	Gate       Evaluator
	Store      CycleStore // optional; cycles are numbered in memory without it
	Strategist string     // account the keeper acts as
	Now        func() time.Time
}

// Keeper drives the vault: one cycle evaluates risk, runs the strategy monitors, rebalances when
// allowed, harvests and records a snapshot.
type Keeper struct {
	logger     zerolog.Logger
	vault      vault.Manager
	feed       riskfeed.Feed
	gate       Evaluator
	store      CycleStore
	strategist string
	now        func() time.Time

	running    sync.Mutex
	cycleCount int
	last       atomic.Pointer[types.CycleSnapshot]
}

// New creates a Keeper after validating its dependencies.
func New(cfg Config) (*Keeper, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	k := &Keeper{
		logger:     logger.GetForComponent("keeper").With().Str("vault_asset", cfg.Vault.Asset()).Logger(),
		vault:      cfg.Vault,
		feed:       cfg.Feed,
		gate:       cfg.Gate,
		store:      cfg.Store,
		strategist: cfg.Strategist,
		now:        cfg.Now,
	}
	k.logger.Info().Str("strategist", k.strategist).Bool("persistent", k.store != nil).Msg("Keeper created")
	return k, nil
}

func validateConfig(cfg Config) error {
	if cfg.Vault == nil {
		return fmt.Errorf("vault cannot be nil")
	}
	if cfg.Feed == nil {
		return fmt.Errorf("risk feed cannot be nil")
	}
	if cfg.Gate == nil {
		return fmt.Errorf("risk gate cannot be nil")
	}
	if cfg.Strategist == "" {
		return fmt.Errorf("strategist account cannot be empty")
	}
	return nil
}

// LastCycle returns the snapshot of the most recent cycle, if any ran.
func (k *Keeper) LastCycle() (types.CycleSnapshot, bool) {
	snap := k.last.Load()
	if snap == nil {
		return types.CycleSnapshot{}, false
	}
	return *snap, true
}

// RunLoop runs a cycle immediately and then on every tick until ctx is cancelled.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().Dur("interval", interval).Msg("Starting keeper loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.runLogged(ctx)
		}
	}
}

func (k *Keeper) runLogged(ctx context.Context) {
	if _, err := k.RunCycle(ctx); err != nil {
		k.logger.Warn().Err(err).Msg("Keeper cycle finished with errors")
	}
}

// RunCycle executes one keeper cycle. Step failures are collected into the snapshot and the joined
// error; only a failure to read the vault ledger aborts the cycle.
func (k *Keeper) RunCycle(ctx context.Context) (types.CycleSnapshot, error) {
	if !k.running.TryLock() {
		return types.CycleSnapshot{}, ErrCycleInProgress
	}
	defer k.running.Unlock()

	start := k.now()
	cycleID := uuid.New().String()
	log := k.logger.With().Str("cycle_id", cycleID).Logger()

	snap := types.CycleSnapshot{
		CycleID:     cycleID,
		CycleNumber: k.nextCycleNumber(ctx, log),
		Timestamp:   start,
	}
	log.Info().Int("cycleNumber", snap.CycleNumber).Msg("--- Starting keeper cycle ---")

	var errs []error
	fail := func(step string, err error) {
		err = fmt.Errorf("%s: %w", step, err)
		errs = append(errs, err)
		snap.Errors = append(snap.Errors, err.Error())
		log.Error().Err(err).Msg("Cycle step failed")
	}

	initial, err := k.vault.Snapshot(ctx)
	if err != nil {
		return snap, fmt.Errorf("read initial ledger: %w", err)
	}
	snap.Initial = initial

	// Step 1: risk evaluation.
	components, err := k.feed.Latest(ctx)
	if err != nil {
		fail("risk feed", err)
		components = nil
	}
	assessment, err := k.gate.Evaluate(ctx, components)
	if err != nil {
		fail("risk evaluation", err)
	}
	if !assessment.Timestamp.IsZero() {
		snap.Assessment = &assessment
		log.Info().
			Float64("vaultScore", assessment.VaultScore).
			Str("level", assessment.Level.String()).
			Str("mode", assessment.AppliedMode).
			Msg("Step 1: Risk evaluated")
	}

	// Step 2: strategy circuit breakers.
	results, err := k.vault.RunStrategyMonitors(ctx, k.strategist)
	if err != nil {
		fail("strategy monitors", err)
	}
	for _, r := range results {
		if r.Note != "" {
			snap.MonitorNotes = append(snap.MonitorNotes, fmt.Sprintf("%s: %s", r.StrategyID, r.Note))
		}
	}
	log.Info().Int("checked", len(results)).Int("notes", len(snap.MonitorNotes)).Msg("Step 2: Strategy monitors complete")

	// Step 3: rebalance.
	if reason := k.rebalanceBlocked(); reason != "" {
		log.Info().Str("reason", reason).Msg("Step 3: Rebalance skipped")
	} else {
		report, err := k.vault.Rebalance(ctx, k.strategist)
		if err != nil {
			fail("rebalance", err)
		} else {
			snap.Rebalance = &report
			metrics.ObserveRebalance(report)
			log.Info().Int("steps", len(report.Steps)).Int("failed", report.FailedCount()).Msg("Step 3: Rebalance complete")
		}
	}

	// Step 4: harvest.
	harvested, err := k.vault.HarvestAll(ctx, k.strategist)
	if err != nil {
		fail("harvest", err)
	}
	snap.Harvested = harvested
	log.Info().Str("harvested", harvested.String()).Msg("Step 4: Harvest complete")

	final, err := k.vault.Snapshot(ctx)
	if err != nil {
		fail("read final ledger", err)
		final = initial
	}
	snap.Final = final
	metrics.ObserveLedger(final)
	metrics.ObserveCycle(k.now().Sub(start), len(errs))

	if k.store != nil {
		if id, err := k.store.SaveCycleSnapshot(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("persist cycle: %w", err))
			log.Error().Err(err).Msg("Failed to persist cycle snapshot")
		} else {
			snap.SnapshotID = id
		}
	}
	k.last.Store(&snap)

	log.Info().
		Dur("duration", k.now().Sub(start)).
		Int("errors", len(errs)).
		Str("totalAssets", final.TotalAssets.String()).
		Str("mode", final.RiskMode).
		Msg("--- Keeper cycle complete ---")
	return snap, errors.Join(errs...)
}

// nextCycleNumber prefers the persistent counter and falls back to the in-memory one.
func (k *Keeper) nextCycleNumber(ctx context.Context, log zerolog.Logger) int {
	if k.store != nil {
		n, err := k.store.IncrementCycleNumber(ctx)
		if err == nil {
			k.cycleCount = n
			return n
		}
		log.Warn().Err(err).Msg("Cycle counter unavailable, using in-memory count")
	}
	k.cycleCount++
	return k.cycleCount
}

// rebalanceBlocked returns why a rebalance would be rejected, or "" when it may run.
func (k *Keeper) rebalanceBlocked() string {
	if k.vault.Paused() {
		return "vault paused"
	}
	if mode := k.vault.RiskMode(); mode != vault.RiskModeNormal {
		return "risk mode " + mode.String()
	}
	if last := k.vault.LastRebalance(); !last.IsZero() {
		if next := last.Add(k.vault.RebalanceCooldown()); k.now().Before(next) {
			return "cooldown until " + next.Format(time.RFC3339)
		}
	}
	return ""
}
