/*

Package riskgate turns a risk component snapshot into an enforced vault mode. Each evaluation scores
every registered strategy, derives the allocation-weighted vault score, classifies it, and applies
the required action to the vault before the assessment is recorded.

*/

package riskgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexxore/safeyield/internal/analyzer"
	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/metrics"
	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/utils"
	"github.com/nexxore/safeyield/internal/vault"
)

// staleOracleRisk is the oracle score given to a strategy whose price answer is too old to use.
const staleOracleRisk = 0.9

// AssessmentStore persists assessments. It is optional.
type AssessmentStore interface {
	SaveRiskAssessment(ctx context.Context, a types.RiskAssessment) (int64, error)
}

// Config holds the gate's collaborators.
type Config struct {
	Vault   vault.Manager
	Weights types.RiskWeights // zero value selects analyzer.DefaultRiskWeights
	Store   AssessmentStore
	Now     func() time.Time
}

type Gate struct {
	vault   vault.Manager
	weights types.RiskWeights
	store   AssessmentStore
	now     func() time.Time
	log     zerolog.Logger
}

func New(cfg Config) (*Gate, error) {
	if cfg.Vault == nil {
		return nil, errors.New("risk gate needs a vault")
	}
	if cfg.Weights == (types.RiskWeights{}) {
		cfg.Weights = analyzer.DefaultRiskWeights
	}
	if err := analyzer.ValidateRiskWeights(cfg.Weights); err != nil {
		return nil, errors.Join(analyzer.ErrInvalidRiskWeights, err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		vault:   cfg.Vault,
		weights: cfg.Weights,
		store:   cfg.Store,
		now:     cfg.Now,
		log:     logger.GetForComponent("risk_gate"),
	}, nil
}

// Evaluate scores the vault against components and enforces the resulting action. The ledger
// snapshot is read under the vault lock, so the scores and the allocations they are weighted by
// come from the same state. A persistence failure is returned alongside a valid assessment: the
// action has already been applied by then.
func (g *Gate) Evaluate(ctx context.Context, components map[types.StrategyID]types.RiskComponents) (types.RiskAssessment, error) {
	snap, err := g.vault.Snapshot(ctx)
	if err != nil {
		return types.RiskAssessment{}, fmt.Errorf("snapshot vault: %w", err)
	}

	assessment := types.RiskAssessment{
		VaultAsset: snap.Asset,
		Timestamp:  g.now(),
		Strategies: make([]types.StrategyRisk, 0, len(snap.Strategies)),
	}
	scores := make(map[types.StrategyID]float64, len(snap.Strategies))
	for _, alloc := range snap.Strategies {
		sr := g.scoreStrategy(ctx, alloc.ID, components)
		scores[alloc.ID] = sr.Composite
		assessment.Strategies = append(assessment.Strategies, sr)
	}

	assessment.VaultScore, err = analyzer.CalculateVaultRisk(scores, snap.Allocations())
	if err != nil {
		return types.RiskAssessment{}, fmt.Errorf("vault risk: %w", err)
	}
	assessment.Level = analyzer.ClassifyRisk(assessment.VaultScore)
	assessment.Action = analyzer.RequiredActionFor(assessment.VaultScore)
	assessment.Recommendations = recommendations(assessment)

	reason := fmt.Sprintf("vault risk score %.4f (%s)", assessment.VaultScore, assessment.Level)
	mode, applyErr := g.vault.ApplyRiskAction(ctx, assessment.Action, reason)
	assessment.AppliedMode = mode.String()
	metrics.ObserveAssessment(assessment)

	g.log.Info().
		Float64("vault_score", assessment.VaultScore).
		Str("level", assessment.Level.String()).
		Str("action", assessment.Action.String()).
		Str("mode", assessment.AppliedMode).
		Msg("Risk evaluated")

	var errs []error
	if applyErr != nil {
		errs = append(errs, fmt.Errorf("apply %s: %w", assessment.Action, applyErr))
	}
	if g.store != nil {
		id, err := g.store.SaveRiskAssessment(ctx, assessment)
		if err != nil {
			g.log.Error().Err(err).Msg("Failed to persist risk assessment")
			errs = append(errs, fmt.Errorf("persist assessment: %w", err))
		} else {
			assessment.AssessmentID = id
		}
	}
	return assessment, errors.Join(errs...)
}

// scoreStrategy uses the feed's components, filling the locally observable ones the feed left out.
// A strategy with nothing to score gets the neutral score.
func (g *Gate) scoreStrategy(ctx context.Context, id types.StrategyID, components map[types.StrategyID]types.RiskComponents) types.StrategyRisk {
	c, fromFeed := components[id]
	sr := types.StrategyRisk{StrategyID: id, FromFeed: fromFeed}
	g.observeLocally(ctx, id, &c)
	sr.Components = c

	composite, err := analyzer.CalculateCompositeRisk(c, g.weights)
	switch {
	case errors.Is(err, analyzer.ErrNoRiskComponents):
		composite = analyzer.NeutralRisk
	case err != nil:
		g.log.Warn().Err(err).Str("strategy", string(id)).Msg("Unusable risk components, scoring neutral")
		composite = analyzer.NeutralRisk
	}
	sr.Composite = composite
	sr.Level = analyzer.ClassifyRisk(composite)
	return sr
}

func (g *Gate) observeLocally(ctx context.Context, id types.StrategyID, c *types.RiskComponents) {
	s, ok := g.vault.Strategy(id)
	if !ok {
		return
	}
	switch s := s.(type) {
	case *strategy.PlainLending:
		if c.Utilization != nil {
			return
		}
		u, err := s.Utilization(ctx)
		if err != nil {
			g.log.Warn().Err(err).Str("strategy", string(id)).Msg("Could not observe utilization")
			return
		}
		c.Utilization = types.Score(analyzer.UtilizationRiskFromRate(utils.MustDecToFloat64(u)))
	case *strategy.LeveragedLoop:
		if c.Oracle != nil {
			return
		}
		_, deviation, err := s.PegDeviation(ctx)
		switch {
		case errors.Is(err, strategy.ErrStalePrice):
			c.Oracle = types.Score(staleOracleRisk)
		case err != nil:
			g.log.Warn().Err(err).Str("strategy", string(id)).Msg("Could not observe peg deviation")
		default:
			c.Oracle = types.Score(analyzer.OracleRiskFromDeviation(utils.MustDecToFloat64(deviation)))
		}
	}
}

// recommendations lists each strategy's triggered advisories, prefixed with its id, after the
// vault-level critical warning.
func recommendations(a types.RiskAssessment) []string {
	var out []string
	if a.VaultScore >= analyzer.EmergencyUnwindAt {
		out = append(out, analyzer.RecommendationCritical)
	}
	for _, s := range a.Strategies {
		for _, rec := range analyzer.GenerateRecommendations(s.Composite, s.Components) {
			if rec == analyzer.RecommendationNormal || rec == analyzer.RecommendationCritical {
				continue
			}
			out = append(out, string(s.StrategyID)+": "+rec)
		}
	}
	if len(out) == 0 {
		out = append(out, analyzer.RecommendationNormal)
	}
	return out
}
