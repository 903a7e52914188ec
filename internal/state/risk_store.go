// ./internal/state/risk_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 365
)

const assessmentColumns = `assessment_id, vault_asset, assessed_at, vault_score, risk_level,
	required_action, applied_mode, strategies, recommendations`

// SaveRiskAssessment persists one RiskGate evaluation and returns its row id.
func (s *Store) SaveRiskAssessment(ctx context.Context, a types.RiskAssessment) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	args, err := assessmentArgs(a)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO risk_assessments (
			vault_asset, assessed_at, vault_score, risk_level,
			required_action, applied_mode, strategies, recommendations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING assessment_id;
	`
	var id int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert risk assessment: %w", err)
	}

	log.Debug().Int64("assessmentID", id).Str("level", a.Level.String()).Msg("Saved risk assessment")
	return id, nil
}

// GetLatestRiskAssessment returns the most recent assessment for asset.
func (s *Store) GetLatestRiskAssessment(ctx context.Context, asset string) (types.RiskAssessment, error) {
	db, err := s.conn()
	if err != nil {
		return types.RiskAssessment{}, err
	}

	query := `SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE vault_asset = $1
		ORDER BY assessed_at DESC, assessment_id DESC
		LIMIT 1;`

	a, err := scanAssessment(db.QueryRowContext(ctx, query, asset))
	if errors.Is(err, sql.ErrNoRows) {
		return types.RiskAssessment{}, fmt.Errorf("no risk assessment for %s: %w", asset, ErrNotFound)
	}
	return a, err
}

// GetRiskHistory returns the assessments of the last days days, newest first.
func (s *Store) GetRiskHistory(ctx context.Context, asset string, days int) ([]types.RiskAssessment, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	days = clamp(days, defaultHistoryDays, maxHistoryDays)

	query := `SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE vault_asset = $1 AND assessed_at >= $2
		ORDER BY assessed_at DESC, assessment_id DESC;`

	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := db.QueryContext(ctx, query, asset, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk history: %w", err)
	}
	defer rows.Close()

	var out []types.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk history: %w", err)
	}
	return out, nil
}

func assessmentArgs(a types.RiskAssessment) ([]any, error) {
	strategies := a.Strategies
	if strategies == nil {
		strategies = []types.StrategyRisk{}
	}
	strategiesJSON, err := json.Marshal(strategies)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal strategies: %w", err)
	}
	return []any{
		a.VaultAsset,
		a.Timestamp.UTC(),
		a.VaultScore,
		a.Level.String(),
		a.Action.String(),
		a.AppliedMode,
		strategiesJSON,
		pq.Array(a.Recommendations),
	}, nil
}

func scanAssessment(row rowScanner) (types.RiskAssessment, error) {
	var (
		a              types.RiskAssessment
		level, action  string
		strategiesJSON []byte
	)
	err := row.Scan(
		&a.AssessmentID, &a.VaultAsset, &a.Timestamp, &a.VaultScore, &level,
		&action, &a.AppliedMode, &strategiesJSON, pq.Array(&a.Recommendations),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan risk assessment: %w", err)
	}
	if err := a.Level.UnmarshalText([]byte(level)); err != nil {
		return a, fmt.Errorf("assessment %d: %w", a.AssessmentID, err)
	}
	if err := a.Action.UnmarshalText([]byte(action)); err != nil {
		return a, fmt.Errorf("assessment %d: %w", a.AssessmentID, err)
	}
	if err := json.Unmarshal(strategiesJSON, &a.Strategies); err != nil {
		return a, fmt.Errorf("assessment %d: failed to unmarshal strategies: %w", a.AssessmentID, err)
	}
	return a, nil
}

// clamp returns def for non-positive v and caps v at max.
func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
