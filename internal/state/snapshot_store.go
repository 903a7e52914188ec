// ./internal/state/snapshot_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/nexxore/safeyield/internal/types"
	"github.com/rs/zerolog/log"
)

const (
	defaultCycleLimit = 10
	maxCycleLimit     = 100
)

const cycleColumns = `snapshot_id, cycle_id, cycle_number, snapshot_timestamp,
	initial_state, assessment, rebalance, harvested, monitor_notes, final_state, errors`

// CycleStats summarizes the keeper's persisted history.
type CycleStats struct {
	TotalCycles      int               `json:"total_cycles"`
	CyclesWithErrors int               `json:"cycles_with_errors"`
	TotalHarvested   sdkmath.LegacyDec `json:"total_harvested"`
	LastCycleNumber  int               `json:"last_cycle_number"`
	LastCycleAt      *time.Time        `json:"last_cycle_at,omitempty"`
}

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func (s *Store) SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	args, err := cycleArgs(snapshot)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_id, cycle_number, snapshot_timestamp, vault_asset,
			initial_total_assets, initial_idle_balance, initial_state,
			assessment, rebalance, harvested, monitor_notes,
			final_total_assets, final_idle_balance, final_state,
			risk_mode, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING snapshot_id;
	`
	var id int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert cycle snapshot %s: %w", snapshot.CycleID, err)
	}

	log.Info().Int64("snapshotID", id).Int("cycleNumber", snapshot.CycleNumber).Msg("Saved cycle snapshot")
	return id, nil
}

// GetRecentCycles returns the latest cycle snapshots, newest first.
func (s *Store) GetRecentCycles(ctx context.Context, limit int) ([]types.CycleSnapshot, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit = clamp(limit, defaultCycleLimit, maxCycleLimit)

	query := `SELECT ` + cycleColumns + `
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT $1;`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []types.CycleSnapshot
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}
	return cycles, nil
}

// GetCycleByNumber returns the snapshot of one cycle.
func (s *Store) GetCycleByNumber(ctx context.Context, n int) (types.CycleSnapshot, error) {
	db, err := s.conn()
	if err != nil {
		return types.CycleSnapshot{}, err
	}

	query := `SELECT ` + cycleColumns + `
		FROM cycle_snapshots
		WHERE cycle_number = $1
		ORDER BY snapshot_id DESC
		LIMIT 1;`

	c, err := scanCycle(db.QueryRowContext(ctx, query, n))
	if errors.Is(err, sql.ErrNoRows) {
		return types.CycleSnapshot{}, fmt.Errorf("cycle %d: %w", n, ErrNotFound)
	}
	return c, err
}

// GetCycleStats aggregates the persisted cycles for asset.
func (s *Store) GetCycleStats(ctx context.Context, asset string) (CycleStats, error) {
	db, err := s.conn()
	if err != nil {
		return CycleStats{}, err
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE COALESCE(array_length(errors, 1), 0) > 0),
			COALESCE(SUM(harvested), 0)::TEXT,
			COALESCE(MAX(cycle_number), 0),
			MAX(snapshot_timestamp)
		FROM cycle_snapshots
		WHERE vault_asset = $1;`

	var (
		stats     CycleStats
		harvested string
		lastAt    sql.NullTime
	)
	err = db.QueryRowContext(ctx, query, asset).Scan(
		&stats.TotalCycles, &stats.CyclesWithErrors, &harvested, &stats.LastCycleNumber, &lastAt,
	)
	if err != nil {
		return CycleStats{}, fmt.Errorf("failed to aggregate cycles: %w", err)
	}
	if stats.TotalHarvested, err = parseDecimal(harvested); err != nil {
		return CycleStats{}, err
	}
	if lastAt.Valid {
		stats.LastCycleAt = &lastAt.Time
	}
	return stats, nil
}

func cycleArgs(c types.CycleSnapshot) ([]any, error) {
	initialJSON, err := json.Marshal(c.Initial)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initial state: %w", err)
	}
	finalJSON, err := json.Marshal(c.Final)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal final state: %w", err)
	}
	assessmentJSON, err := nullableJSON(c.Assessment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assessment: %w", err)
	}
	rebalanceJSON, err := nullableJSON(c.Rebalance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rebalance: %w", err)
	}

	harvested := c.Harvested
	if harvested.IsNil() {
		harvested = sdkmath.LegacyZeroDec()
	}
	return []any{
		c.CycleID,
		c.CycleNumber,
		c.Timestamp.UTC(),
		c.Final.Asset,
		decString(c.Initial.TotalAssets),
		decString(c.Initial.IdleBalance),
		initialJSON,
		assessmentJSON,
		rebalanceJSON,
		harvested.String(),
		pq.Array(c.MonitorNotes),
		decString(c.Final.TotalAssets),
		decString(c.Final.IdleBalance),
		finalJSON,
		c.Final.RiskMode,
		pq.Array(c.Errors),
	}, nil
}

func scanCycle(row rowScanner) (types.CycleSnapshot, error) {
	var (
		c                             types.CycleSnapshot
		initialJSON, finalJSON        []byte
		assessmentJSON, rebalanceJSON []byte
		harvested                     string
	)
	err := row.Scan(
		&c.SnapshotID, &c.CycleID, &c.CycleNumber, &c.Timestamp,
		&initialJSON, &assessmentJSON, &rebalanceJSON, &harvested,
		pq.Array(&c.MonitorNotes), &finalJSON, pq.Array(&c.Errors),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan cycle snapshot: %w", err)
	}

	if err := json.Unmarshal(initialJSON, &c.Initial); err != nil {
		return c, fmt.Errorf("cycle %d: failed to unmarshal initial state: %w", c.CycleNumber, err)
	}
	if err := json.Unmarshal(finalJSON, &c.Final); err != nil {
		return c, fmt.Errorf("cycle %d: failed to unmarshal final state: %w", c.CycleNumber, err)
	}
	if len(assessmentJSON) > 0 {
		c.Assessment = new(types.RiskAssessment)
		if err := json.Unmarshal(assessmentJSON, c.Assessment); err != nil {
			return c, fmt.Errorf("cycle %d: failed to unmarshal assessment: %w", c.CycleNumber, err)
		}
	}
	if len(rebalanceJSON) > 0 {
		c.Rebalance = new(types.RebalanceReport)
		if err := json.Unmarshal(rebalanceJSON, c.Rebalance); err != nil {
			return c, fmt.Errorf("cycle %d: failed to unmarshal rebalance: %w", c.CycleNumber, err)
		}
	}
	if c.Harvested, err = parseDecimal(harvested); err != nil {
		return c, fmt.Errorf("cycle %d: %w", c.CycleNumber, err)
	}
	return c, nil
}

// nullableJSON marshals v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decString(d sdkmath.LegacyDec) string {
	if d.IsNil() {
		return "0"
	}
	return d.String()
}

// parseDecimal reads a Postgres DECIMAL rendering, which may carry fewer than 18 fraction digits.
func parseDecimal(s string) (sdkmath.LegacyDec, error) {
	if s == "" {
		return sdkmath.LegacyZeroDec(), nil
	}
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}
