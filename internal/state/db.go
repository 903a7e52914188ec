// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// ErrNotInitialized is returned when a store is used before InitDB.
var ErrNotInitialized = errors.New("database not initialized")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders the lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	var err error
	DB, err = sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err = DB.Ping(); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS risk_assessments (
		assessment_id SERIAL PRIMARY KEY,
		vault_asset VARCHAR(64) NOT NULL,
		assessed_at TIMESTAMPTZ NOT NULL,
		vault_score DECIMAL(10, 6) NOT NULL,
		risk_level VARCHAR(32) NOT NULL,
		required_action VARCHAR(32) NOT NULL,
		applied_mode VARCHAR(32) NOT NULL,
		strategies JSONB NOT NULL,
		recommendations TEXT[],
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_risk_assessments_asset_time ON risk_assessments(vault_asset, assessed_at DESC);

	CREATE TABLE IF NOT EXISTS cycle_snapshots (
		snapshot_id SERIAL PRIMARY KEY,
		cycle_id VARCHAR(64) NOT NULL UNIQUE,
		cycle_number INTEGER NOT NULL,
		snapshot_timestamp TIMESTAMPTZ NOT NULL,
		vault_asset VARCHAR(64) NOT NULL,
		initial_total_assets DECIMAL(38, 18) NOT NULL,
		initial_idle_balance DECIMAL(38, 18) NOT NULL,
		initial_state JSONB NOT NULL,
		assessment JSONB,
		rebalance JSONB,
		harvested DECIMAL(38, 18) NOT NULL DEFAULT 0,
		monitor_notes TEXT[],
		final_total_assets DECIMAL(38, 18) NOT NULL,
		final_idle_balance DECIMAL(38, 18) NOT NULL,
		final_state JSONB NOT NULL,
		risk_mode VARCHAR(32) NOT NULL,
		errors TEXT[],
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle_number ON cycle_snapshots(cycle_number DESC);
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema(ctx context.Context) error {
	if DB == nil {
		return ErrNotInitialized
	}
	if _, err := DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := ensureCycleCounterTable(ctx, DB); err != nil {
		return err
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection runs a trivial round-trip query.
func TestDBConnection(ctx context.Context) error {
	if DB == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database round-trip failed: %w", err)
	}
	return nil
}

// Store exposes the persistence operations over one connection pool.
type Store struct {
	db *sql.DB
}

// NewStore wraps db; a nil db yields ErrNotInitialized on every call.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Ping checks the connection with a short round-trip.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}
