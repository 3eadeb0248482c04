package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DB represents a database connection
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection and ensures the schema exists.
// The initial ping is retried with exponential backoff so a briefly
// unavailable database does not kill startup.
func New(params ConnectionParams) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(db.Ping, backoffStrategy); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &DB{db, log.With().Str("component", "database").Logger()}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			league TEXT NOT NULL,
			stats JSONB NOT NULL DEFAULT '{}',
			form TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			league TEXT NOT NULL,
			home_team_id TEXT NOT NULL REFERENCES teams(id),
			away_team_id TEXT NOT NULL REFERENCES teams(id),
			kickoff TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			home_score INT,
			away_score INT
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL UNIQUE,
			home_win_probability INT NOT NULL,
			draw_probability INT NOT NULL,
			away_win_probability INT NOT NULL,
			predicted_home_score INT NOT NULL,
			predicted_away_score INT NOT NULL,
			confidence INT NOT NULL,
			factors JSONB NOT NULL DEFAULT '[]',
			algorithm_version_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS calculations (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL,
			input JSONB NOT NULL,
			output JSONB NOT NULL,
			intermediate JSONB NOT NULL,
			algorithm_version_id TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			evaluated_at TIMESTAMPTZ,
			actual_home_score INT,
			actual_away_score INT,
			was_correct BOOLEAN,
			result_type TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calculations_unevaluated
			ON calculations (created_at) WHERE evaluated_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS algorithm_versions (
			id TEXT PRIMARY KEY,
			number INT NOT NULL UNIQUE,
			label TEXT NOT NULL,
			weights JSONB NOT NULL,
			parent_id TEXT,
			state TEXT NOT NULL,
			expected_improvement DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prediction_runs (
			id TEXT PRIMARY KEY,
			run_type TEXT NOT NULL,
			days_ahead INT NOT NULL,
			force_update BOOLEAN NOT NULL,
			total_processed INT NOT NULL,
			new_predictions INT NOT NULL,
			updated_predictions INT NOT NULL,
			failed_predictions INT NOT NULL,
			duration_ms BIGINT NOT NULL,
			algorithm_version_id TEXT NOT NULL,
			errors JSONB NOT NULL DEFAULT '[]',
			notes TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS news_events (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			direction TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			headline TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_news_events_team
			ON news_events (team_id, detected_at)`,
		`CREATE TABLE IF NOT EXISTS error_log (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			context JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
