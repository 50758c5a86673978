package migration

import (
	"context"

	"deepwork/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createUsersTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create users table")
	}

	if err := r.createSessionsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create sessions table")
	}

	if err := r.createSessionEventsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create session_events table")
	}

	if err := r.createDailyAggregatesTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create daily_aggregates table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createUsersTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL DEFAULT '',
			username VARCHAR(100) NOT NULL DEFAULT '',
			xp INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
			is_active BOOLEAN DEFAULT true,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createSessionsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status VARCHAR(20) NOT NULL DEFAULT 'in_progress',
			mental_state VARCHAR(20) NOT NULL DEFAULT 'neutral',
			task_label TEXT NOT NULL DEFAULT '',
			planned_minutes INTEGER NOT NULL DEFAULT 0,
			actual_minutes INTEGER NOT NULL DEFAULT 0,
			xp_baseline INTEGER NOT NULL DEFAULT 0,
			distraction_count INTEGER NOT NULL DEFAULT 0,
			idle_seconds INTEGER NOT NULL DEFAULT 0,
			tab_switch_count INTEGER NOT NULL DEFAULT 0,
			score_delta INTEGER NOT NULL DEFAULT 0,
			boosted BOOLEAN NOT NULL DEFAULT false,
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			ended_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createSessionEventsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_events (
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			kind VARCHAR(50) NOT NULL,
			occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
			metadata JSONB,
			PRIMARY KEY (session_id, seq)
		)
	`)
	return err
}

func (r *MigrationRunner) createDailyAggregatesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS daily_aggregates (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			day DATE NOT NULL,
			total_focus_minutes INTEGER NOT NULL DEFAULT 0,
			sessions_completed INTEGER NOT NULL DEFAULT 0,
			distraction_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, day)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON sessions(user_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_aggregates_user_day ON daily_aggregates(user_id, day)`,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return err
		}
	}
	return nil
}
