package ports

import (
	"context"
	"time"

	"deepwork/models"

	"github.com/google/uuid"
)

// SessionFinalization carries everything committed to the durable
// store when a session terminates. Day is the session's local start
// date, the key of the aggregate rollup.
type SessionFinalization struct {
	Status           models.SessionStatus
	EndedAt          time.Time
	ActualMinutes    int
	DistractionCount int
	IdleSeconds      int
	TabSwitchCount   int
	ScoreDelta       int
	Boosted          bool
	Events           []models.DistractionEvent
	Day              time.Time
}

// SessionLedger defines the interface for the durable session record.
// The lifecycle manager is its only writer: rows are inserted at start
// and finalized exactly once at termination.
type SessionLedger interface {
	// InsertSession creates a new in-progress session row
	InsertSession(ctx context.Context, session *models.Session) error

	// FinalizeSession commits a session's terminal fields, its event
	// ledger, the user's cumulative score update (floored at zero), and
	// the daily aggregate upsert in a single transaction. It returns the
	// user's new cumulative score. Re-running it for an already-terminal
	// session must be a no-op returning the stored score.
	FinalizeSession(ctx context.Context, sessionID, userID uuid.UUID, fin SessionFinalization) (int, error)

	// FindInProgress returns the user's non-terminal session row, or nil
	FindInProgress(ctx context.Context, userID uuid.UUID) (*models.Session, error)

	// ListFinalized returns a user's terminal sessions, newest first,
	// optionally limited
	ListFinalized(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error)

	// ListDailyAggregates returns a user's rollups for the last n days,
	// oldest first
	ListDailyAggregates(ctx context.Context, userID uuid.UUID, days int) ([]*models.DailyAggregate, error)

	// GetUserXP returns the user's current cumulative score, provisioning
	// the user row on first sight (identity is trusted upstream)
	GetUserXP(ctx context.Context, userID uuid.UUID) (int, error)
}
