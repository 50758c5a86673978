package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SessionLedgerImpl implements SessionLedger for PostgreSQL
type SessionLedgerImpl struct {
	db *sqlx.DB
}

// NewSessionLedger creates a new PostgreSQL session ledger
func NewSessionLedger(db *sqlx.DB) ports.SessionLedger {
	return &SessionLedgerImpl{db: db}
}

// InsertSession creates a new in-progress session row
func (r *SessionLedgerImpl) InsertSession(ctx context.Context, session *models.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, mental_state, task_label, planned_minutes, xp_baseline, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, session.ID, session.UserID, session.Status, session.MentalState, session.TaskLabel, session.PlannedMinutes, session.XPBaseline, session.StartedAt)
	return err
}

// FinalizeSession commits the session's terminal fields, event ledger,
// cumulative score update and daily aggregate in one transaction.
// Finalizing an already-terminal session is a no-op that returns the
// stored score, so a retried end cannot double-apply the delta.
func (r *SessionLedgerImpl) FinalizeSession(ctx context.Context, sessionID, userID uuid.UUID, fin ports.SessionFinalization) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = $3, ended_at = $4, actual_minutes = $5, distraction_count = $6,
		    idle_seconds = $7, tab_switch_count = $8, score_delta = $9, boosted = $10,
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'in_progress'
	`, sessionID, userID, fin.Status, fin.EndedAt, fin.ActualMinutes, fin.DistractionCount,
		fin.IdleSeconds, fin.TabSwitchCount, fin.ScoreDelta, fin.Boosted)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		// Already terminal: an earlier end committed. Report the stored total.
		var xp int
		if err := tx.GetContext(ctx, &xp, `SELECT xp FROM users WHERE id = $1`, userID); err != nil {
			return 0, err
		}
		return xp, tx.Commit()
	}

	for _, event := range fin.Events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_events (session_id, seq, kind, occurred_at, metadata)
			VALUES ($1, $2, $3, $4, $5)
		`, event.SessionID, event.Seq, event.Kind, event.OccurredAt, event.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to insert event %d: %w", event.Seq, err)
		}
	}

	var xp int
	err = tx.GetContext(ctx, &xp, `
		UPDATE users
		SET xp = GREATEST(0, xp + $2), updated_at = NOW()
		WHERE id = $1
		RETURNING xp
	`, userID, fin.ScoreDelta)
	if err != nil {
		return 0, err
	}

	completedIncrement := 0
	if fin.Status == models.SessionCompleted {
		completedIncrement = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_aggregates (user_id, day, total_focus_minutes, sessions_completed, distraction_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day) DO UPDATE
		SET total_focus_minutes = daily_aggregates.total_focus_minutes + EXCLUDED.total_focus_minutes,
		    sessions_completed = daily_aggregates.sessions_completed + EXCLUDED.sessions_completed,
		    distraction_count = daily_aggregates.distraction_count + EXCLUDED.distraction_count
	`, userID, fin.Day, fin.ActualMinutes, completedIncrement, fin.DistractionCount)
	if err != nil {
		return 0, err
	}

	return xp, tx.Commit()
}

// FindInProgress returns the user's non-terminal session row, or nil
func (r *SessionLedgerImpl) FindInProgress(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT id, user_id, status, mental_state, task_label, planned_minutes, actual_minutes,
		       xp_baseline, distraction_count, idle_seconds, tab_switch_count, score_delta,
		       boosted, started_at, ended_at, created_at, updated_at
		FROM sessions
		WHERE user_id = $1 AND status = 'in_progress'
		ORDER BY started_at DESC
		LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListFinalized returns a user's terminal sessions, newest first
func (r *SessionLedgerImpl) ListFinalized(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error) {
	query := `
		SELECT id, user_id, status, mental_state, task_label, planned_minutes, actual_minutes,
		       xp_baseline, distraction_count, idle_seconds, tab_switch_count, score_delta,
		       boosted, started_at, ended_at, created_at, updated_at
		FROM sessions
		WHERE user_id = $1 AND status IN ('completed', 'abandoned')
		ORDER BY started_at DESC
	`

	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var sessions []*models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListDailyAggregates returns a user's rollups for the last n days, oldest first
func (r *SessionLedgerImpl) ListDailyAggregates(ctx context.Context, userID uuid.UUID, days int) ([]*models.DailyAggregate, error) {
	var aggregates []*models.DailyAggregate
	err := r.db.SelectContext(ctx, &aggregates, `
		SELECT user_id, day, total_focus_minutes, sessions_completed, distraction_count
		FROM daily_aggregates
		WHERE user_id = $1 AND day > CURRENT_DATE - $2 * INTERVAL '1 day'
		ORDER BY day ASC
	`, userID, days)
	if err != nil {
		return nil, err
	}
	return aggregates, nil
}

// GetUserXP returns the user's cumulative score, provisioning the user
// row on first sight. Identity is trusted upstream, so an unseen user
// ID is a new user, not an error.
func (r *SessionLedgerImpl) GetUserXP(ctx context.Context, userID uuid.UUID) (int, error) {
	var xp int
	err := r.db.GetContext(ctx, &xp, `SELECT xp FROM users WHERE id = $1`, userID)
	if err == nil {
		return xp, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, xp, is_active, created_at, updated_at)
		VALUES ($1, '', '', 0, true, NOW(), NOW())
	`, userID)
	if err != nil {
		// Another instance provisioned the row first
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return r.GetUserXP(ctx, userID)
		}
		return 0, err
	}
	return 0, nil
}
