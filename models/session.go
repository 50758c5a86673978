package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a focus session
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether the status is a final state
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// MentalState is the self-reported state snapshot taken at session start.
// It is immutable for the session's lifetime and drives the scoring multiplier.
type MentalState string

const (
	MentalStateFlow    MentalState = "flow"
	MentalStateTired   MentalState = "tired"
	MentalStateAnxious MentalState = "anxious"
	MentalStateNeutral MentalState = "neutral"
)

// Normalize maps unknown mental states to neutral so scoring stays total
func (m MentalState) Normalize() MentalState {
	switch m {
	case MentalStateFlow, MentalStateTired, MentalStateAnxious, MentalStateNeutral:
		return m
	}
	return MentalStateNeutral
}

// EventKind identifies a distraction signal reported by the client
type EventKind string

const (
	EventTabSwitch   EventKind = "tab_switch"
	EventDistraction EventKind = "distraction"
	EventIdle        EventKind = "idle"
	EventWindowBlur  EventKind = "window_blur"
)

// CountsAsDistraction reports whether the event kind increments the
// session's distraction counter.
func (k EventKind) CountsAsDistraction() bool {
	return k == EventTabSwitch || k == EventDistraction
}

// Metadata is a custom type for PostgreSQL JSONB columns that maps to map[string]interface{}
type Metadata map[string]interface{}

// Value implements driver.Valuer interface
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner interface
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*m = make(Metadata)
		return nil
	}

	if len(bytes) == 0 {
		*m = make(Metadata)
		return nil
	}

	result := make(Metadata)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*m = result
	return nil
}

// Session is the durable record of one timed focus interval.
// It is mutable until it reaches a terminal status, after which
// the row is never touched again.
type Session struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	UserID           uuid.UUID     `json:"user_id" db:"user_id"`
	Status           SessionStatus `json:"status" db:"status"`
	MentalState      MentalState   `json:"mental_state" db:"mental_state"`
	TaskLabel        string        `json:"task_label" db:"task_label"`
	PlannedMinutes   int           `json:"planned_minutes" db:"planned_minutes"`
	ActualMinutes    int           `json:"actual_minutes" db:"actual_minutes"`
	XPBaseline       int           `json:"xp_baseline" db:"xp_baseline"`
	DistractionCount int           `json:"distraction_count" db:"distraction_count"`
	IdleSeconds      int           `json:"idle_seconds" db:"idle_seconds"`
	TabSwitchCount   int           `json:"tab_switch_count" db:"tab_switch_count"`
	ScoreDelta       int           `json:"score_delta" db:"score_delta"`
	Boosted          bool          `json:"boosted" db:"boosted"`
	StartedAt        time.Time     `json:"started_at" db:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// NewSession creates an in-progress session row for a user
func NewSession(userID uuid.UUID, plannedMinutes int, mentalState MentalState, taskLabel string, xpBaseline int) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.New(),
		UserID:         userID,
		Status:         SessionInProgress,
		MentalState:    mentalState.Normalize(),
		TaskLabel:      taskLabel,
		PlannedMinutes: plannedMinutes,
		XPBaseline:     xpBaseline,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DistractionEvent is one entry in a session's append-only event ledger.
// Seq is the server-side arrival order; OccurredAt is the server arrival
// time, not a client-supplied timestamp.
type DistractionEvent struct {
	SessionID  uuid.UUID `json:"session_id" db:"session_id"`
	Seq        int       `json:"seq" db:"seq"`
	Kind       EventKind `json:"kind" db:"kind"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	Metadata   Metadata  `json:"metadata,omitempty" db:"metadata"`
}

// ActiveSession mirrors the mutable fields of an in-progress Session in
// the ephemeral store, plus heartbeat bookkeeping. It is created on start,
// mutated on every accepted heartbeat, and deleted on end.
type ActiveSession struct {
	SessionID        uuid.UUID   `json:"session_id"`
	UserID           uuid.UUID   `json:"user_id"`
	MentalState      MentalState `json:"mental_state"`
	TaskLabel        string      `json:"task_label"`
	PlannedMinutes   int         `json:"planned_minutes"`
	XPBaseline       int         `json:"xp_baseline"`
	DistractionCount int         `json:"distraction_count"`
	IdleSeconds      int         `json:"idle_seconds"`
	TabSwitchCount   int         `json:"tab_switch_count"`
	StartedAt        time.Time   `json:"started_at"`
	LastHeartbeatAt  time.Time   `json:"last_heartbeat_at"`
}

// DailyAggregate is the per-(user, day) rollup, upserted once per
// session termination.
type DailyAggregate struct {
	UserID            uuid.UUID `json:"user_id" db:"user_id"`
	Day               time.Time `json:"day" db:"day"`
	TotalFocusMinutes int       `json:"total_focus_minutes" db:"total_focus_minutes"`
	SessionsCompleted int       `json:"sessions_completed" db:"sessions_completed"`
	DistractionCount  int       `json:"distraction_count" db:"distraction_count"`
}
