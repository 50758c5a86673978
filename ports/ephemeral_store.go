package ports

import (
	"context"
	"time"

	"deepwork/models"

	"github.com/google/uuid"
)

// HeartbeatMutation is the compound write applied to an active session
// record by one accepted heartbeat. Implementations must apply all
// fields in a single atomic round trip so racing heartbeats cannot
// lose counter increments.
type HeartbeatMutation struct {
	AdvanceHeartbeatTo time.Time
	AddIdleSeconds     int
	AddDistractions    int
	AddTabSwitches     int
	AppendEvent        *models.DistractionEvent
}

// EphemeralStore defines the interface for the shared live-session
// cache. It holds at most one record per user and is the single source
// of truth for "is this user currently in a session". Implementations
// (e.g. Redis) must remain stateless across calls; nothing may be
// cached in-process beyond a single operation.
type EphemeralStore interface {
	// Put creates or silently overwrites the user's active session record
	// and resets its event ledger
	Put(ctx context.Context, state *models.ActiveSession) error

	// Get returns the user's active session record, or nil when the user
	// has no session open
	Get(ctx context.Context, userID uuid.UUID) (*models.ActiveSession, error)

	// ApplyHeartbeat atomically applies a heartbeat mutation to the user's
	// record. It is a no-op returning false when no record exists.
	ApplyHeartbeat(ctx context.Context, userID uuid.UUID, mut HeartbeatMutation) (bool, error)

	// Events returns the session's event ledger in arrival order, with
	// Seq assigned from the stored position
	Events(ctx context.Context, sessionID uuid.UUID) ([]models.DistractionEvent, error)

	// Delete removes the user's record and its event ledger. Deleting an
	// absent record is not an error.
	Delete(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error
}
