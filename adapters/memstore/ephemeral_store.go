package memstore

import (
	"context"
	"sync"

	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
)

// EphemeralStore is an in-process implementation of the live-session
// cache for tests and single-node development. The production
// deployment uses the Redis adapter; this one trades the shared-store
// guarantee for zero infrastructure.
type EphemeralStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]*models.ActiveSession
	events map[uuid.UUID][]models.DistractionEvent
}

// New creates an empty in-memory ephemeral store
func New() *EphemeralStore {
	return &EphemeralStore{
		states: make(map[uuid.UUID]*models.ActiveSession),
		events: make(map[uuid.UUID][]models.DistractionEvent),
	}
}

var _ ports.EphemeralStore = (*EphemeralStore)(nil)

// Put creates or silently overwrites the user's record and resets the
// event ledger of the session it tracks
func (s *EphemeralStore) Put(_ context.Context, state *models.ActiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	s.states[state.UserID] = &copied
	s.events[state.SessionID] = nil
	return nil
}

// Get returns a copy of the user's record, or nil
func (s *EphemeralStore) Get(_ context.Context, userID uuid.UUID) (*models.ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// ApplyHeartbeat applies the compound mutation under the store lock,
// so racing heartbeats cannot lose increments
func (s *EphemeralStore) ApplyHeartbeat(_ context.Context, userID uuid.UUID, mut ports.HeartbeatMutation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return false, nil
	}

	state.LastHeartbeatAt = mut.AdvanceHeartbeatTo
	state.IdleSeconds += mut.AddIdleSeconds
	state.DistractionCount += mut.AddDistractions
	state.TabSwitchCount += mut.AddTabSwitches
	if mut.AppendEvent != nil {
		event := *mut.AppendEvent
		event.Seq = len(s.events[state.SessionID])
		s.events[state.SessionID] = append(s.events[state.SessionID], event)
	}
	return true, nil
}

// Events returns the session's event ledger in arrival order
func (s *EphemeralStore) Events(_ context.Context, sessionID uuid.UUID) ([]models.DistractionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[sessionID]
	out := make([]models.DistractionEvent, len(events))
	copy(out, events)
	return out, nil
}

// Delete removes the user's record and its event ledger
func (s *EphemeralStore) Delete(_ context.Context, userID uuid.UUID, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, userID)
	delete(s.events, sessionID)
	return nil
}
