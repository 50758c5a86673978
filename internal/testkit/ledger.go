package testkit

import (
	"context"
	"sort"
	"sync"
	"time"

	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
)

// MemLedger is an in-memory SessionLedger for tests. It honors the
// port contract precisely: one-shot finalization, the cumulative score
// floored at zero, and per-(user, day) aggregate accumulation.
type MemLedger struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*models.Session
	events     map[uuid.UUID][]models.DistractionEvent
	xp         map[uuid.UUID]int
	aggregates map[uuid.UUID]map[string]*models.DailyAggregate
}

// NewMemLedger creates an empty in-memory ledger
func NewMemLedger() *MemLedger {
	return &MemLedger{
		sessions:   make(map[uuid.UUID]*models.Session),
		events:     make(map[uuid.UUID][]models.DistractionEvent),
		xp:         make(map[uuid.UUID]int),
		aggregates: make(map[uuid.UUID]map[string]*models.DailyAggregate),
	}
}

var _ ports.SessionLedger = (*MemLedger)(nil)

// SetXP seeds a user's cumulative score
func (l *MemLedger) SetXP(userID uuid.UUID, xp int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.xp[userID] = xp
}

// Session returns a stored session row for assertions
func (l *MemLedger) Session(sessionID uuid.UUID) *models.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sessions[sessionID]; ok {
		copied := *s
		return &copied
	}
	return nil
}

// SessionEvents returns the committed event ledger for assertions
func (l *MemLedger) SessionEvents(sessionID uuid.UUID) []models.DistractionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.DistractionEvent(nil), l.events[sessionID]...)
}

// Aggregate returns the rollup for a user and day, or nil
func (l *MemLedger) Aggregate(userID uuid.UUID, day time.Time) *models.DailyAggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	if agg, ok := l.aggregates[userID][day.Format("2006-01-02")]; ok {
		copied := *agg
		return &copied
	}
	return nil
}

func (l *MemLedger) InsertSession(_ context.Context, session *models.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *session
	l.sessions[session.ID] = &copied
	return nil
}

func (l *MemLedger) FinalizeSession(_ context.Context, sessionID, userID uuid.UUID, fin ports.SessionFinalization) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	session, ok := l.sessions[sessionID]
	if !ok || session.UserID != userID {
		return 0, nil
	}
	if session.Status.Terminal() {
		return l.xp[userID], nil
	}

	session.Status = fin.Status
	ended := fin.EndedAt
	session.EndedAt = &ended
	session.ActualMinutes = fin.ActualMinutes
	session.DistractionCount = fin.DistractionCount
	session.IdleSeconds = fin.IdleSeconds
	session.TabSwitchCount = fin.TabSwitchCount
	session.ScoreDelta = fin.ScoreDelta
	session.Boosted = fin.Boosted
	l.events[sessionID] = append([]models.DistractionEvent(nil), fin.Events...)

	total := l.xp[userID] + fin.ScoreDelta
	if total < 0 {
		total = 0
	}
	l.xp[userID] = total

	key := fin.Day.Format("2006-01-02")
	if l.aggregates[userID] == nil {
		l.aggregates[userID] = make(map[string]*models.DailyAggregate)
	}
	agg, ok := l.aggregates[userID][key]
	if !ok {
		agg = &models.DailyAggregate{UserID: userID, Day: fin.Day}
		l.aggregates[userID][key] = agg
	}
	agg.TotalFocusMinutes += fin.ActualMinutes
	agg.DistractionCount += fin.DistractionCount
	if fin.Status == models.SessionCompleted {
		agg.SessionsCompleted++
	}

	return total, nil
}

func (l *MemLedger) FindInProgress(_ context.Context, userID uuid.UUID) (*models.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, session := range l.sessions {
		if session.UserID == userID && session.Status == models.SessionInProgress {
			copied := *session
			return &copied, nil
		}
	}
	return nil, nil
}

func (l *MemLedger) ListFinalized(_ context.Context, userID uuid.UUID, limit int) ([]*models.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.Session
	for _, session := range l.sessions {
		if session.UserID == userID && session.Status.Terminal() {
			copied := *session
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemLedger) ListDailyAggregates(_ context.Context, userID uuid.UUID, days int) ([]*models.DailyAggregate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.DailyAggregate
	for _, agg := range l.aggregates[userID] {
		copied := *agg
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	if days > 0 && len(out) > days {
		out = out[len(out)-days:]
	}
	return out, nil
}

func (l *MemLedger) GetUserXP(_ context.Context, userID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.xp[userID], nil
}
