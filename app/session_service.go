package app

import (
	"context"
	"math"
	"sync"
	"time"

	"deepwork/domain/scoring"
	"deepwork/internal"
	"deepwork/internal/config"
	"deepwork/internal/errors"
	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
)

// SessionService is the session lifecycle manager. It owns the
// per-user state machine (no session -> in_progress -> terminal),
// validates heartbeat cadence, applies the scoring function, and
// reconciles ephemeral state into the durable ledger at termination.
type SessionService struct {
	ledger    ports.SessionLedger
	ephemeral ports.EphemeralStore
	heartbeat config.HeartbeatConfig
	scoring   scoring.Config
	logger    *internal.Logger

	// locks serializes lifecycle calls per user within this instance.
	// Cross-instance safety rests on the ephemeral store's atomic
	// compound heartbeat write.
	locks sync.Map // uuid.UUID -> *sync.Mutex

	// now is swappable for tests
	now func() time.Time
}

// NewSessionService creates a session lifecycle manager
func NewSessionService(ledger ports.SessionLedger, ephemeral ports.EphemeralStore, hb config.HeartbeatConfig, sc scoring.Config, logger *internal.Logger) *SessionService {
	return &SessionService{
		ledger:    ledger,
		ephemeral: ephemeral,
		heartbeat: hb,
		scoring:   sc,
		logger:    logger.Component("session"),
		now:       time.Now,
	}
}

// StartRequest defines inputs for opening a session
type StartRequest struct {
	UserID         uuid.UUID
	PlannedMinutes int
	MentalState    models.MentalState
	TaskLabel      string
}

// StartResult is returned to the client after a session opens
type StartResult struct {
	SessionID  uuid.UUID `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	XPBaseline int       `json:"xp_baseline"`
}

// HeartbeatEvent is an optional distraction signal riding on a heartbeat
type HeartbeatEvent struct {
	Kind     models.EventKind
	Metadata models.Metadata
}

// HeartbeatRequest defines inputs for one liveness report
type HeartbeatRequest struct {
	UserID    uuid.UUID
	Idle      bool
	TabHidden bool
	Event     *HeartbeatEvent
}

// HeartbeatResult reports whether a session is open and whether the
// cadence filter swallowed this call
type HeartbeatResult struct {
	Active     bool `json:"active"`
	Ignored    bool `json:"ignored"`
	GapFlagged bool `json:"gap_flagged"`
}

// EndRequest defines inputs for terminating a session
type EndRequest struct {
	UserID  uuid.UUID
	Outcome models.SessionStatus // completed or abandoned
	Boosted bool
}

// EndResult carries the authoritative outcome of a finished session
type EndResult struct {
	SessionID     uuid.UUID            `json:"session_id"`
	Outcome       models.SessionStatus `json:"outcome"`
	ActualMinutes int                  `json:"actual_minutes"`
	ScoreDelta    int                  `json:"score_delta"`
	TotalXP       int                  `json:"total_xp"`
}

// Start opens a session for the user. An existing live session is
// overwritten: its ephemeral tracking is discarded, but the orphaned
// durable row is first closed out as abandoned with a zero delta so
// no in_progress row outlives its tracking.
func (s *SessionService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.PlannedMinutes <= 0 {
		return nil, errors.InvalidInput("planned_minutes must be positive")
	}

	unlock := s.lockUser(req.UserID)
	defer unlock()

	now := s.now()

	baseline, err := s.ledger.GetUserXP(ctx, req.UserID)
	if err != nil {
		return nil, errors.StoreUnavailable("durable", err)
	}

	if prior, err := s.ledger.FindInProgress(ctx, req.UserID); err != nil {
		return nil, errors.StoreUnavailable("durable", err)
	} else if prior != nil {
		if err := s.abandonOrphan(ctx, prior, now); err != nil {
			return nil, err
		}
		s.logger.Warn("user %s started a new session over in-progress session %s; prior row abandoned", req.UserID, prior.ID)
	}

	session := models.NewSession(req.UserID, req.PlannedMinutes, req.MentalState, req.TaskLabel, baseline)
	session.StartedAt = now
	if err := s.ledger.InsertSession(ctx, session); err != nil {
		return nil, errors.StoreUnavailable("durable", err)
	}

	state := &models.ActiveSession{
		SessionID:       session.ID,
		UserID:          req.UserID,
		MentalState:     session.MentalState,
		TaskLabel:       req.TaskLabel,
		PlannedMinutes:  req.PlannedMinutes,
		XPBaseline:      baseline,
		StartedAt:       now,
		LastHeartbeatAt: now,
	}
	if err := s.ephemeral.Put(ctx, state); err != nil {
		// The durable row stays in_progress; the next start closes it out.
		return nil, errors.StoreUnavailable("ephemeral", err)
	}

	s.logger.Info("session %s started for user %s (%d min planned, state=%s)", session.ID, req.UserID, req.PlannedMinutes, session.MentalState)

	return &StartResult{
		SessionID:  session.ID,
		StartedAt:  now,
		XPBaseline: baseline,
	}, nil
}

// Heartbeat processes one liveness report. A missing live session is a
// no-op success, not an error: the client may race the end of a prior
// session. Cadence violations never fail the call.
func (s *SessionService) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResult, error) {
	unlock := s.lockUser(req.UserID)
	defer unlock()

	state, err := s.ephemeral.Get(ctx, req.UserID)
	if err != nil {
		return nil, errors.StoreUnavailable("ephemeral", err)
	}
	if state == nil {
		return &HeartbeatResult{Active: false}, nil
	}

	now := s.now()
	// Drift is measured against the stored timestamp, never a
	// client-supplied one, so duplicate or out-of-order delivery cannot
	// corrupt counters beyond one extra ignored call.
	drift := now.Sub(state.LastHeartbeatAt)

	if drift < s.heartbeat.MinInterval {
		s.logger.Debug("heartbeat ignored for user %s: drift %v below min interval", req.UserID, drift)
		return &HeartbeatResult{Active: true, Ignored: true}, nil
	}

	flagged := false
	if drift > s.heartbeat.MaxGap {
		// Advisory only. Device sleep and background-tab throttling are
		// indistinguishable from tampering at this layer.
		flagged = true
		s.logger.Warn("heartbeat gap %v exceeds %v for user %s session %s; suspected suspension or tamper", drift, s.heartbeat.MaxGap, req.UserID, state.SessionID)
	}

	mut := ports.HeartbeatMutation{AdvanceHeartbeatTo: now}
	if req.Idle {
		mut.AddIdleSeconds = int(s.heartbeat.ExpectedInterval.Seconds())
	}
	if req.TabHidden {
		s.logger.Trace("heartbeat from hidden tab for user %s", req.UserID)
	}
	if req.Event != nil {
		mut.AppendEvent = &models.DistractionEvent{
			SessionID:  state.SessionID,
			Kind:       req.Event.Kind,
			OccurredAt: now,
			Metadata:   req.Event.Metadata,
		}
		if req.Event.Kind.CountsAsDistraction() {
			mut.AddDistractions = 1
			if req.Event.Kind == models.EventTabSwitch {
				mut.AddTabSwitches = 1
			}
		}
	}

	applied, err := s.ephemeral.ApplyHeartbeat(ctx, req.UserID, mut)
	if err != nil {
		return nil, errors.StoreUnavailable("ephemeral", err)
	}
	if !applied {
		// The record vanished between read and write: the session ended.
		return &HeartbeatResult{Active: false}, nil
	}

	return &HeartbeatResult{Active: true, GapFlagged: flagged}, nil
}

// End terminates the user's session, computes the authoritative score
// from the ephemeral record's own clock, and commits the durable
// record. The ephemeral state is deleted only after the durable commit
// succeeds, so a failed commit leaves the call safely retryable.
func (s *SessionService) End(ctx context.Context, req EndRequest) (*EndResult, error) {
	if req.Outcome != models.SessionCompleted && req.Outcome != models.SessionAbandoned {
		return nil, errors.InvalidInput("outcome must be completed or abandoned")
	}

	unlock := s.lockUser(req.UserID)
	defer unlock()

	state, err := s.ephemeral.Get(ctx, req.UserID)
	if err != nil {
		return nil, errors.StoreUnavailable("ephemeral", err)
	}
	if state == nil {
		return nil, errors.NoActiveSession(req.UserID.String())
	}

	now := s.now()
	// The server clock on the stored start time is authoritative,
	// regardless of what the client believes elapsed.
	actualMinutes := int(math.Round(now.Sub(state.StartedAt).Minutes()))

	delta := scoring.Score(scoring.Input{
		DurationMinutes:  actualMinutes,
		MentalState:      state.MentalState,
		DistractionCount: state.DistractionCount,
		Boosted:          req.Boosted,
		Completed:        req.Outcome == models.SessionCompleted,
	}, s.scoring)

	events, err := s.ephemeral.Events(ctx, state.SessionID)
	if err != nil {
		return nil, errors.StoreUnavailable("ephemeral", err)
	}

	total, err := s.ledger.FinalizeSession(ctx, state.SessionID, req.UserID, ports.SessionFinalization{
		Status:           req.Outcome,
		EndedAt:          now,
		ActualMinutes:    actualMinutes,
		DistractionCount: state.DistractionCount,
		IdleSeconds:      state.IdleSeconds,
		TabSwitchCount:   state.TabSwitchCount,
		ScoreDelta:       delta,
		Boosted:          req.Boosted,
		Events:           events,
		Day:              localDay(state.StartedAt),
	})
	if err != nil {
		// Ephemeral state retained on purpose: the scoring inputs are
		// unchanged, so a retry commits the identical result.
		return nil, errors.PersistenceFailure(err)
	}

	if err := s.ephemeral.Delete(ctx, req.UserID, state.SessionID); err != nil {
		// The durable record already won; a stale ephemeral record is
		// closed out by the next start's overwrite.
		s.logger.Error("failed to clear ephemeral state for user %s session %s: %v", req.UserID, state.SessionID, err)
	}

	s.logger.Info("session %s ended %s for user %s: %d min, %d distractions, delta %d, total %d", state.SessionID, req.Outcome, req.UserID, actualMinutes, state.DistractionCount, delta, total)

	return &EndResult{
		SessionID:     state.SessionID,
		Outcome:       req.Outcome,
		ActualMinutes: actualMinutes,
		ScoreDelta:    delta,
		TotalXP:       total,
	}, nil
}

// Active returns the user's live session record, or nil
func (s *SessionService) Active(ctx context.Context, userID uuid.UUID) (*models.ActiveSession, error) {
	state, err := s.ephemeral.Get(ctx, userID)
	if err != nil {
		return nil, errors.StoreUnavailable("ephemeral", err)
	}
	return state, nil
}

// History returns the user's finalized sessions, newest first
func (s *SessionService) History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error) {
	sessions, err := s.ledger.ListFinalized(ctx, userID, limit)
	if err != nil {
		return nil, errors.StoreUnavailable("durable", err)
	}
	return sessions, nil
}

// DailyStats returns the user's daily rollups for the trailing window
func (s *SessionService) DailyStats(ctx context.Context, userID uuid.UUID, days int) ([]*models.DailyAggregate, error) {
	aggregates, err := s.ledger.ListDailyAggregates(ctx, userID, days)
	if err != nil {
		return nil, errors.StoreUnavailable("durable", err)
	}
	return aggregates, nil
}

// abandonOrphan closes out a durable in_progress row whose ephemeral
// tracking was lost or is about to be overwritten. Counters are
// whatever the row holds (zero) and the delta is zero: without its
// ephemeral record the session's telemetry is gone.
func (s *SessionService) abandonOrphan(ctx context.Context, prior *models.Session, now time.Time) error {
	minutes := int(math.Round(now.Sub(prior.StartedAt).Minutes()))
	_, err := s.ledger.FinalizeSession(ctx, prior.ID, prior.UserID, ports.SessionFinalization{
		Status:        models.SessionAbandoned,
		EndedAt:       now,
		ActualMinutes: minutes,
		ScoreDelta:    0,
		Day:           localDay(prior.StartedAt),
	})
	if err != nil {
		return errors.PersistenceFailure(err)
	}
	return nil
}

func (s *SessionService) lockUser(userID uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// localDay truncates a timestamp to its local calendar date
func localDay(t time.Time) time.Time {
	local := t.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
}
