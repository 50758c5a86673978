package app

import (
	"context"
	"testing"
	"time"

	"deepwork/adapters/memstore"
	"deepwork/domain/scoring"
	"deepwork/internal"
	"deepwork/internal/config"
	"deepwork/internal/errors"
	"deepwork/internal/testkit"
	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func defaultHeartbeatConfig() config.HeartbeatConfig {
	return config.HeartbeatConfig{
		MinInterval:      3 * time.Second,
		MaxGap:           60 * time.Second,
		ExpectedInterval: 5 * time.Second,
	}
}

func newTestService(ledger ports.SessionLedger) (*SessionService, *memstore.EphemeralStore, *fakeClock) {
	store := memstore.New()
	clock := newFakeClock()
	svc := NewSessionService(ledger, store, defaultHeartbeatConfig(), scoring.DefaultConfig(), internal.NewLogger(internal.LogLevelError))
	svc.now = clock.Now
	return svc, store, clock
}

func startSession(t *testing.T, svc *SessionService, userID uuid.UUID, minutes int, state models.MentalState) *StartResult {
	t.Helper()
	result, err := svc.Start(context.Background(), StartRequest{
		UserID:         userID,
		PlannedMinutes: minutes,
		MentalState:    state,
		TaskLabel:      "write design doc",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return result
}

func TestStart_CreatesDurableRowAndEphemeralState(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, store, _ := newTestService(ledger)
	userID := uuid.New()
	ledger.SetXP(userID, 120)

	result := startSession(t, svc, userID, 25, models.MentalStateFlow)

	assert.Equal(t, 120, result.XPBaseline)

	row := ledger.Session(result.SessionID)
	if assert.NotNil(t, row) {
		assert.Equal(t, models.SessionInProgress, row.Status)
		assert.Equal(t, models.MentalStateFlow, row.MentalState)
		assert.Equal(t, 25, row.PlannedMinutes)
	}

	state, err := store.Get(context.Background(), userID)
	assert.NoError(t, err)
	if assert.NotNil(t, state) {
		assert.Equal(t, result.SessionID, state.SessionID)
		assert.Equal(t, result.StartedAt, state.LastHeartbeatAt)
		assert.Zero(t, state.DistractionCount)
	}
}

func TestStart_RejectsNonPositiveDuration(t *testing.T) {
	svc, _, _ := newTestService(testkit.NewMemLedger())

	_, err := svc.Start(context.Background(), StartRequest{UserID: uuid.New(), PlannedMinutes: 0})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestStart_AbandonsOrphanedDurableRow(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, store, clock := newTestService(ledger)
	userID := uuid.New()

	first := startSession(t, svc, userID, 25, models.MentalStateNeutral)

	// Ephemeral tracking lost (instance crash, cache eviction), durable
	// row left in_progress.
	if err := store.Delete(context.Background(), userID, first.SessionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	clock.Advance(10 * time.Minute)
	second := startSession(t, svc, userID, 50, models.MentalStateTired)

	orphan := ledger.Session(first.SessionID)
	if assert.NotNil(t, orphan) {
		assert.Equal(t, models.SessionAbandoned, orphan.Status)
		assert.Zero(t, orphan.ScoreDelta)
		assert.Equal(t, 10, orphan.ActualMinutes)
	}
	assert.Equal(t, models.SessionInProgress, ledger.Session(second.SessionID).Status)
}

func TestHeartbeat_NoActiveSessionIsNoOpSuccess(t *testing.T) {
	svc, _, _ := newTestService(testkit.NewMemLedger())

	result, err := svc.Heartbeat(context.Background(), HeartbeatRequest{UserID: uuid.New()})
	assert.NoError(t, err)
	assert.False(t, result.Active)
	assert.False(t, result.Ignored)
}

func TestHeartbeat_MinIntervalDuplicateIgnored(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, store, clock := newTestService(ledger)
	userID := uuid.New()
	startSession(t, svc, userID, 25, models.MentalStateNeutral)

	clock.Advance(5 * time.Second)
	first, err := svc.Heartbeat(context.Background(), HeartbeatRequest{
		UserID: userID,
		Event:  &HeartbeatEvent{Kind: models.EventDistraction},
	})
	assert.NoError(t, err)
	assert.False(t, first.Ignored)

	// Network retry lands one second later carrying the same event
	clock.Advance(1 * time.Second)
	second, err := svc.Heartbeat(context.Background(), HeartbeatRequest{
		UserID: userID,
		Idle:   true,
		Event:  &HeartbeatEvent{Kind: models.EventDistraction},
	})
	assert.NoError(t, err)
	assert.True(t, second.Active)
	assert.True(t, second.Ignored)

	state, _ := store.Get(context.Background(), userID)
	assert.Equal(t, 1, state.DistractionCount)
	assert.Zero(t, state.IdleSeconds)
	// The ignored call must not advance the stored timestamp either
	assert.Equal(t, clock.Now().Add(-1*time.Second), state.LastHeartbeatAt)
}

func TestHeartbeat_AccumulatesTelemetry(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, store, clock := newTestService(ledger)
	userID := uuid.New()
	started := startSession(t, svc, userID, 25, models.MentalStateNeutral)

	clock.Advance(5 * time.Second)
	_, err := svc.Heartbeat(context.Background(), HeartbeatRequest{
		UserID: userID,
		Event:  &HeartbeatEvent{Kind: models.EventTabSwitch, Metadata: models.Metadata{"to": "news site"}},
	})
	assert.NoError(t, err)

	clock.Advance(5 * time.Second)
	_, err = svc.Heartbeat(context.Background(), HeartbeatRequest{
		UserID: userID,
		Idle:   true,
		Event:  &HeartbeatEvent{Kind: models.EventDistraction},
	})
	assert.NoError(t, err)

	clock.Advance(5 * time.Second)
	_, err = svc.Heartbeat(context.Background(), HeartbeatRequest{
		UserID: userID,
		Event:  &HeartbeatEvent{Kind: models.EventWindowBlur},
	})
	assert.NoError(t, err)

	state, _ := store.Get(context.Background(), userID)
	assert.Equal(t, 2, state.DistractionCount) // window_blur is recorded but not charged
	assert.Equal(t, 1, state.TabSwitchCount)
	assert.Equal(t, 5, state.IdleSeconds)

	events, _ := store.Events(context.Background(), started.SessionID)
	if assert.Len(t, events, 3) {
		assert.Equal(t, models.EventTabSwitch, events[0].Kind)
		assert.Equal(t, models.EventDistraction, events[1].Kind)
		assert.Equal(t, models.EventWindowBlur, events[2].Kind)
		for i, event := range events {
			assert.Equal(t, i, event.Seq)
		}
	}
}

func TestHeartbeat_LargeGapFlaggedButAccepted(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, store, clock := newTestService(ledger)
	userID := uuid.New()
	startSession(t, svc, userID, 25, models.MentalStateNeutral)

	// Laptop lid closed for three minutes
	clock.Advance(3 * time.Minute)
	result, err := svc.Heartbeat(context.Background(), HeartbeatRequest{UserID: userID, Idle: true})
	assert.NoError(t, err)
	assert.True(t, result.Active)
	assert.True(t, result.GapFlagged)
	assert.False(t, result.Ignored)

	state, _ := store.Get(context.Background(), userID)
	assert.Equal(t, 5, state.IdleSeconds)
	assert.Equal(t, clock.Now(), state.LastHeartbeatAt)
}

func TestEnd_NoActiveSessionIsHardError(t *testing.T) {
	svc, _, _ := newTestService(testkit.NewMemLedger())

	_, err := svc.End(context.Background(), EndRequest{UserID: uuid.New(), Outcome: models.SessionCompleted})
	assert.True(t, errors.HasCode(err, errors.CodeNoActiveSession))
}

func TestEnd_CompletedCommitsAuthoritativeScore(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, _, clock := newTestService(ledger)
	userID := uuid.New()
	started := startSession(t, svc, userID, 25, models.MentalStateNeutral)

	clock.Advance(25 * time.Minute)
	result, err := svc.End(context.Background(), EndRequest{UserID: userID, Outcome: models.SessionCompleted})
	assert.NoError(t, err)
	assert.Equal(t, 25, result.ActualMinutes)
	assert.Equal(t, 300, result.ScoreDelta) // 25*10 + 50
	assert.Equal(t, 300, result.TotalXP)

	row := ledger.Session(started.SessionID)
	assert.Equal(t, models.SessionCompleted, row.Status)
	assert.Equal(t, 300, row.ScoreDelta)
	assert.NotNil(t, row.EndedAt)

	agg := ledger.Aggregate(userID, started.StartedAt)
	if assert.NotNil(t, agg) {
		assert.Equal(t, 25, agg.TotalFocusMinutes)
		assert.Equal(t, 1, agg.SessionsCompleted)
	}

	// Termination clears ephemeral state: the next heartbeat reports
	// no active session.
	hb, err := svc.Heartbeat(context.Background(), HeartbeatRequest{UserID: userID})
	assert.NoError(t, err)
	assert.False(t, hb.Active)
}

func TestEnd_AbandonedSkipsCompletionBonus(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, _, clock := newTestService(ledger)
	userID := uuid.New()
	startSession(t, svc, userID, 25, models.MentalStateNeutral)

	clock.Advance(10 * time.Minute)
	result, err := svc.End(context.Background(), EndRequest{UserID: userID, Outcome: models.SessionAbandoned})
	assert.NoError(t, err)
	assert.Equal(t, 100, result.ScoreDelta)

	agg := ledger.Aggregate(userID, clock.Now())
	if assert.NotNil(t, agg) {
		assert.Zero(t, agg.SessionsCompleted)
		assert.Equal(t, 10, agg.TotalFocusMinutes)
	}
}

func TestEnd_ImmediateAbandonScoresZero(t *testing.T) {
	svc, _, _ := newTestService(testkit.NewMemLedger())
	userID := uuid.New()
	startSession(t, svc, userID, 25, models.MentalStateNeutral)

	result, err := svc.End(context.Background(), EndRequest{UserID: userID, Outcome: models.SessionAbandoned})
	assert.NoError(t, err)
	assert.Zero(t, result.ActualMinutes)
	assert.Zero(t, result.ScoreDelta)
}

func TestEnd_BoostedFlatPenalty(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, _, clock := newTestService(ledger)
	userID := uuid.New()
	ledger.SetXP(userID, 40)
	startSession(t, svc, userID, 50, models.MentalStateFlow)

	clock.Advance(45 * time.Minute)
	result, err := svc.End(context.Background(), EndRequest{UserID: userID, Outcome: models.SessionCompleted, Boosted: true})
	assert.NoError(t, err)
	assert.Equal(t, -10, result.ScoreDelta)
	assert.Equal(t, 30, result.TotalXP)
}

func TestEnd_CumulativeScoreFlooredAtZero(t *testing.T) {
	ledger := testkit.NewMemLedger()
	svc, _, clock := newTestService(ledger)
	userID := uuid.New()
	ledger.SetXP(userID, 5)
	started := startSession(t, svc, userID, 25, models.MentalStateNeutral)

	clock.Advance(1 * time.Minute)
	for i := 0; i < 10; i++ {
		_, err := svc.Heartbeat(context.Background(), HeartbeatRequest{
			UserID: userID,
			Event:  &HeartbeatEvent{Kind: models.EventDistraction},
		})
		assert.NoError(t, err)
		clock.Advance(5 * time.Second)
	}

	result, err := svc.End(context.Background(), EndRequest{UserID: userID, Outcome: models.SessionAbandoned})
	assert.NoError(t, err)
	assert.Negative(t, result.ScoreDelta)
	assert.Zero(t, result.TotalXP)

	// The delta itself stays exact on the row; only the total is floored
	assert.Equal(t, result.ScoreDelta, ledger.Session(started.SessionID).ScoreDelta)
}

// MockSessionLedger is a testify mock for failure injection
type MockSessionLedger struct {
	mock.Mock
}

func (m *MockSessionLedger) InsertSession(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionLedger) FinalizeSession(ctx context.Context, sessionID, userID uuid.UUID, fin ports.SessionFinalization) (int, error) {
	args := m.Called(ctx, sessionID, userID, fin)
	return args.Int(0), args.Error(1)
}

func (m *MockSessionLedger) FindInProgress(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, userID)
	if session := args.Get(0); session != nil {
		return session.(*models.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionLedger) ListFinalized(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error) {
	args := m.Called(ctx, userID, limit)
	return nil, args.Error(1)
}

func (m *MockSessionLedger) ListDailyAggregates(ctx context.Context, userID uuid.UUID, days int) ([]*models.DailyAggregate, error) {
	args := m.Called(ctx, userID, days)
	return nil, args.Error(1)
}

func (m *MockSessionLedger) GetUserXP(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func TestEnd_PersistenceFailureRetainsEphemeralState(t *testing.T) {
	ledger := new(MockSessionLedger)
	svc, store, clock := newTestService(ledger)
	userID := uuid.New()

	ledger.On("GetUserXP", mock.Anything, userID).Return(0, nil)
	ledger.On("FindInProgress", mock.Anything, userID).Return(nil, nil)
	ledger.On("InsertSession", mock.Anything, mock.Anything).Return(nil)
	startSession(t, svc, userID, 25, models.MentalStateNeutral)

	clock.Advance(25 * time.Minute)

	dbDown := assert.AnError
	ledger.On("FinalizeSession", mock.Anything, mock.Anything, userID, mock.Anything).Return(0, dbDown).Once()

	_, err := svc.End(context.Background(), EndRequest{UserID: userID, Outcome: models.SessionCompleted})
	assert.True(t, errors.HasCode(err, errors.CodePersistenceFailure))

	// Ephemeral state survives a failed durable commit
	state, storeErr := store.Get(context.Background(), userID)
	assert.NoError(t, storeErr)
	assert.NotNil(t, state)

	// The retry commits the identical finalization and wins
	ledger.On("FinalizeSession", mock.Anything, mock.Anything, userID, mock.MatchedBy(func(fin ports.SessionFinalization) bool {
		return fin.ScoreDelta == 300 && fin.ActualMinutes == 25 && fin.Status == models.SessionCompleted
	})).Return(300, nil).Once()

	result, err := svc.End(context.Background(), EndRequest{UserID: userID, Outcome: models.SessionCompleted})
	assert.NoError(t, err)
	assert.Equal(t, 300, result.ScoreDelta)

	state, _ = store.Get(context.Background(), userID)
	assert.Nil(t, state)

	ledger.AssertExpectations(t)
}
