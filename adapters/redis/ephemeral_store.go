package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	activeKeyPrefix = "session:active:"
	eventsKeyPrefix = "session:events:"
)

// heartbeatScript applies one heartbeat's compound mutation atomically:
// timestamp advance, counter increments, and event append happen in a
// single server-side step, or not at all when the record is gone.
var heartbeatScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'last_heartbeat_at', ARGV[1])
if tonumber(ARGV[2]) > 0 then
	redis.call('HINCRBY', KEYS[1], 'idle_seconds', ARGV[2])
end
if tonumber(ARGV[3]) > 0 then
	redis.call('HINCRBY', KEYS[1], 'distraction_count', ARGV[3])
end
if tonumber(ARGV[4]) > 0 then
	redis.call('HINCRBY', KEYS[1], 'tab_switch_count', ARGV[4])
end
if ARGV[5] ~= '' then
	redis.call('RPUSH', KEYS[2], ARGV[5])
end
return 1
`)

// EphemeralStore implements the live-session cache on Redis. The hash
// per user is the keyed singleton behind "one active session per user";
// any service instance sharing this Redis serves any user's calls.
type EphemeralStore struct {
	client *redis.Client
}

// New creates a Redis-backed ephemeral store
func New(client *redis.Client) *EphemeralStore {
	return &EphemeralStore{client: client}
}

var _ ports.EphemeralStore = (*EphemeralStore)(nil)

func activeKey(userID uuid.UUID) string    { return activeKeyPrefix + userID.String() }
func eventsKey(sessionID uuid.UUID) string { return eventsKeyPrefix + sessionID.String() }

// Put creates or silently overwrites the user's record and clears the
// event ledger of the session it tracks
func (s *EphemeralStore) Put(ctx context.Context, state *models.ActiveSession) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, activeKey(state.UserID), eventsKey(state.SessionID))
	pipe.HSet(ctx, activeKey(state.UserID), map[string]interface{}{
		"session_id":        state.SessionID.String(),
		"user_id":           state.UserID.String(),
		"mental_state":      string(state.MentalState),
		"task_label":        state.TaskLabel,
		"planned_minutes":   state.PlannedMinutes,
		"xp_baseline":       state.XPBaseline,
		"distraction_count": state.DistractionCount,
		"idle_seconds":      state.IdleSeconds,
		"tab_switch_count":  state.TabSwitchCount,
		"started_at":        state.StartedAt.Format(time.RFC3339Nano),
		"last_heartbeat_at": state.LastHeartbeatAt.Format(time.RFC3339Nano),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the user's record, or nil when no session is open
func (s *EphemeralStore) Get(ctx context.Context, userID uuid.UUID) (*models.ActiveSession, error) {
	fields, err := s.client.HGetAll(ctx, activeKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseActiveSession(fields)
}

// ApplyHeartbeat runs the compound mutation script. Returns false when
// the record no longer exists.
func (s *EphemeralStore) ApplyHeartbeat(ctx context.Context, userID uuid.UUID, mut ports.HeartbeatMutation) (bool, error) {
	eventArg := ""
	eventsKeyArg := eventsKeyPrefix + "none"
	if mut.AppendEvent != nil {
		payload, err := json.Marshal(mut.AppendEvent)
		if err != nil {
			return false, err
		}
		eventArg = string(payload)
		eventsKeyArg = eventsKey(mut.AppendEvent.SessionID)
	}

	applied, err := heartbeatScript.Run(ctx, s.client,
		[]string{activeKey(userID), eventsKeyArg},
		mut.AdvanceHeartbeatTo.Format(time.RFC3339Nano),
		mut.AddIdleSeconds,
		mut.AddDistractions,
		mut.AddTabSwitches,
		eventArg,
	).Int()
	if err != nil {
		return false, err
	}
	return applied == 1, nil
}

// Events returns the session's event ledger in arrival order
func (s *EphemeralStore) Events(ctx context.Context, sessionID uuid.UUID) ([]models.DistractionEvent, error) {
	raw, err := s.client.LRange(ctx, eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.DistractionEvent, 0, len(raw))
	for i, item := range raw {
		var event models.DistractionEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("corrupt event at position %d for session %s: %w", i, sessionID, err)
		}
		event.Seq = i
		events = append(events, event)
	}
	return events, nil
}

// Delete removes the user's record and its event ledger
func (s *EphemeralStore) Delete(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error {
	return s.client.Del(ctx, activeKey(userID), eventsKey(sessionID)).Err()
}

func parseActiveSession(fields map[string]string) (*models.ActiveSession, error) {
	sessionID, err := uuid.Parse(fields["session_id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt session_id field: %w", err)
	}
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt user_id field: %w", err)
	}
	startedAt, err := time.Parse(time.RFC3339Nano, fields["started_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt started_at field: %w", err)
	}
	lastHeartbeatAt, err := time.Parse(time.RFC3339Nano, fields["last_heartbeat_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt last_heartbeat_at field: %w", err)
	}

	return &models.ActiveSession{
		SessionID:        sessionID,
		UserID:           userID,
		MentalState:      models.MentalState(fields["mental_state"]),
		TaskLabel:        fields["task_label"],
		PlannedMinutes:   atoi(fields["planned_minutes"]),
		XPBaseline:       atoi(fields["xp_baseline"]),
		DistractionCount: atoi(fields["distraction_count"]),
		IdleSeconds:      atoi(fields["idle_seconds"]),
		TabSwitchCount:   atoi(fields["tab_switch_count"]),
		StartedAt:        startedAt,
		LastHeartbeatAt:  lastHeartbeatAt,
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
