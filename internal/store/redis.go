// Package store persists triggers in Redis and implements the atomic claim
// protocol that lets any number of dispatcher instances share one store.
package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"triggerd/internal/logger"
	"triggerd/internal/trigger"
)

// Layout in Redis:
//
//	triggerd:trigger:<id>  hash, one field per trigger attribute plus lease bookkeeping
//	triggerd:user:<userId> set of trigger IDs owned by the user
//	triggerd:due           zset of trigger IDs scored by next-fire Unix seconds
//
// The due index is the only thing the dispatcher scans; paused triggers stay
// in it with their preserved score and are rejected by the claim script.

// claimScript is the single conditional write that serializes dispatchers.
// It succeeds only if the trigger is still active, its next-fire instant is
// unchanged since the caller read it, and no other instance holds a live
// lease. On success it installs the lease and pushes the due score out to the
// lease expiry so the trigger self-heals if the claimant crashes mid-fire.
const claimScript = `
if redis.call("exists", KEYS[1]) == 0 then
	return 0
end
if redis.call("hget", KEYS[1], "status") ~= "active" then
	return 0
end
if redis.call("hget", KEYS[1], "next_trigger") ~= ARGV[1] then
	return 0
end
local lease = redis.call("hget", KEYS[1], "lease_until")
if lease and lease ~= "" and tonumber(lease) > tonumber(ARGV[2]) then
	return 0
end
redis.call("hset", KEYS[1], "lease_token", ARGV[3], "lease_until", ARGV[4])
redis.call("zadd", KEYS[2], ARGV[4], ARGV[5])
return 1
`

// RedisStore is the durable trigger store
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	dueKey    string
	log       logger.Logger
}

// New connects to Redis and returns a store, failing fast if the server is
// unreachable
func New(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Redis client (used by tests with miniredis)
func NewWithClient(client *redis.Client) *RedisStore {
	prefix := "triggerd:"
	return &RedisStore{
		client:    client,
		keyPrefix: prefix,
		dueKey:    prefix + "due",
		log:       logger.Default().WithComponent(logger.ComponentStore),
	}
}

// Close releases the underlying Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) triggerKey(id string) string {
	var b strings.Builder
	b.Grow(len(s.keyPrefix) + 8 + len(id))
	b.WriteString(s.keyPrefix)
	b.WriteString("trigger:")
	b.WriteString(id)
	return b.String()
}

func (s *RedisStore) userKey(userID string) string {
	var b strings.Builder
	b.Grow(len(s.keyPrefix) + 5 + len(userID))
	b.WriteString(s.keyPrefix)
	b.WriteString("user:")
	b.WriteString(userID)
	return b.String()
}

// Insert persists a new trigger and indexes it
func (s *RedisStore) Insert(ctx context.Context, t *trigger.Trigger) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.triggerKey(t.ID), triggerToFields(t))
	pipe.SAdd(ctx, s.userKey(t.UserID), t.ID)
	if t.NextTrigger != nil {
		pipe.ZAdd(ctx, s.dueKey, redis.Z{Score: float64(t.NextTrigger.Unix()), Member: t.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert trigger %s: %w", t.ID, err)
	}

	s.log.Debug("Trigger inserted", "trigger_id", t.ID, "user_id", t.UserID)
	return nil
}

// Get loads a trigger by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*trigger.Trigger, error) {
	fields, err := s.client.HGetAll(ctx, s.triggerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, &trigger.NotFoundError{ID: id}
	}
	return fieldsToTrigger(fields)
}

// Update overwrites a trigger's record, refreshes the due index to match its
// next-fire instant, and releases any lease held on it. It is the write the
// dispatcher performs after a fire outcome and the service performs after a
// user mutation.
func (s *RedisStore) Update(ctx context.Context, t *trigger.Trigger) error {
	exists, err := s.client.Exists(ctx, s.triggerKey(t.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check trigger %s: %w", t.ID, err)
	}
	if exists == 0 {
		return &trigger.NotFoundError{ID: t.ID}
	}

	fields := triggerToFields(t)
	fields["lease_token"] = ""
	fields["lease_until"] = ""

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.triggerKey(t.ID), fields)
	if t.NextTrigger != nil {
		pipe.ZAdd(ctx, s.dueKey, redis.Z{Score: float64(t.NextTrigger.Unix()), Member: t.ID})
	} else {
		pipe.ZRem(ctx, s.dueKey, t.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update trigger %s: %w", t.ID, err)
	}

	s.log.Debug("Trigger updated", "trigger_id", t.ID, "status", string(t.Status))
	return nil
}

// Delete hard-deletes a trigger and removes it from every index
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.triggerKey(id))
	pipe.SRem(ctx, s.userKey(t.UserID), id)
	pipe.ZRem(ctx, s.dueKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete trigger %s: %w", id, err)
	}

	s.log.Debug("Trigger deleted", "trigger_id", id)
	return nil
}

// FindByUser returns the user's triggers, optionally filtered by status,
// ordered by next-fire instant ascending with terminal (nil) triggers last
func (s *RedisStore) FindByUser(ctx context.Context, userID string, status *trigger.Status) ([]*trigger.Trigger, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers for user %s: %w", userID, err)
	}

	triggers := make([]*trigger.Trigger, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			if trigger.IsNotFound(err) {
				// Index entry outlived the record; drop it
				s.client.SRem(ctx, s.userKey(userID), id)
				continue
			}
			return nil, err
		}
		if status != nil && t.Status != *status {
			continue
		}
		triggers = append(triggers, t)
	}

	sort.SliceStable(triggers, func(i, j int) bool {
		a, b := triggers[i].NextTrigger, triggers[j].NextTrigger
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})

	return triggers, nil
}

// FindDue returns triggers whose due score is at or before now. Status is
// not filtered here: the claim script is the authority on whether a returned
// trigger may actually fire.
func (s *RedisStore) FindDue(ctx context.Context, now time.Time) ([]*trigger.Trigger, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan due triggers: %w", err)
	}

	due := make([]*trigger.Trigger, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			if trigger.IsNotFound(err) {
				s.client.ZRem(ctx, s.dueKey, id)
				continue
			}
			return nil, err
		}
		due = append(due, t)
	}
	return due, nil
}

// Claim atomically leases a due trigger for one fire. expectedNext must be
// the next-fire instant read when the trigger was discovered; any concurrent
// change (another claim, a pause, a user update) loses the race and returns
// trigger.ErrClaimLost.
func (s *RedisStore) Claim(ctx context.Context, id string, expectedNext time.Time, leaseTTL time.Duration) (string, error) {
	token := uuid.New().String()
	now := time.Now()
	leaseUntil := now.Add(leaseTTL).Unix()

	result, err := s.client.Eval(ctx, claimScript,
		[]string{s.triggerKey(id), s.dueKey},
		formatTime(&expectedNext),
		now.Unix(),
		token,
		leaseUntil,
		id,
	).Result()
	if err != nil {
		return "", fmt.Errorf("claim script failed for trigger %s: %w", id, err)
	}

	if claimed, ok := result.(int64); !ok || claimed != 1 {
		return "", trigger.ErrClaimLost
	}

	s.log.Debug("Trigger claimed", "trigger_id", id, "lease_token", token, "lease_until", leaseUntil)
	return token, nil
}

// Field mapping

func triggerToFields(t *trigger.Trigger) map[string]interface{} {
	return map[string]interface{}{
		"id":                t.ID,
		"user_id":           t.UserID,
		"agent_name":        t.AgentName,
		"payload":           t.Payload,
		"start_time":        formatTime(&t.StartTime),
		"next_trigger":      formatTime(t.NextTrigger),
		"recurrence_rule":   t.RecurrenceRule,
		"timezone":          t.Timezone,
		"status":            string(t.Status),
		"last_error":        t.LastError,
		"execution_count":   strconv.Itoa(t.Metadata.ExecutionCount),
		"last_execution_at": formatTime(t.Metadata.LastExecutionAt),
		"created_by":        t.Metadata.CreatedBy,
		"created_at":        formatTime(&t.CreatedAt),
		"updated_at":        formatTime(&t.UpdatedAt),
	}
}

func fieldsToTrigger(fields map[string]string) (*trigger.Trigger, error) {
	status, err := trigger.ParseStatus(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("corrupt trigger record: %w", err)
	}

	startTime, err := parseTime(fields["start_time"])
	if err != nil {
		return nil, fmt.Errorf("corrupt trigger record: bad start_time: %w", err)
	}

	t := &trigger.Trigger{
		ID:             fields["id"],
		UserID:         fields["user_id"],
		AgentName:      fields["agent_name"],
		Payload:        fields["payload"],
		RecurrenceRule: fields["recurrence_rule"],
		Timezone:       fields["timezone"],
		Status:         status,
		LastError:      fields["last_error"],
	}
	if startTime != nil {
		t.StartTime = *startTime
	}

	if t.NextTrigger, err = parseTime(fields["next_trigger"]); err != nil {
		return nil, fmt.Errorf("corrupt trigger record: bad next_trigger: %w", err)
	}
	if t.Metadata.LastExecutionAt, err = parseTime(fields["last_execution_at"]); err != nil {
		return nil, fmt.Errorf("corrupt trigger record: bad last_execution_at: %w", err)
	}
	if created, err := parseTime(fields["created_at"]); err == nil && created != nil {
		t.CreatedAt = *created
	}
	if updated, err := parseTime(fields["updated_at"]); err == nil && updated != nil {
		t.UpdatedAt = *updated
	}

	if count := fields["execution_count"]; count != "" {
		if t.Metadata.ExecutionCount, err = strconv.Atoi(count); err != nil {
			return nil, fmt.Errorf("corrupt trigger record: bad execution_count: %w", err)
		}
	}
	t.Metadata.CreatedBy = fields["created_by"]

	return t, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
