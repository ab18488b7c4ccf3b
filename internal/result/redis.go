package result

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"triggerd/internal/serialization"
)

// RedisBackend keeps each trigger's fire history in a capped Redis list,
// newest first. The list's TTL is refreshed on every write: a failure extends
// retention so operators can still see what went wrong after the successes
// have aged out.
type RedisBackend struct {
	client     *redis.Client
	codec      *serialization.Codec
	successTTL time.Duration
	failureTTL time.Duration
	maxRecords int64
}

// NewRedisBackend creates a Redis-backed fire history
func NewRedisBackend(client *redis.Client, successTTL, failureTTL time.Duration, maxRecords int) *RedisBackend {
	if maxRecords <= 0 {
		maxRecords = 50
	}
	return &RedisBackend{
		client:     client,
		codec:      serialization.NewJSONCodec(),
		successTTL: successTTL,
		failureTTL: failureTTL,
		maxRecords: int64(maxRecords),
	}
}

func (r *RedisBackend) historyKey(triggerID string) string {
	return fmt.Sprintf("triggerd:history:%s", triggerID)
}

// Record appends a fire record and trims the history to its cap
func (r *RedisBackend) Record(ctx context.Context, rec *FireRecord) error {
	data, err := r.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode fire record: %w", err)
	}

	ttl := r.successTTL
	if !rec.Success {
		ttl = r.failureTTL
	}

	key := r.historyKey(rec.TriggerID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.maxRecords-1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store fire record: %w", err)
	}

	return nil
}

// History returns the most recent fire records, newest first
func (r *RedisBackend) History(ctx context.Context, triggerID string, limit int) ([]*FireRecord, error) {
	if limit <= 0 || int64(limit) > r.maxRecords {
		limit = int(r.maxRecords)
	}

	raw, err := r.client.LRange(ctx, r.historyKey(triggerID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load fire history: %w", err)
	}

	records := make([]*FireRecord, 0, len(raw))
	for _, item := range raw {
		var rec FireRecord
		if err := r.codec.Decode([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode fire record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Close is a no-op; the Redis client is owned by the caller
func (r *RedisBackend) Close() error {
	return nil
}
