package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ---------------------------------------------------------------------------
// redis_store.go — Redis-backed ThreatResponseStore.
//
// Records are JSON blobs under aegis:response:<id> with an index sorted
// set for listing. Update is a plain SET, which makes it the idempotent
// upsert the orchestrator requires. Retention is a TTL: the record is
// retained for audit/rollback until it expires.
// ---------------------------------------------------------------------------

const (
	redisResponseKeyPrefix = "aegis:response:"
	redisResponseIndexKey  = "aegis:responses:index"
)

// RedisResponseStore persists responses in Redis.
type RedisResponseStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisResponseStore creates a store. A zero retention keeps records
// until an external policy removes them.
func NewRedisResponseStore(client *redis.Client, retention time.Duration) *RedisResponseStore {
	return &RedisResponseStore{client: client, retention: retention}
}

func (s *RedisResponseStore) write(ctx context.Context, resp *ThreatResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response %s: %w", resp.ResponseID, err)
	}
	if err := s.client.Set(ctx, redisResponseKeyPrefix+resp.ResponseID, data, s.retention).Err(); err != nil {
		return fmt.Errorf("writing response %s: %w", resp.ResponseID, err)
	}
	if err := s.client.ZAdd(ctx, redisResponseIndexKey, &redis.Z{
		Score:  float64(resp.CreatedAt.Unix()),
		Member: resp.ResponseID,
	}).Err(); err != nil {
		return fmt.Errorf("indexing response %s: %w", resp.ResponseID, err)
	}
	return nil
}

func (s *RedisResponseStore) Insert(ctx context.Context, resp *ThreatResponse) error {
	return s.write(ctx, resp)
}

// Update is an idempotent upsert: re-writing the same id and status is safe.
func (s *RedisResponseStore) Update(ctx context.Context, resp *ThreatResponse) error {
	return s.write(ctx, resp)
}

func (s *RedisResponseStore) Find(ctx context.Context, responseID string) (*ThreatResponse, error) {
	data, err := s.client.Get(ctx, redisResponseKeyPrefix+responseID).Bytes()
	if err == redis.Nil {
		return nil, ErrResponseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading response %s: %w", responseID, err)
	}
	var resp ThreatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding response %s: %w", responseID, err)
	}
	return &resp, nil
}

func (s *RedisResponseStore) List(ctx context.Context, limit int) ([]*ThreatResponse, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, redisResponseIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing responses: %w", err)
	}

	out := make([]*ThreatResponse, 0, len(ids))
	for _, id := range ids {
		resp, err := s.Find(ctx, id)
		if err == ErrResponseNotFound {
			// Expired record still in the index; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}
