package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flight-price-alerts/internal/config"
)

// RedisStore keeps slots as Redis strings with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and pings Redis. Slots expire after ttl; 0 disables expiry.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Put stores value under its slot key, expiring after the configured TTL.
func (r *RedisStore) Put(ctx context.Context, runID, step, slot string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal slot %s/%s: %w", step, slot, err)
	}
	if err := r.client.Set(ctx, Key(runID, step, slot), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set slot %s/%s: %w", step, slot, err)
	}
	return nil
}

// Get decodes a stored slot into dst.
func (r *RedisStore) Get(ctx context.Context, runID, step, slot string, dst any) error {
	data, err := r.client.Get(ctx, Key(runID, step, slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get slot %s/%s: %w", step, slot, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal slot %s/%s: %w", step, slot, err)
	}
	return nil
}

// List scans every slot key of a run.
func (r *RedisStore) List(ctx context.Context, runID string) ([]Slot, error) {
	out := make([]Slot, 0)
	iter := r.client.Scan(ctx, 0, runPrefix(runID)+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		step, slot, ok := parseKey(runID, key)
		if !ok {
			continue
		}
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between scan and get
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get slot %s: %w", key, err)
		}
		out = append(out, Slot{Step: step, Name: slot, Value: data})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan run %s: %w", runID, err)
	}
	sortSlots(out)
	return out, nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
