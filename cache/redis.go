package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/commission-engine/paymentplan"
)

// keyPrefix namespaces every hash this cache writes.
const keyPrefix = "payplan:dashboard:"

// Redis keeps one hash per agency: field = dashboard key, value = JSON
// aggregate. Invalidate deletes the hash, so one DEL drops every variant
// (as_of, days, top) of an agency's dashboard.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// ConnectRedis dials addr and pings it. An empty addr or a failed ping returns
// nil and logs why, leaving the caller to run without a shared cache.
func ConnectRedis(ctx context.Context, addr string, ttl time.Duration, logger *slog.Logger) *Redis {
	if addr == "" {
		logger.Warn("redis address not set, using in-process dashboard cache")
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Error("failed to connect to redis", "addr", addr, "error", err)
		client.Close()
		return nil
	}

	logger.Info("connected to redis", "addr", addr)
	return NewRedis(client, ttl)
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func hashKey(agencyID paymentplan.AgencyID) string {
	return keyPrefix + string(agencyID)
}

func (r *Redis) Get(ctx context.Context, agencyID paymentplan.AgencyID, key string) (paymentplan.AgencyAggregate, bool, error) {
	var agg paymentplan.AgencyAggregate
	raw, err := r.client.HGet(ctx, hashKey(agencyID), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return agg, false, nil
	}
	if err != nil {
		return agg, false, fmt.Errorf("redis hget: %w", err)
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return agg, false, fmt.Errorf("decode cached dashboard: %w", err)
	}
	return agg, true, nil
}

func (r *Redis) Set(ctx context.Context, agencyID paymentplan.AgencyID, key string, agg paymentplan.AgencyAggregate) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode dashboard: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, hashKey(agencyID), key, raw)
	if r.ttl > 0 {
		pipe.Expire(ctx, hashKey(agencyID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, agencyID paymentplan.AgencyID) error {
	if err := r.client.Del(ctx, hashKey(agencyID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
