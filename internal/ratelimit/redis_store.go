package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "orderpulse:rate:"

// RedisKeyedStore backs the rate limiter with a shared Redis instance so that
// limits hold across horizontally scaled connector instances.
type RedisKeyedStore struct {
	client *redis.Client
}

func NewRedisKeyedStore(cfg *config.Config) (*RedisKeyedStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to reach Redis")
		return nil, err
	}

	return &RedisKeyedStore{client: client}, nil
}

func (rs *RedisKeyedStore) Get(ctx context.Context, key string) (string, error) {
	value, err := rs.client.Get(ctx, redisKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		metrics.storeErrorCounter.Inc()
		return "", err
	}

	return value, nil
}

func (rs *RedisKeyedStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	err := rs.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err()
	if err != nil {
		metrics.storeErrorCounter.Inc()
	}
	return err
}

func (rs *RedisKeyedStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd

	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKeyPrefix+key)
		pipe.ExpireNX(ctx, redisKeyPrefix+key, ttl)
		return nil
	})

	if err != nil {
		metrics.storeErrorCounter.Inc()
		return 0, err
	}

	return incr.Val(), nil
}

func (rs *RedisKeyedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := rs.client.TTL(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		metrics.storeErrorCounter.Inc()
		return 0, err
	}
	if ttl < 0 {
		return 0, ErrKeyNotFound
	}

	return ttl, nil
}

func (rs *RedisKeyedStore) Delete(ctx context.Context, key string) error {
	err := rs.client.Del(ctx, redisKeyPrefix+key).Err()
	if err != nil {
		metrics.storeErrorCounter.Inc()
	}
	return err
}

// GC is a no-op.  Redis expires keys on its own.
func (rs *RedisKeyedStore) GC() {
}

func (rs *RedisKeyedStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}
