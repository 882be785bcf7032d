// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/vigil/internal/models"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr        string        `koanf:"addr"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	KeyPrefix   string        `koanf:"key_prefix"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	IOTimeout   time.Duration `koanf:"io_timeout"`
}

// DefaultRedisConfig returns defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "127.0.0.1:6379",
		KeyPrefix:   "vigil:rl:",
		DialTimeout: 5 * time.Second,
		IOTimeout:   3 * time.Second,
	}
}

// incrementScript resets the hash on window rollover, increments the count
// and refreshes the expiry unless the record carries a bypass override.
var incrementScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'window_start')
if cur ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'window_start', ARGV[1], 'count', 0, 'type', ARGV[3], 'source', ARGV[4])
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
local bypass = redis.call('HGET', KEYS[1], 'bypass')
if bypass == '1' then
  return {count, 1}
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {count, 0}
`)

// RedisBackend keeps window records in Redis hashes so that several engine
// instances share one budget per (type, source) pair.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultRedisConfig().Addr
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.IOTimeout,
		WriteTimeout: cfg.IOTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisBackendWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// Close closes the Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

func redisErr(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", models.ErrTransientStore, op, err)
}

// Increment implements Backend.
func (b *RedisBackend) Increment(ctx context.Context, rec models.RateLimitRecord, window, retain time.Duration) (*models.RateLimitRecord, error) {
	res, err := incrementScript.Run(ctx, b.client,
		[]string{b.key(rec.Key)},
		strconv.FormatInt(rec.WindowStart.UnixMilli(), 10),
		(window + retain).Milliseconds(),
		string(rec.Type),
		rec.Source,
	).Int64Slice()
	if err != nil {
		return nil, redisErr("increment", err)
	}
	if len(res) != 2 {
		return nil, redisErr("increment", fmt.Errorf("unexpected script reply %v", res))
	}

	out := rec
	out.Count = res[0]
	out.Bypass = res[1] == 1
	return &out, nil
}

// SetBypass implements Backend.
func (b *RedisBackend) SetBypass(ctx context.Context, rec models.RateLimitRecord, bypass bool) error {
	key := b.key(rec.Key)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if bypass {
			pipe.HSet(ctx, key, "bypass", "1", "type", string(rec.Type), "source", rec.Source)
			pipe.Persist(ctx, key)
		} else {
			pipe.HDel(ctx, key, "bypass")
		}
		return nil
	})
	if err != nil {
		return redisErr("set bypass", err)
	}
	return nil
}

// Cleanup implements Backend. Redis expires window hashes on its own.
func (b *RedisBackend) Cleanup(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Stats implements Backend.
func (b *RedisBackend) Stats(ctx context.Context, windowStart time.Time, limitFor func(models.AlertType) int64) (models.RateLimitStats, error) {
	var stats models.RateLimitStats
	ws := strconv.FormatInt(windowStart.UnixMilli(), 10)

	iter := b.client.Scan(ctx, 0, b.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		fields, err := b.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return stats, redisErr("stats", err)
		}
		if fields["window_start"] != ws {
			continue
		}
		count, _ := strconv.ParseInt(fields["count"], 10, 64)
		stats.ActiveWindows++
		stats.TotalCounted += count
		if fields["bypass"] != "1" && count > limitFor(models.AlertType(fields["type"])) {
			stats.LimitedKeys++
		}
	}
	if err := iter.Err(); err != nil {
		return stats, redisErr("stats", err)
	}
	return stats, nil
}
