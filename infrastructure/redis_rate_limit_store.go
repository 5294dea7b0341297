// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "psg:ratelimit:"

// KEYS[1] identity key, ARGV[1] window in ms, ARGV[2] max requests.
// Returns {count, ttl in ms, allowed}. The counter stops at the maximum.
var fixedWindowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[2])
if count >= max then
	return {count, redis.call('PTTL', KEYS[1]), 0}
end
count = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1]), 1}
`)

// RedisRateLimitStore shares fixed-window counters between service instances
type RedisRateLimitStore struct {
	client      *redis.Client
	window      time.Duration
	maxRequests int
	clock       Clock
}

// ConnectRedisRateLimitStore connects to Redis and verifies the connection
func ConnectRedisRateLimitStore(address string, window time.Duration, maxRequests int) (*RedisRateLimitStore, error) {
	client := redis.NewClient(&redis.Options{Addr: address})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisRateLimitStore(client, window, maxRequests, SystemClock), nil
}

// NewRedisRateLimitStore wraps an existing client
func NewRedisRateLimitStore(client *redis.Client, window time.Duration, maxRequests int, clock Clock) *RedisRateLimitStore {
	if clock == nil {
		clock = SystemClock
	}
	return &RedisRateLimitStore{
		client:      client,
		window:      window,
		maxRequests: maxRequests,
		clock:       clock,
	}
}

// Check atomically counts the request in Redis
func (s *RedisRateLimitStore) Check(ctx context.Context, identity string) (RateLimitDecision, error) {
	res, err := fixedWindowScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + identity},
		s.window.Milliseconds(),
		s.maxRequests,
	).Int64Slice()
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("redis rate limit check: %w", err)
	}
	if len(res) != 3 {
		return RateLimitDecision{}, errors.New("redis rate limit check: unexpected script response")
	}

	count, ttlMillis, allowed := res[0], res[1], res[2] == 1
	if ttlMillis < 0 {
		ttlMillis = s.window.Milliseconds()
	}
	remaining := s.maxRequests - int(count)
	if !allowed || remaining < 0 {
		remaining = 0
	}
	return RateLimitDecision{
		Allowed:   allowed,
		Limit:     s.maxRequests,
		Remaining: remaining,
		ResetAt:   s.clock.Now().Add(time.Duration(ttlMillis) * time.Millisecond),
	}, nil
}

// Sweep is a no-op: Redis expires the keys
func (s *RedisRateLimitStore) Sweep(time.Time) {}

// Limit returns the maximum number of requests per window
func (s *RedisRateLimitStore) Limit() int {
	return s.maxRequests
}

// Close releases the Redis connection pool
func (s *RedisRateLimitStore) Close() error {
	return s.client.Close()
}
