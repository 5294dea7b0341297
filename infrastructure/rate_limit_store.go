// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const defaultRateLimitWindow = time.Minute
const defaultRateLimitMaxRequests = 10
const defaultRedisAddress = "localhost:6379"

// RateLimitDecision is the outcome of a RateLimitStore check
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ResetIn returns the seconds until the window resets, rounded up
func (d RateLimitDecision) ResetIn(now time.Time) int64 {
	left := d.ResetAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(math.Ceil(left.Seconds()))
}

// ResetUnixSeconds returns the reset time as a Unix timestamp, rounded up
func (d RateLimitDecision) ResetUnixSeconds() int64 {
	return (d.ResetAt.UnixMilli() + 999) / 1000
}

// RateLimitStore bounds the requests a client identity may issue per window
type RateLimitStore interface {
	// Check counts a request of the identity and decides whether it is admitted
	Check(ctx context.Context, identity string) (RateLimitDecision, error)
	// Sweep drops state of windows that ended before now
	Sweep(now time.Time)
	// Limit is the maximum number of requests per window
	Limit() int
}

// RateLimitEntry is one identity's usage in the current window
type RateLimitEntry struct {
	Count   int
	ResetAt time.Time
}

// MemoryRateLimitStore is a process-local fixed-window rate limiter.
// A second process or a restart starts with fresh counters.
type MemoryRateLimitStore struct {
	mu          sync.Mutex
	entries     map[string]*RateLimitEntry
	window      time.Duration
	maxRequests int
	clock       Clock
}

// NewMemoryRateLimitStore creates an empty in-memory store
func NewMemoryRateLimitStore(window time.Duration, maxRequests int, clock Clock) *MemoryRateLimitStore {
	if clock == nil {
		clock = SystemClock
	}
	return &MemoryRateLimitStore{
		entries:     map[string]*RateLimitEntry{},
		window:      window,
		maxRequests: maxRequests,
		clock:       clock,
	}
}

// Check applies the fixed-window algorithm for the identity
func (s *MemoryRateLimitStore) Check(_ context.Context, identity string) (RateLimitDecision, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	entry, found := s.entries[identity]
	if !found || now.After(entry.ResetAt) {
		entry = &RateLimitEntry{Count: 1, ResetAt: now.Add(s.window)}
		s.entries[identity] = entry
		return s.decisionFor(true, entry), nil
	}

	if entry.Count >= s.maxRequests {
		return s.decisionFor(false, entry), nil
	}

	entry.Count++
	return s.decisionFor(true, entry), nil
}

// Sweep removes every entry whose window has passed
func (s *MemoryRateLimitStore) Sweep(now time.Time) {
	s.mu.Lock()
	s.sweepLocked(now)
	s.mu.Unlock()
}

func (s *MemoryRateLimitStore) sweepLocked(now time.Time) {
	for identity, entry := range s.entries {
		if now.After(entry.ResetAt) {
			delete(s.entries, identity)
		}
	}
}

// Limit returns the maximum number of requests per window
func (s *MemoryRateLimitStore) Limit() int {
	return s.maxRequests
}

// Len returns the number of tracked identities
func (s *MemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryRateLimitStore) decisionFor(allowed bool, entry *RateLimitEntry) RateLimitDecision {
	remaining := s.maxRequests - entry.Count
	if !allowed || remaining < 0 {
		remaining = 0
	}
	return RateLimitDecision{
		Allowed:   allowed,
		Limit:     s.maxRequests,
		Remaining: remaining,
		ResetAt:   entry.ResetAt,
	}
}

type rateLimitSettings struct {
	store        string
	window       time.Duration
	maxRequests  int
	redisAddress string
}

func fetchRateLimitSettings() rateLimitSettings {
	s := rateLimitSettings{
		store:        viper.GetString("rateLimitStore"),
		window:       durationSetting("rateLimitWindow", defaultRateLimitWindow),
		maxRequests:  defaultRateLimitMaxRequests,
		redisAddress: defaultRedisAddress,
	}
	if s.store == "" {
		s.store = "memory"
	}
	if m := viper.GetInt("rateLimitMaxRequests"); m > 0 {
		s.maxRequests = m
	}
	if a := viper.GetString("redisAddress"); a != "" {
		s.redisAddress = a
	}
	log.Info().Msgf("Rate limiting: %v requests per %v (%v store)", s.maxRequests, s.window, s.store)
	return s
}

// NewRateLimitStore creates the configured rate limit store
func NewRateLimitStore() (RateLimitStore, error) {
	settings := fetchRateLimitSettings()
	switch settings.store {
	case "memory":
		return NewMemoryRateLimitStore(settings.window, settings.maxRequests, SystemClock), nil
	case "ulule":
		return NewUluleRateLimitStore(settings.window, settings.maxRequests), nil
	case "redis":
		return ConnectRedisRateLimitStore(settings.redisAddress, settings.window, settings.maxRequests)
	}
	return nil, fmt.Errorf("unknown rate limit store '%v', expected one of memory, ulule, redis", settings.store)
}

// durationSetting reads a duration string from the configuration, falling back to the default
func durationSetting(key string, defaultValue time.Duration) time.Duration {
	value := viper.GetString(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Msgf("Ignoring %v %v -> %v (%v)", key, value, defaultValue, err)
		return defaultValue
	}
	return d
}
