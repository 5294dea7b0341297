// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/patrickmn/go-cache"
)

// reportCache stores successful upstream responses by analysis key
type reportCache interface {
	Get(key string) (*UpstreamResponse, bool)
	Set(key string, res *UpstreamResponse)
}

type ristrettoCache struct {
	cache             *ristretto.Cache[string, *UpstreamResponse]
	defaultExpiration time.Duration
}

func (c ristrettoCache) Set(key string, res *UpstreamResponse) {
	c.cache.SetWithTTL(key, res, approxSizeOf(key, res), c.defaultExpiration)
	// make the entry visible to the next Get
	c.cache.Wait()
}

func (c ristrettoCache) Get(key string) (*UpstreamResponse, bool) {
	return c.cache.Get(key)
}

type defaultCache struct {
	cache *cache.Cache
}

func (c defaultCache) Set(key string, res *UpstreamResponse) {
	c.cache.Set(key, res, cache.DefaultExpiration)
}

func (c defaultCache) Get(key string) (*UpstreamResponse, bool) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	return value.(*UpstreamResponse), true
}

func newCache(settings cacheSettings) reportCache {
	if settings.cacheUseRistretto {
		return newRistrettoCache(settings)
	}
	return newDefaultCache(settings)
}

func newRistrettoCache(settings cacheSettings) *ristrettoCache {
	// https://github.com/dgraph-io/ristretto#Config
	rc, err := ristretto.NewCache(&ristretto.Config[string, *UpstreamResponse]{
		NumCounters: settings.cacheNumCounters, // number of keys to track frequency of (~10x max reports)
		MaxCost:     settings.cacheMaxSize,     // maximum cost of cache (in bytes)
		BufferItems: 64,                        // number of keys per Get buffer: as recommended
	})
	if err != nil {
		panic(err)
	}
	return &ristrettoCache{
		cache:             rc,
		defaultExpiration: settings.cacheExpirationInterval,
	}
}

func newDefaultCache(settings cacheSettings) *defaultCache {
	return &defaultCache{
		cache: cache.New(settings.cacheExpirationInterval, settings.cacheCleanupInterval),
	}
}

// reports are mostly the JSON body
func approxSizeOf(key string, res *UpstreamResponse) int64 {
	return int64(len(key) + len(res.Body) + 64)
}
