/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache interface provides the basic operations for a cache system.
type Cache interface {
	// Set stores a value with a time-to-live.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get loads the value stored under key into data. found is false on a miss.
	Get(ctx context.Context, key string, data interface{}) (found bool, err error)

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache with a local TinyLFU tier in front of an optional Redis tier.
type RedisCache struct {
	cache *cache.Cache
}

const (
	// defaultLocalSize is the number of entries kept in process.
	defaultLocalSize = 10000
	defaultLocalTTL  = time.Minute
)

// NewCache creates a cache. With a nil client only the local tier is used, which is enough
// for a single process; with Redis several sorting processes share vendor responses.
//
// Parameters:
// - client redis.UniversalClient: Optional Redis backend.
// - localSize int: Local tier capacity, 0 for the default.
// - localTTL time.Duration: Lifetime of local entries, 0 for the default.
//
// Returns:
// - *RedisCache: The cache.
func NewCache(client redis.UniversalClient, localSize int, localTTL time.Duration) *RedisCache {
	if localSize <= 0 {
		localSize = defaultLocalSize
	}
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}

	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(localSize, localTTL),
	}
	if client != nil {
		opts.Redis = client
	}
	return &RedisCache{cache: cache.New(opts)}
}

// Set adds a new entry to the cache with a specified key and TTL.
func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

// Get retrieves an entry from the cache based on the provided key.
func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) (bool, error) {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an entry from the cache based on the provided key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
