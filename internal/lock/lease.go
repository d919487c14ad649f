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

// Package redlock holds the Redis lease that keeps a physical sorter link owned by one
// process at a time.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrLeaseHeld is returned while another owner holds the key.
	ErrLeaseHeld = errors.New("lease held by another owner")
	// ErrLeaseLost is returned by Keep when the lease could not be renewed.
	ErrLeaseLost = errors.New("lease lost")
)

// Both scripts only touch the key while it still carries our owner value.
const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	renewScript   = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Lease is a key held for as long as its owner keeps renewing it.
type Lease struct {
	client redis.UniversalClient
	key    string
	owner  string
	ttl    time.Duration
}

func NewLease(client redis.UniversalClient, key, owner string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, owner: owner, ttl: ttl}
}

// AcquireLease creates a lease on key for owner and waits up to wait for a previous holder
// to let go.
func AcquireLease(ctx context.Context, client redis.UniversalClient, key, owner string, ttl, wait time.Duration) (*Lease, error) {
	l := NewLease(client, key, owner, ttl)
	if err := l.Acquire(ctx, wait); err != nil {
		return nil, err
	}
	return l, nil
}

// TryAcquire claims the key once. It returns ErrLeaseHeld when somebody else owns it.
func (l *Lease) TryAcquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseHeld, l.key)
	}
	return nil
}

// Acquire retries TryAcquire until it succeeds, wait elapses or ctx is cancelled. Redis
// errors are retried like a held key.
func (l *Lease) Acquire(ctx context.Context, wait time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = wait

	err := backoff.Retry(func() error {
		return l.TryAcquire(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return err
	}
	logrus.WithField("key", l.key).Infof("lease acquired by %s", l.owner)
	return nil
}

// Renew pushes the expiry out by another ttl.
func (l *Lease) Renew(ctx context.Context) error {
	result, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.owner, strconv.FormatInt(l.ttl.Milliseconds(), 10)).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s is no longer owned by %s", ErrLeaseLost, l.key, l.owner)
	}
	return nil
}

// Release deletes the key if we still own it.
func (l *Lease) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("release %s: not held by %s", l.key, l.owner)
	}
	return nil
}

// Keep renews the lease every third of its ttl until ctx is cancelled, then releases it.
// It returns ErrLeaseLost as soon as a renewal fails.
func (l *Lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := l.Release(releaseCtx); err != nil {
				logrus.WithField("key", l.key).Warnf("lease release failed: %v", err)
			}
			return nil
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				if errors.Is(err, ErrLeaseLost) {
					return err
				}
				return fmt.Errorf("%w: %v", ErrLeaseLost, err)
			}
		}
	}
}

// Key returns the leased key.
func (l *Lease) Key() string {
	return l.key
}
