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

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func TestLease_TryAcquire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewLease(db, "sorter:line-1", "host-a", 5*time.Second)

	mock.ExpectSetNX("sorter:line-1", "host-a", 5*time.Second).SetVal(true)
	assert.NoError(t, lease.TryAcquire(context.Background()))

	mock.ExpectSetNX("sorter:line-1", "host-a", 5*time.Second).SetVal(false)
	err := lease.TryAcquire(context.Background())
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_RenewAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lease := NewLease(db, "sorter:line-1", "host-a", 5*time.Second)

	mock.ExpectEval(renewScript, []string{"sorter:line-1"}, "host-a", "5000").SetVal(int64(1))
	assert.NoError(t, lease.Renew(context.Background()))

	mock.ExpectEval(renewScript, []string{"sorter:line-1"}, "host-a", "5000").SetVal(int64(0))
	assert.ErrorIs(t, lease.Renew(context.Background()), ErrLeaseLost)

	mock.ExpectEval(releaseScript, []string{"sorter:line-1"}, "host-a").SetVal(int64(1))
	assert.NoError(t, lease.Release(context.Background()))

	mock.ExpectEval(releaseScript, []string{"sorter:line-1"}, "host-a").SetVal(int64(0))
	assert.EqualError(t, lease.Release(context.Background()), "release sorter:line-1: not held by host-a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_OneOwnerAtATime(t *testing.T) {
	m, client := newMiniredisClient(t)
	ctx := context.Background()

	a, err := AcquireLease(ctx, client, "sorter:line-1", "host-a", 10*time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "host-a", mustGet(t, m, "sorter:line-1"))

	_, err = AcquireLease(ctx, client, "sorter:line-1", "host-b", 10*time.Second, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	// host-b cannot renew or release what host-a owns.
	b := NewLease(client, "sorter:line-1", "host-b", 10*time.Second)
	assert.ErrorIs(t, b.Renew(ctx), ErrLeaseLost)
	assert.Error(t, b.Release(ctx))
	assert.Equal(t, "host-a", mustGet(t, m, "sorter:line-1"))

	require.NoError(t, a.Release(ctx))
	require.NoError(t, b.Acquire(ctx, time.Second))
	assert.Equal(t, "host-b", mustGet(t, m, "sorter:line-1"))
}

func TestLease_TakenOverAfterExpiry(t *testing.T) {
	m, client := newMiniredisClient(t)
	ctx := context.Background()

	a, err := AcquireLease(ctx, client, "sorter:line-1", "host-a", 10*time.Second, time.Second)
	require.NoError(t, err)
	m.FastForward(11 * time.Second)

	_, err = AcquireLease(ctx, client, "sorter:line-1", "host-b", 10*time.Second, time.Second)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Renew(ctx), ErrLeaseLost)
}

func TestLease_AcquireCancelled(t *testing.T) {
	m, client := newMiniredisClient(t)
	require.NoError(t, m.Set("sorter:line-1", "host-a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewLease(client, "sorter:line-1", "host-b", time.Minute).Acquire(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLease_KeepUntilRenewalFails(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectSetNX("sorter:line-1", "host-a", 30*time.Millisecond).SetVal(true)
	mock.ExpectEval(renewScript, []string{"sorter:line-1"}, "host-a", "30").SetVal(int64(1))
	mock.ExpectEval(renewScript, []string{"sorter:line-1"}, "host-a", "30").SetVal(int64(0))

	lease, err := AcquireLease(context.Background(), db, "sorter:line-1", "host-a", 30*time.Millisecond, time.Second)
	require.NoError(t, err)

	err = lease.Keep(context.Background())
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_ReleasedOnCancel(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectSetNX("sorter:line-1", "host-a", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"sorter:line-1"}, "host-a").SetVal(int64(1))

	lease, err := AcquireLease(context.Background(), db, "sorter:line-1", "host-a", time.Minute, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, lease.Keep(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func mustGet(t *testing.T, m *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := m.Get(key)
	require.NoError(t, err)
	return v
}
