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

package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

func newTestRegistry(t *testing.T, cfg model.DwsTimeoutConfig) (*Registry, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(model.NewTimeoutPolicy(cfg), clk), clk
}

func awaiting(t *testing.T, r *Registry, id int64, barcode string) {
	t.Helper()
	_, err := r.Create(id, "", barcode, nil)
	require.NoError(t, err)
	_, err = r.Transition(id, model.StateAwaitingDws, model.StateCreated)
	require.NoError(t, err)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t, model.DwsTimeoutConfig{})
	meta := map[string]string{"lane": "2"}

	s, err := r.Create(1, "C7", "SF1", meta)
	require.NoError(t, err)
	assert.Equal(t, model.StateCreated, s.State)
	meta["lane"] = "changed"

	_, err = r.Create(1, "C8", "", nil)
	assert.ErrorIs(t, err, ErrDuplicateParcel)

	kept, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "C7", kept.CartNumber)
	assert.Equal(t, "2", kept.Metadata["lane"])
	assert.Equal(t, 1, r.Len())
}

func TestBindMostRecentByBarcode(t *testing.T) {
	r, clk := newTestRegistry(t, model.DwsTimeoutConfig{})
	barcode := gofakeit.Numerify("98##########")

	awaiting(t, r, 1, barcode)
	clk.Step(10 * time.Millisecond)
	awaiting(t, r, 2, barcode)
	awaiting(t, r, 3, "OTHER")

	s, err := r.Bind(barcode, model.DwsData{Barcode: barcode, Weight: 1500})
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.ParcelID)
	assert.Equal(t, model.StateBound, s.State)
	require.NotNil(t, s.Dws)
	assert.Equal(t, clk.Now(), s.Dws.ScanTime)
	assert.Equal(t, clk.Now(), s.DwsBoundAt)

	s, err = r.Bind(barcode, model.DwsData{Barcode: barcode})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ParcelID)

	_, err = r.Bind(barcode, model.DwsData{Barcode: barcode})
	assert.ErrorIs(t, err, ErrAlreadyBound)

	_, err = r.Bind("UNKNOWN", model.DwsData{Barcode: "UNKNOWN"})
	assert.ErrorIs(t, err, ErrNoMatchingSession)
}

func TestBindFallsBackToSessionWithoutBarcode(t *testing.T) {
	r, _ := newTestRegistry(t, model.DwsTimeoutConfig{})
	awaiting(t, r, 10, "")
	awaiting(t, r, 11, "")

	s, err := r.Bind("JD0001", model.DwsData{Barcode: "JD0001"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), s.ParcelID)
	assert.Equal(t, "JD0001", s.Barcode)

	_, err = r.Bind("JD0001", model.DwsData{Barcode: "JD0001"})
	assert.ErrorIs(t, err, ErrAlreadyBound)
}

func TestBindIgnoresSessionsNotAwaiting(t *testing.T) {
	r, _ := newTestRegistry(t, model.DwsTimeoutConfig{})
	_, err := r.Create(1, "", "SF1", nil)
	require.NoError(t, err)

	_, err = r.Bind("SF1", model.DwsData{})
	assert.ErrorIs(t, err, ErrNoMatchingSession)
}

func TestBindTooEarlyDoesNotMutate(t *testing.T) {
	r, clk := newTestRegistry(t, model.DwsTimeoutConfig{Enabled: true, MinWaitMs: 100, MaxWaitMs: 2000, CheckIntervalMs: 50, ExceptionChuteID: 99})
	awaiting(t, r, 1, "SF1")
	before, _ := r.Get(1)

	clk.Step(99 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, err := r.Bind("SF1", model.DwsData{Barcode: "SF1", Weight: 10})
		assert.ErrorIs(t, err, ErrTooEarly)
	}
	after, _ := r.Get(1)
	assert.Equal(t, before, after)

	clk.Step(time.Millisecond)
	s, err := r.Bind("SF1", model.DwsData{Barcode: "SF1", Weight: 10})
	require.NoError(t, err)
	assert.Equal(t, model.StateBound, s.State)
}

func TestMinWaitIgnoredWhenPolicyDisabled(t *testing.T) {
	r, _ := newTestRegistry(t, model.DwsTimeoutConfig{Enabled: false, MinWaitMs: 1000})
	awaiting(t, r, 1, "SF1")

	_, err := r.Bind("SF1", model.DwsData{Barcode: "SF1"})
	assert.NoError(t, err)
}

func TestApplyChecksStates(t *testing.T) {
	r, _ := newTestRegistry(t, model.DwsTimeoutConfig{})
	awaiting(t, r, 1, "SF1")

	_, err := r.Transition(1, model.StateAssigned)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.StateAwaitingDws, te.From)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = r.Transition(1, model.StateLost, model.StateBound)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = r.Transition(42, model.StateLost)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err := r.Bind("SF1", model.DwsData{Barcode: "SF1"})
	require.NoError(t, err)
	assert.Equal(t, model.StateBound, s.State)

	s, err = r.Apply(1, model.StateEvaluated, func(s *model.ParcelSession) {
		s.ChuteID = 3
		s.MatchedRuleID = "heavy"
	}, model.StateBound)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.ChuteID)

	s, err = r.Transition(1, model.StateAssigned, model.StateEvaluated)
	require.NoError(t, err)
	assert.False(t, s.AssignedAt.IsZero())
}

func TestExpireAndBindRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		r, _ := newTestRegistry(t, model.DwsTimeoutConfig{})
		awaiting(t, r, 1, "SF1")

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				if _, err := r.Expire(1, 99); err == nil {
					wins.Add(1)
				} else {
					assert.True(t, errors.Is(err, ErrStateConflict))
				}
			}()
			go func() {
				defer wg.Done()
				<-start
				if _, err := r.Bind("SF1", model.DwsData{Barcode: "SF1"}); err == nil {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	}
}

func TestRemoveAndSnapshot(t *testing.T) {
	r, clk := newTestRegistry(t, model.DwsTimeoutConfig{})
	awaiting(t, r, 3, "")
	clk.Step(time.Millisecond)
	awaiting(t, r, 1, "")
	clk.Step(time.Millisecond)
	awaiting(t, r, 2, "")

	snap := r.SnapshotActive()
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{snap[0].ParcelID, snap[1].ParcelID, snap[2].ParcelID})

	clk.Step(200 * time.Millisecond)
	assert.ElementsMatch(t, []int64{3, 1, 2}, r.Overdue(clk.Now(), 200*time.Millisecond))
	assert.Equal(t, []int64{3}, r.Overdue(clk.Now(), 202*time.Millisecond))

	r.Remove(1)
	r.Remove(1)
	assert.Equal(t, 2, r.Len())
	_, ok := r.Get(1)
	assert.False(t, ok)

	_, err := r.Create(1, "", "", nil)
	assert.NoError(t, err)
}
