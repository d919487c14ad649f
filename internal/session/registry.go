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

// Package session keeps the in-memory sessions of parcels that are on the belt right now.
package session

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// bindAttempts bounds how often Bind re-selects a candidate that changed under it.
const bindAttempts = 3

type entry struct {
	mu      sync.Mutex
	session model.ParcelSession
	seq     uint64
	removed bool
}

// Registry stores active parcel sessions keyed by parcel id. There is no registry-wide
// lock; every session is guarded by its own mutex so that at most one writer changes it.
type Registry struct {
	sessions sync.Map
	seq      atomic.Uint64
	count    atomic.Int64
	clock    clock.PassiveClock
	policy   *model.TimeoutPolicy
}

// NewRegistry creates an empty registry. policy supplies the minimum binding wait and may
// be swapped at runtime; a nil clock means the wall clock.
func NewRegistry(policy *model.TimeoutPolicy, clk clock.PassiveClock) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if policy == nil {
		policy = model.NewTimeoutPolicy(model.DwsTimeoutConfig{})
	}
	return &Registry{clock: clk, policy: policy}
}

// Create registers a detected parcel in state Created.
//
// Parameters:
// - parcelID int64: The sorter's identifier for the parcel.
// - cartNumber string: The carrier slot, may be empty.
// - barcode string: The barcode known at detection, may be empty.
// - metadata map[string]string: Extra detection attributes, copied.
//
// Returns:
// - model.ParcelSession: A copy of the new session.
// - error: ErrDuplicateParcel if the parcel id is already active.
func (r *Registry) Create(parcelID int64, cartNumber, barcode string, metadata map[string]string) (model.ParcelSession, error) {
	e := &entry{
		seq: r.seq.Add(1),
		session: model.ParcelSession{
			ParcelID:   parcelID,
			CartNumber: cartNumber,
			Barcode:    barcode,
			DetectedAt: r.clock.Now(),
			State:      model.StateCreated,
			Metadata:   copyMetadata(metadata),
		},
	}
	if existing, loaded := r.sessions.LoadOrStore(parcelID, e); loaded {
		current := existing.(*entry)
		current.mu.Lock()
		defer current.mu.Unlock()
		return clone(current.session), fmt.Errorf("parcel %d: %w", parcelID, ErrDuplicateParcel)
	}
	r.count.Add(1)
	return clone(e.session), nil
}

// Bind attaches a DWS reading to the most recent session still awaiting DWS data whose
// barcode equals the reading's. When no session carries that barcode and none is already
// bound to it, the most recent awaiting session without a barcode is used and the barcode
// is recorded on it.
//
// Returns ErrTooEarly without mutating anything when the candidate was detected less than
// the policy's minimum wait ago, ErrAlreadyBound when only sessions past binding carry the
// barcode and ErrNoMatchingSession otherwise.
func (r *Registry) Bind(barcode string, dws model.DwsData) (model.ParcelSession, error) {
	now := r.clock.Now()
	policy := r.policy.Load()

	for attempt := 0; attempt < bindAttempts; attempt++ {
		candidate, err := r.selectCandidate(barcode)
		if err != nil {
			return model.ParcelSession{}, err
		}

		candidate.mu.Lock()
		s := &candidate.session
		if candidate.removed || s.State != model.StateAwaitingDws || (s.Barcode != "" && s.Barcode != barcode) {
			candidate.mu.Unlock()
			continue
		}
		if policy.Enabled && now.Before(s.DetectedAt.Add(policy.MinWait())) {
			out := clone(*s)
			candidate.mu.Unlock()
			return out, fmt.Errorf("parcel %d: %w", out.ParcelID, ErrTooEarly)
		}

		reading := dws
		if reading.ScanTime.IsZero() {
			reading.ScanTime = now
		}
		if s.Barcode == "" {
			s.Barcode = barcode
		}
		s.Dws = &reading
		s.DwsBoundAt = now
		s.State = model.StateBound
		out := clone(*s)
		candidate.mu.Unlock()
		return out, nil
	}
	return model.ParcelSession{}, fmt.Errorf("barcode %s: %w", barcode, ErrNoMatchingSession)
}

func (r *Registry) selectCandidate(barcode string) (*entry, error) {
	var exact, blank *entry
	alreadyBound := false

	r.sessions.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		state, code, removed := e.session.State, e.session.Barcode, e.removed
		e.mu.Unlock()
		if removed {
			return true
		}

		switch {
		case code == barcode && barcode != "":
			if state == model.StateAwaitingDws {
				if exact == nil || e.seq > exact.seq {
					exact = e
				}
			} else if state != model.StateCreated {
				alreadyBound = true
			}
		case code == "" && state == model.StateAwaitingDws:
			if blank == nil || e.seq > blank.seq {
				blank = e
			}
		}
		return true
	})

	switch {
	case exact != nil:
		return exact, nil
	case alreadyBound:
		return nil, fmt.Errorf("barcode %s: %w", barcode, ErrAlreadyBound)
	case blank != nil:
		return blank, nil
	}
	return nil, fmt.Errorf("barcode %s: %w", barcode, ErrNoMatchingSession)
}

// Transition moves a session to state to. When from is non-empty the session must
// currently be in one of those states.
func (r *Registry) Transition(parcelID int64, to model.ParcelState, from ...model.ParcelState) (model.ParcelSession, error) {
	return r.Apply(parcelID, to, nil, from...)
}

// Apply atomically checks the current state, runs mutate on the session and moves it to
// state to. Nothing is changed when any check fails.
//
// Parameters:
// - parcelID int64: The session to change.
// - to model.ParcelState: The target state.
// - mutate func(*model.ParcelSession): Optional edit applied under the session lock.
// - from ...model.ParcelState: States the session is expected to be in.
//
// Returns:
// - model.ParcelSession: A copy of the session after the change, or as found on error.
// - error: ErrSessionNotFound, ErrStateConflict when the session left the expected states,
// or a *TransitionError when the state machine forbids the move.
func (r *Registry) Apply(parcelID int64, to model.ParcelState, mutate func(*model.ParcelSession), from ...model.ParcelState) (model.ParcelSession, error) {
	e, ok := r.load(parcelID)
	if !ok {
		return model.ParcelSession{}, fmt.Errorf("parcel %d: %w", parcelID, ErrSessionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return model.ParcelSession{}, fmt.Errorf("parcel %d: %w", parcelID, ErrSessionNotFound)
	}

	current := e.session.State
	if len(from) > 0 && !containsState(from, current) {
		return clone(e.session), fmt.Errorf("parcel %d is %s, expected %v: %w", parcelID, current, from, ErrStateConflict)
	}
	if !current.CanTransition(to) {
		return clone(e.session), &TransitionError{ParcelID: parcelID, From: current, To: to}
	}

	if mutate != nil {
		mutate(&e.session)
	}
	e.session.State = to
	if to == model.StateAssigned && e.session.AssignedAt.IsZero() {
		e.session.AssignedAt = r.clock.Now()
	}
	return clone(e.session), nil
}

// Expire moves a session awaiting DWS data to TimedOut with the exception chute. Only one
// caller can win; everyone else gets ErrStateConflict.
func (r *Registry) Expire(parcelID, exceptionChute int64) (model.ParcelSession, error) {
	return r.Apply(parcelID, model.StateTimedOut, func(s *model.ParcelSession) {
		s.ChuteID = exceptionChute
		s.AssignedAt = r.clock.Now()
	}, model.StateAwaitingDws)
}

// Get returns a copy of an active session.
func (r *Registry) Get(parcelID int64) (model.ParcelSession, bool) {
	e, ok := r.load(parcelID)
	if !ok {
		return model.ParcelSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return model.ParcelSession{}, false
	}
	return clone(e.session), true
}

// Remove forgets a session. Removing an unknown parcel is a no-op.
func (r *Registry) Remove(parcelID int64) {
	value, ok := r.sessions.LoadAndDelete(parcelID)
	if !ok {
		return
	}
	e := value.(*entry)
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	r.count.Add(-1)
}

// SnapshotActive returns copies of all active sessions ordered by detection.
func (r *Registry) SnapshotActive() []model.ParcelSession {
	type ordered struct {
		session model.ParcelSession
		seq     uint64
	}
	var all []ordered
	r.sessions.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if !e.removed {
			all = append(all, ordered{session: clone(e.session), seq: e.seq})
		}
		e.mu.Unlock()
		return true
	})

	sort.Slice(all, func(i, j int) bool {
		if !all[i].session.DetectedAt.Equal(all[j].session.DetectedAt) {
			return all[i].session.DetectedAt.Before(all[j].session.DetectedAt)
		}
		return all[i].seq < all[j].seq
	})
	out := make([]model.ParcelSession, len(all))
	for i := range all {
		out[i] = all[i].session
	}
	return out
}

// Overdue returns the ids of sessions awaiting DWS data detected at least maxWait before now.
func (r *Registry) Overdue(now time.Time, maxWait time.Duration) []int64 {
	var ids []int64
	for _, s := range r.SnapshotActive() {
		if s.State == model.StateAwaitingDws && now.Sub(s.DetectedAt) >= maxWait {
			ids = append(ids, s.ParcelID)
		}
	}
	return ids
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

func (r *Registry) load(parcelID int64) (*entry, bool) {
	value, ok := r.sessions.Load(parcelID)
	if !ok {
		return nil, false
	}
	return value.(*entry), true
}

func containsState(states []model.ParcelState, s model.ParcelState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func clone(s model.ParcelSession) model.ParcelSession {
	s.Metadata = copyMetadata(s.Metadata)
	return s
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
