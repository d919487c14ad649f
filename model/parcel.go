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

package model

import "time"

// ParcelState is the lifecycle state of a parcel session.
type ParcelState string

const (
	StateCreated     ParcelState = "CREATED"
	StateAwaitingDws ParcelState = "AWAITING_DWS"
	StateBound       ParcelState = "BOUND"
	StateEvaluated   ParcelState = "EVALUATED"
	StateAssigned    ParcelState = "ASSIGNED"
	StateTimedOut    ParcelState = "TIMED_OUT"
	StateLost        ParcelState = "LOST"
)

// allowedTransitions lists, for every state, the states it may move to.
var allowedTransitions = map[ParcelState][]ParcelState{
	StateCreated:     {StateAwaitingDws, StateLost},
	StateAwaitingDws: {StateBound, StateTimedOut, StateLost},
	StateBound:       {StateEvaluated, StateLost},
	StateEvaluated:   {StateAssigned, StateLost},
}

// CanTransition reports whether a session in state s may move to next.
func (s ParcelState) CanTransition(next ParcelState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s ParcelState) IsTerminal() bool {
	return s == StateAssigned || s == StateTimedOut || s == StateLost
}

// ParcelSession tracks one physical parcel from detection to chute assignment.
type ParcelSession struct {
	ParcelID      int64             `json:"parcel_id"`
	CartNumber    string            `json:"cart_number,omitempty"`
	Barcode       string            `json:"barcode,omitempty"`
	DetectedAt    time.Time         `json:"detected_at"`
	DwsBoundAt    time.Time         `json:"dws_bound_at,omitempty"`
	AssignedAt    time.Time         `json:"assigned_at,omitempty"`
	Dws           *DwsData          `json:"dws,omitempty"`
	ChuteID       int64             `json:"chute_id,omitempty"`
	MatchedRuleID string            `json:"matched_rule_id,omitempty"`
	State         ParcelState       `json:"state"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// HasChute reports whether a destination has been decided for the session.
func (p *ParcelSession) HasChute() bool {
	return p.ChuteID > 0
}

// Info returns the identity part of the session handed to matchers and vendor adapters.
func (p *ParcelSession) Info() ParcelInfo {
	return ParcelInfo{
		ParcelID:   p.ParcelID,
		CartNumber: p.CartNumber,
		Barcode:    p.Barcode,
		DetectedAt: p.DetectedAt,
	}
}

// ParcelInfo is the read-only identity of a parcel used during evaluation.
type ParcelInfo struct {
	ParcelID   int64     `json:"parcel_id"`
	CartNumber string    `json:"cart_number,omitempty"`
	Barcode    string    `json:"barcode,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}
