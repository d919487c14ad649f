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
	"fmt"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

var (
	ErrDuplicateParcel   = errors.New("parcel already has an active session")
	ErrNoMatchingSession = errors.New("no unbound session matches the dws reading")
	ErrTooEarly          = errors.New("dws reading arrived before the minimum binding wait")
	ErrAlreadyBound      = errors.New("parcel already bound to a dws reading")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrStateConflict     = errors.New("session is no longer in the expected state")
	ErrSessionNotFound   = errors.New("session not found")
)

// TransitionError describes a transition the state machine does not allow.
type TransitionError struct {
	ParcelID int64
	From     model.ParcelState
	To       model.ParcelState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("parcel %d: %s -> %s: %v", e.ParcelID, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
