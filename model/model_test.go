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

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("link")
	assert.True(t, strings.HasPrefix(id, "link_"))
	assert.Len(t, id, len("link_")+36)
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("link"))
}

func TestParcelStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ParcelState
		allowed  bool
	}{
		{StateCreated, StateAwaitingDws, true},
		{StateAwaitingDws, StateBound, true},
		{StateAwaitingDws, StateTimedOut, true},
		{StateBound, StateEvaluated, true},
		{StateEvaluated, StateAssigned, true},
		{StateEvaluated, StateLost, true},
		{StateCreated, StateBound, false},
		{StateBound, StateTimedOut, false},
		{StateTimedOut, StateAssigned, false},
		{StateAssigned, StateLost, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StateTimedOut.IsTerminal())
	assert.False(t, StateBound.IsTerminal())
}

func TestChuteAssignmentRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 1, 0, time.UTC)

	withPayload := ChuteAssignmentNotification{
		ParcelID:   12345,
		ChuteID:    3,
		AssignedAt: at,
		DwsPayload: &DwsPayload{
			Barcode:     "9812306574285",
			WeightGrams: 1500,
			LengthMm:    300,
			WidthMm:     200,
			HeightMm:    150,
			MeasuredAt:  at,
		},
	}
	withoutPayload := ChuteAssignmentNotification{ParcelID: 12345, ChuteID: 3, AssignedAt: at}

	for _, msg := range []ChuteAssignmentNotification{withPayload, withoutPayload} {
		raw, err := json.Marshal(msg)
		require.NoError(t, err)

		var decoded ChuteAssignmentNotification
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, msg.ParcelID, decoded.ParcelID)
		assert.Equal(t, msg.ChuteID, decoded.ChuteID)
		assert.True(t, msg.AssignedAt.Equal(decoded.AssignedAt))
		assert.Equal(t, msg.DwsPayload == nil, decoded.DwsPayload == nil)
		if msg.DwsPayload != nil {
			assert.Equal(t, *msg.DwsPayload, *decoded.DwsPayload)
		}
	}

	raw, err := json.Marshal(withoutPayload)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dwsPayload")
}

func TestDwsDataDerivedValues(t *testing.T) {
	d := &DwsData{Length: 300, Width: 200, Height: 150}
	assert.Equal(t, 9000.0, d.ComputedVolume())
	assert.Equal(t, 1500.0, d.VolumetricWeight())

	d.Volume = 1234
	assert.Equal(t, 1234.0, d.ComputedVolume())
	assert.Nil(t, NewDwsPayload(nil))
}

func TestRuleSetValidate(t *testing.T) {
	valid := RuleSet{
		Chutes: []Chute{{ChuteID: 3, Name: "Heavy", IsEnabled: true}},
		Rules: []SortingRule{{
			RuleID:              "heavy",
			MatchingMethod:      MatchWeight,
			ConditionExpression: "Weight > 1kg",
			TargetChute:         3,
			IsEnabled:           true,
		}},
	}
	assert.NoError(t, valid.Validate())

	unknownChute := valid
	unknownChute.Rules = []SortingRule{valid.Rules[0]}
	unknownChute.Rules[0].TargetChute = 9
	assert.ErrorContains(t, unknownChute.Validate(), "unknown chute 9")

	badMethod := valid
	badMethod.Rules = []SortingRule{valid.Rules[0]}
	badMethod.Rules[0].MatchingMethod = "Telepathy"
	assert.Error(t, badMethod.Validate())

	dup := valid
	dup.Rules = []SortingRule{valid.Rules[0], valid.Rules[0]}
	assert.ErrorContains(t, dup.Validate(), "duplicate rule id")
}

func TestTimeoutPolicySwap(t *testing.T) {
	p := NewTimeoutPolicy(DwsTimeoutConfig{Enabled: true, MaxWaitMs: 200, CheckIntervalMs: 50, ExceptionChuteID: 99})
	assert.Equal(t, 200*time.Millisecond, p.Load().MaxWait())
	assert.NoError(t, p.Load().Validate())

	p.Store(DwsTimeoutConfig{Enabled: false, CheckIntervalMs: 10, ExceptionChuteID: 1})
	assert.False(t, p.Load().Enabled)

	assert.Error(t, DwsTimeoutConfig{MinWaitMs: 500, MaxWaitMs: 100, CheckIntervalMs: 10, ExceptionChuteID: 1}.Validate())
	assert.Equal(t, DwsTimeoutConfig{}, (&TimeoutPolicy{}).Load())
}
