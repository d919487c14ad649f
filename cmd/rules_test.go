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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ruleFile = `
chutes:
  - chute_id: 3
    name: Heavy
    is_enabled: true
  - chute_id: 7
    name: SF Express
    is_enabled: true
rules:
  - rule_id: sf
    priority: 1
    matching_method: BarcodeRegex
    condition_expression: "STARTSWITH:SF"
    target_chute: 7
    is_enabled: true
  - rule_id: heavy
    priority: 10
    matching_method: WeightMatch
    condition_expression: "Weight > 1.0kg"
    target_chute: 3
    is_enabled: true
  - rule_id: parked
    priority: 20
    matching_method: WeightMatch
    condition_expression: "Weight > 0"
    target_chute: 3
    is_enabled: false
`

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCheckRules(t *testing.T) {
	var out bytes.Buffer
	path := writeRules(t, ruleFile)
	require.NoError(t, checkRules(&out, path))
	assert.Contains(t, out.String(), "3 rules, 2 enabled, 2 chutes")

	assert.Error(t, checkRules(&out, writeRules(t, "rules:\n  - rule_id: broken\n")))
	assert.Error(t, checkRules(&out, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestEvalRules(t *testing.T) {
	path := writeRules(t, ruleFile)

	tests := []struct {
		name      string
		in        evalInput
		wantMatch bool
		wantChute int64
		wantRule  string
	}{
		{"barcode prefix wins on priority", evalInput{barcode: "SF123456", weight: 5000}, true, 7, "sf"},
		{"heavy parcel", evalInput{barcode: "9812306574285", weight: 1500}, true, 3, "heavy"},
		{"nothing matches", evalInput{barcode: "9812306574285", weight: 200}, false, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			result, err := evalRules(&out, path, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, result.Matched)
			assert.Equal(t, tt.wantChute, result.ChuteID)
			assert.Equal(t, tt.wantRule, result.RuleID)
			assert.Contains(t, out.String(), `"matched"`)
		})
	}
}
