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
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MatchingMethod selects the matcher strategy a rule is evaluated with.
type MatchingMethod string

const (
	MatchBarcodeRegex      MatchingMethod = "BarcodeRegex"
	MatchWeight            MatchingMethod = "WeightMatch"
	MatchVolume            MatchingMethod = "VolumeMatch"
	MatchOcr               MatchingMethod = "OcrMatch"
	MatchApiResponse       MatchingMethod = "ApiResponseMatch"
	MatchLowCodeExpression MatchingMethod = "LowCodeExpression"
)

// MatchingMethods lists every supported matching method.
var MatchingMethods = []MatchingMethod{
	MatchBarcodeRegex,
	MatchWeight,
	MatchVolume,
	MatchOcr,
	MatchApiResponse,
	MatchLowCodeExpression,
}

// SortingRule maps a condition to a destination chute.
// Lower Priority values win; ties keep the order the rules were loaded in.
type SortingRule struct {
	RuleID              string         `json:"rule_id" yaml:"rule_id"`
	Name                string         `json:"name,omitempty" yaml:"name,omitempty"`
	Priority            int            `json:"priority" yaml:"priority"`
	MatchingMethod      MatchingMethod `json:"matching_method" yaml:"matching_method"`
	ConditionExpression string         `json:"condition_expression" yaml:"condition_expression"`
	TargetChute         int64          `json:"target_chute" yaml:"target_chute"`
	IsEnabled           bool           `json:"is_enabled" yaml:"is_enabled"`
	CreatedAt           time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Validate checks that the rule can be handed to the evaluation engine.
func (r *SortingRule) Validate() error {
	methods := make([]interface{}, 0, len(MatchingMethods))
	for _, m := range MatchingMethods {
		methods = append(methods, m)
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.RuleID, validation.Required),
		validation.Field(&r.MatchingMethod, validation.Required, validation.In(methods...)),
		validation.Field(&r.ConditionExpression, validation.Required),
		validation.Field(&r.TargetChute, validation.Required, validation.Min(int64(1))),
	)
}

// Chute is a physical destination on the sort line.
type Chute struct {
	ChuteID   int64  `json:"chute_id" yaml:"chute_id"`
	Name      string `json:"name" yaml:"name"`
	Code      string `json:"code,omitempty" yaml:"code,omitempty"`
	IsEnabled bool   `json:"is_enabled" yaml:"is_enabled"`
}

// Validate checks the chute identity.
func (c *Chute) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChuteID, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Name, validation.Required),
	)
}

// RuleSet is the configured collection of chutes and rules loaded together.
type RuleSet struct {
	Chutes []Chute       `json:"chutes" yaml:"chutes"`
	Rules  []SortingRule `json:"rules" yaml:"rules"`
}

// Validate checks every chute and rule, rejects duplicate ids and rules that point
// at a chute the set does not declare. An empty chute list skips the reference check.
func (rs *RuleSet) Validate() error {
	chutes := make(map[int64]bool, len(rs.Chutes))
	for i := range rs.Chutes {
		if err := rs.Chutes[i].Validate(); err != nil {
			return fmt.Errorf("chute %d: %w", i, err)
		}
		if chutes[rs.Chutes[i].ChuteID] {
			return fmt.Errorf("duplicate chute id %d", rs.Chutes[i].ChuteID)
		}
		chutes[rs.Chutes[i].ChuteID] = true
	}

	seen := make(map[string]bool, len(rs.Rules))
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.RuleID, err)
		}
		if seen[rule.RuleID] {
			return fmt.Errorf("duplicate rule id %q", rule.RuleID)
		}
		seen[rule.RuleID] = true
		if len(chutes) > 0 && !chutes[rule.TargetChute] {
			return fmt.Errorf("rule %q targets unknown chute %d", rule.RuleID, rule.TargetChute)
		}
	}
	return nil
}
