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

// Package rules orders the configured sorting rules and picks the chute for a parcel.
package rules

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/matcher"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// Decision is the outcome of a successful evaluation.
type Decision struct {
	ChuteID int64
	RuleID  string
}

// snapshot is an immutable view of the enabled rules. It is replaced, never edited.
type snapshot struct {
	rules    []model.SortingRule
	chutes   map[int64]model.Chute
	loadedAt time.Time
}

// Engine evaluates parcels against the current rule snapshot.
type Engine struct {
	current  atomic.Pointer[snapshot]
	matchers map[model.MatchingMethod]matcher.Matcher
}

// NewEngine creates an engine with the given matcher strategies, or the default set when nil.
// The engine starts with an empty rule set.
func NewEngine(matchers map[model.MatchingMethod]matcher.Matcher) *Engine {
	if matchers == nil {
		matchers = matcher.Default()
	}
	e := &Engine{matchers: matchers}
	e.current.Store(&snapshot{chutes: map[int64]model.Chute{}})
	return e
}

// Load swaps in a new rule set. Disabled rules are dropped and the rest are ordered by
// ascending priority, then by creation time. Rules without a created_at sort ahead of
// dated ones at the same priority and keep their loaded order.
//
// Parameters:
// - set model.RuleSet: The chutes and rules to evaluate from now on.
//
// Returns:
// - int: The number of enabled rules in the new snapshot.
func (e *Engine) Load(set model.RuleSet) int {
	enabled := make([]model.SortingRule, 0, len(set.Rules))
	for _, r := range set.Rules {
		if r.IsEnabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Priority != enabled[j].Priority {
			return enabled[i].Priority < enabled[j].Priority
		}
		return enabled[i].CreatedAt.Before(enabled[j].CreatedAt)
	})

	chutes := make(map[int64]model.Chute, len(set.Chutes))
	for _, c := range set.Chutes {
		chutes[c.ChuteID] = c
	}

	e.current.Store(&snapshot{rules: enabled, chutes: chutes, loadedAt: time.Now()})
	logrus.WithFields(logrus.Fields{
		"rules":  len(enabled),
		"chutes": len(chutes),
	}).Info("rule snapshot loaded")
	return len(enabled)
}

// Rules returns the enabled rules in evaluation order.
func (e *Engine) Rules() []model.SortingRule {
	s := e.current.Load()
	out := make([]model.SortingRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Chute returns a configured chute by id.
func (e *Engine) Chute(id int64) (model.Chute, bool) {
	c, ok := e.current.Load().chutes[id]
	return c, ok
}

// Evaluate returns the target chute of the first matching rule. A rule whose matcher
// fails, panics, or targets a disabled chute is skipped rather than aborting evaluation.
//
// Parameters:
// - in matcher.Input: The parcel identity, DWS reading and optional third-party response.
//
// Returns:
// - Decision: The matched chute and rule.
// - bool: False when no rule matched.
func (e *Engine) Evaluate(in matcher.Input) (Decision, bool) {
	s := e.current.Load()
	for _, rule := range s.rules {
		if c, known := s.chutes[rule.TargetChute]; known && !c.IsEnabled {
			continue
		}
		if e.matchRule(rule, in) {
			return Decision{ChuteID: rule.TargetChute, RuleID: rule.RuleID}, true
		}
	}
	return Decision{}, false
}

func (e *Engine) matchRule(rule model.SortingRule, in matcher.Input) (matched bool) {
	m, ok := e.matchers[rule.MatchingMethod]
	if !ok {
		logrus.WithField("rule_id", rule.RuleID).Warnf("no matcher for method %s", rule.MatchingMethod)
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithField("rule_id", rule.RuleID).Errorf("matcher panicked: %v", rec)
			matched = false
		}
	}()

	matched, err := m.Match(rule.ConditionExpression, in)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"rule_id":    rule.RuleID,
			"parcel_id":  in.Parcel.ParcelID,
			"expression": rule.ConditionExpression,
		}).Debugf("rule skipped: %v", err)
		return false
	}
	return matched
}

// Describe returns a one-line summary of the active snapshot for logs and the CLI.
func (e *Engine) Describe() string {
	s := e.current.Load()
	return fmt.Sprintf("%d enabled rules, %d chutes, loaded %s", len(s.rules), len(s.chutes), s.loadedAt.Format(time.RFC3339))
}
