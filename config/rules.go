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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// LoadRuleSet reads and validates a YAML rule set. An empty path yields an empty set.
//
//	chutes:
//	  - chute_id: 3
//	    name: Heavy
//	    is_enabled: true
//	rules:
//	  - rule_id: heavy
//	    priority: 10
//	    matching_method: WeightMatch
//	    condition_expression: "Weight > 1.0kg"
//	    target_chute: 3
//	    is_enabled: true
func LoadRuleSet(path string) (model.RuleSet, error) {
	if path == "" {
		return model.RuleSet{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.RuleSet{}, err
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes and validates YAML rule set data.
func ParseRuleSet(data []byte) (model.RuleSet, error) {
	var set model.RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return model.RuleSet{}, fmt.Errorf("parse rule set: %w", err)
	}
	if err := set.Validate(); err != nil {
		return model.RuleSet{}, fmt.Errorf("invalid rule set: %w", err)
	}
	return set, nil
}
