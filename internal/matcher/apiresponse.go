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

package matcher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Expression tags understood by ApiResponseMatcher.
const (
	TagString        = "STRING:"
	TagStringReverse = "STRING_REVERSE:"
	TagRegex         = "REGEX:"
	TagJSON          = "JSON:"
)

// ApiResponseMatcher inspects the body returned by the third-party collaborator.
//
//	STRING:keyword          body contains keyword
//	STRING_REVERSE:keyword  body ends with keyword
//	REGEX:pattern           body matches pattern
//	JSON:data.route=EAST    dotted path equals value (!= negates, numeric segments index arrays)
//
// Untagged expressions behave like STRING:. Without a response the rule never matches.
type ApiResponseMatcher struct{}

func (ApiResponseMatcher) Match(expression string, in Input) (bool, error) {
	if in.ThirdParty == nil || in.ThirdParty.Body == "" {
		return false, nil
	}
	body := in.ThirdParty.Body
	expr := strings.TrimSpace(expression)

	switch {
	case hasTag(expr, TagStringReverse):
		return strings.HasSuffix(strings.TrimSpace(body), expr[len(TagStringReverse):]), nil
	case hasTag(expr, TagString):
		return strings.Contains(body, expr[len(TagString):]), nil
	case hasTag(expr, TagRegex):
		re, err := compileRegex(expr[len(TagRegex):])
		if err != nil {
			return false, err
		}
		return re.MatchString(body), nil
	case hasTag(expr, TagJSON):
		return matchJSONPath(body, expr[len(TagJSON):])
	}
	return strings.Contains(body, expr), nil
}

func matchJSONPath(body, condition string) (bool, error) {
	negate := false
	path, expected, found := strings.Cut(condition, "!=")
	if found {
		negate = true
	} else {
		path, expected, found = strings.Cut(condition, "=")
		if !found {
			return false, fmt.Errorf("json condition %q has no '='", condition)
		}
	}
	path = strings.TrimSpace(path)
	expected = unquote(strings.TrimSpace(expected))

	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return false, fmt.Errorf("response is not JSON: %w", err)
	}

	value, ok := lookupPath(doc, path)
	if !ok {
		return negate, nil
	}
	equal := stringify(value) == expected
	if negate {
		return !equal, nil
	}
	return equal, nil
}

// lookupPath walks "a.b.0.c" (or "a.b[0].c") through decoded JSON.
func lookupPath(doc interface{}, path string) (interface{}, bool) {
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	current := doc
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, _ := json.Marshal(val)
		return string(raw)
	}
}
