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
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// BarcodeMatcher matches the parcel barcode against a preset or a regular expression.
//
// Presets (keyword case-insensitive, literal comparison case-insensitive):
//
//	STARTSWITH:SF  ENDSWITH:01  CONTAINS:JD  NOTCONTAINS:TEST
//	ALLDIGITS  ALPHANUMERIC  LENGTH:5-10  REGEX:^SF\d+$
//
// Anything else is treated as a raw regular expression. An optional "BARCODE:" tag is ignored.
type BarcodeMatcher struct{}

func (BarcodeMatcher) Match(expression string, in Input) (bool, error) {
	barcode := in.Barcode()
	if barcode == "" {
		return false, nil
	}

	expr := strings.TrimSpace(expression)
	if hasTag(expr, "BARCODE:") {
		expr = strings.TrimSpace(expr[len("BARCODE:"):])
	}

	switch {
	case hasTag(expr, "STARTSWITH:"):
		return strings.HasPrefix(strings.ToUpper(barcode), strings.ToUpper(expr[len("STARTSWITH:"):])), nil
	case hasTag(expr, "ENDSWITH:"):
		return strings.HasSuffix(strings.ToUpper(barcode), strings.ToUpper(expr[len("ENDSWITH:"):])), nil
	case hasTag(expr, "NOTCONTAINS:"):
		return !strings.Contains(strings.ToUpper(barcode), strings.ToUpper(expr[len("NOTCONTAINS:"):])), nil
	case hasTag(expr, "CONTAINS:"):
		return strings.Contains(strings.ToUpper(barcode), strings.ToUpper(expr[len("CONTAINS:"):])), nil
	case strings.EqualFold(expr, "ALLDIGITS"):
		return allRunes(barcode, unicode.IsDigit), nil
	case strings.EqualFold(expr, "ALPHANUMERIC"):
		return allRunes(barcode, func(r rune) bool { return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) }), nil
	case hasTag(expr, "LENGTH:"):
		minLen, maxLen, err := parseLengthRange(expr[len("LENGTH:"):])
		if err != nil {
			return false, err
		}
		n := len([]rune(barcode))
		return n >= minLen && n <= maxLen, nil
	case hasTag(expr, "REGEX:"):
		expr = expr[len("REGEX:"):]
	}

	re, err := compileRegex(expr)
	if err != nil {
		return false, err
	}
	return re.MatchString(barcode), nil
}

func hasTag(expr, tag string) bool {
	return len(expr) >= len(tag) && strings.EqualFold(expr[:len(tag)], tag)
}

func allRunes(s string, pred func(rune) bool) bool {
	for _, r := range s {
		if !pred(r) {
			return false
		}
	}
	return true
}

// parseLengthRange accepts "min-max" or a single exact length.
func parseLengthRange(rng string) (int, int, error) {
	rng = strings.TrimSpace(rng)
	lo, hi, found := strings.Cut(rng, "-")
	lower, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid length range %q", rng)
	}
	if !found {
		return lower, lower, nil
	}
	upper, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil || upper < lower {
		return 0, 0, fmt.Errorf("invalid length range %q", rng)
	}
	return lower, upper, nil
}
