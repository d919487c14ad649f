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
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Field names understood by the expression grammar. Lookups are case-insensitive.
const (
	FieldWeight  = "weight"
	FieldVolume  = "volume"
	FieldLength  = "length"
	FieldWidth   = "width"
	FieldHeight  = "height"
	FieldBarcode = "barcode"
)

var (
	orSplitter     = regexp.MustCompile(`(?i)\s+or\s+`)
	andSplitter    = regexp.MustCompile(`(?i)\s+and\s+`)
	numberWithUnit = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)\s*([a-zA-Z][a-zA-Z0-9]*)?$`)

	// unitFactors scales a literal into grams, millimetres or cubic centimetres.
	unitFactors = map[string]decimal.Decimal{
		"":    decimal.NewFromInt(1),
		"g":   decimal.NewFromInt(1),
		"kg":  decimal.NewFromInt(1000),
		"mm":  decimal.NewFromInt(1),
		"cm":  decimal.NewFromInt(10),
		"m":   decimal.NewFromInt(1000),
		"cm3": decimal.NewFromInt(1),
		"ml":  decimal.NewFromInt(1),
		"dm3": decimal.NewFromInt(1000),
		"l":   decimal.NewFromInt(1000),
		"m3":  decimal.NewFromInt(1000000),
	}
)

// Value is a variable bound into an expression: either a number or a string.
type Value struct {
	Number   decimal.Decimal
	Text     string
	IsNumber bool
}

// NumberValue wraps a measured quantity.
func NumberValue(v float64) Value {
	return Value{Number: decimal.NewFromFloat(v), IsNumber: true}
}

// TextValue wraps a string field such as a barcode or an OCR segment.
func TextValue(v string) Value {
	return Value{Text: v}
}

// Variables maps lower-case field names to values.
type Variables map[string]Value

// Evaluate runs a boolean expression built from comparisons joined by "and"/"or".
// "or" binds looser than "and" and there is no parenthesis nesting. A comparison
// with no left-hand field applies to primary, so "> 1000" works for a weight rule.
func Evaluate(expression string, vars Variables, primary string) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, fmt.Errorf("empty expression")
	}
	expression = strings.NewReplacer("&&", " and ", "||", " or ").Replace(expression)

	for _, disjunct := range orSplitter.Split(expression, -1) {
		matched := true
		for _, atom := range andSplitter.Split(disjunct, -1) {
			ok, err := evaluateComparison(atom, vars, primary)
			if err != nil {
				return false, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// comparison is a single "field op literal" term.
type comparison struct {
	field string
	op    string
	value string
}

func parseComparison(atom string) (comparison, error) {
	atom = strings.TrimSpace(atom)
	for i := 0; i < len(atom); i++ {
		switch atom[i] {
		case '<', '>', '=', '!':
			op := string(atom[i])
			if i+1 < len(atom) && atom[i+1] == '=' {
				op += "="
			}
			if op == "!" {
				return comparison{}, fmt.Errorf("invalid operator in %q", atom)
			}
			return comparison{
				field: strings.ToLower(strings.TrimSpace(atom[:i])),
				op:    op,
				value: unquote(strings.TrimSpace(atom[i+len(op):])),
			}, nil
		}
	}
	return comparison{}, fmt.Errorf("no comparison operator in %q", atom)
}

func evaluateComparison(atom string, vars Variables, primary string) (bool, error) {
	c, err := parseComparison(atom)
	if err != nil {
		return false, err
	}
	if c.field == "" {
		c.field = primary
	}
	if c.field == "" {
		return false, fmt.Errorf("comparison %q names no field", atom)
	}
	v, ok := vars[c.field]
	if !ok {
		return false, fmt.Errorf("unknown field %q", c.field)
	}

	if v.IsNumber {
		literal, err := ParseQuantity(c.value)
		if err != nil {
			return false, err
		}
		return compareNumbers(v.Number, c.op, literal)
	}
	return compareText(v.Text, c.op, c.value)
}

// ParseQuantity parses a literal such as "1.5kg" or "30cm" into base units.
func ParseQuantity(literal string) (decimal.Decimal, error) {
	m := numberWithUnit.FindStringSubmatch(strings.TrimSpace(literal))
	if m == nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", literal)
	}
	factor, ok := unitFactors[strings.ToLower(m[2])]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown unit %q", m[2])
	}
	n, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Zero, err
	}
	return n.Mul(factor), nil
}

func compareNumbers(actual decimal.Decimal, op string, expected decimal.Decimal) (bool, error) {
	cmp := actual.Cmp(expected)
	switch op {
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	case "=", "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// compareText handles string fields. "^X" means starts with X and "X$" ends with X.
// Ordering operators fall back to a numeric comparison when both sides are numbers.
func compareText(actual, op, expected string) (bool, error) {
	switch op {
	case "=", "==":
		return textEquals(actual, expected), nil
	case "!=":
		return !textEquals(actual, expected), nil
	}

	a, errA := decimal.NewFromString(strings.TrimSpace(actual))
	e, errE := decimal.NewFromString(expected)
	if errA != nil || errE != nil {
		return false, fmt.Errorf("operator %q needs numeric operands, got %q and %q", op, actual, expected)
	}
	return compareNumbers(a, op, e)
}

func textEquals(actual, expected string) bool {
	actual = strings.ToUpper(actual)
	expected = strings.ToUpper(expected)
	switch {
	case strings.HasPrefix(expected, "^"):
		return strings.HasPrefix(actual, expected[1:])
	case strings.HasSuffix(expected, "$") && len(expected) > 1:
		return strings.HasSuffix(actual, expected[:len(expected)-1])
	}
	return actual == expected
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
