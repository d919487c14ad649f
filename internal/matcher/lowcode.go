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

import "regexp"

var ifWrapper = regexp.MustCompile(`(?is)^\s*if\s*\((.*)\)\s*$`)

// LowCodeMatcher evaluates expressions that mix measurements and the barcode, such as
// "if(Weight > 1kg and Barcode = ^SF)". The if(...) wrapper is optional.
type LowCodeMatcher struct{}

func (LowCodeMatcher) Match(expression string, in Input) (bool, error) {
	if m := ifWrapper.FindStringSubmatch(expression); m != nil {
		expression = m[1]
	}

	vars := dimensionVariables(in.Dws)
	if vars == nil {
		vars = Variables{}
	}
	vars[FieldBarcode] = TextValue(in.Barcode())
	return Evaluate(expression, vars, "")
}
