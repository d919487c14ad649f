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

// NumericMatcher evaluates threshold expressions over the DWS measurements, e.g.
// "Weight > 1000 and Weight <= 5kg". Terms without a field name apply to Field.
// A parcel without DWS data never matches.
type NumericMatcher struct {
	Field string
}

func (m NumericMatcher) Match(expression string, in Input) (bool, error) {
	vars := dimensionVariables(in.Dws)
	if vars == nil {
		return false, nil
	}
	return Evaluate(expression, vars, m.Field)
}
