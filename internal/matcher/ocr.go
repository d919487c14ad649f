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

// OcrMatcher evaluates expressions over OCR label segments returned by the third-party
// collaborator, e.g. "firstSegmentCode = ^64". No OCR data means no match, not an error.
type OcrMatcher struct{}

func (OcrMatcher) Match(expression string, in Input) (bool, error) {
	if in.ThirdParty == nil || in.ThirdParty.Ocr == nil {
		return false, nil
	}

	vars := Variables{}
	for name, value := range in.ThirdParty.Ocr.Fields() {
		vars[name] = TextValue(value)
	}
	return Evaluate(expression, vars, "")
}
