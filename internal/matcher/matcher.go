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

// Package matcher holds the stateless condition strategies a sorting rule can use.
package matcher

import (
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// Input is everything a matcher may look at for one parcel.
type Input struct {
	Parcel     model.ParcelInfo
	Dws        *model.DwsData
	ThirdParty *model.ThirdPartyResponse
}

// Barcode returns the scanned barcode, falling back to the one known at detection.
func (in Input) Barcode() string {
	if in.Dws != nil && in.Dws.Barcode != "" {
		return in.Dws.Barcode
	}
	return in.Parcel.Barcode
}

// Matcher evaluates one rule condition. Implementations must be safe for concurrent use.
type Matcher interface {
	Match(expression string, in Input) (bool, error)
}

// Default returns one matcher per supported matching method.
func Default() map[model.MatchingMethod]Matcher {
	return map[model.MatchingMethod]Matcher{
		model.MatchBarcodeRegex:      BarcodeMatcher{},
		model.MatchWeight:            NumericMatcher{Field: FieldWeight},
		model.MatchVolume:            NumericMatcher{Field: FieldVolume},
		model.MatchOcr:               OcrMatcher{},
		model.MatchApiResponse:       ApiResponseMatcher{},
		model.MatchLowCodeExpression: LowCodeMatcher{},
	}
}

// dimensionVariables exposes the measured values of a DWS reading, or nil without one.
func dimensionVariables(d *model.DwsData) Variables {
	if d == nil {
		return nil
	}
	return Variables{
		FieldWeight: NumberValue(d.Weight),
		FieldVolume: NumberValue(d.ComputedVolume()),
		FieldLength: NumberValue(d.Length),
		FieldWidth:  NumberValue(d.Width),
		FieldHeight: NumberValue(d.Height),
	}
}
