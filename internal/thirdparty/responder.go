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

// Package thirdparty consults external order-management systems before a sort decision.
// Every vendor is reached through the same Responder interface; which one is used is a
// configuration choice.
package thirdparty

import (
	"context"
	"errors"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// ErrThirdPartyUnavailable wraps transport failures, timeouts and non-2xx answers.
var ErrThirdPartyUnavailable = errors.New("third-party system unavailable")

// Responder asks an external system about a parcel.
type Responder interface {
	Name() string
	CallAPI(ctx context.Context, parcel model.ParcelInfo, dws *model.DwsData) (*model.ThirdPartyResponse, error)
}
