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

package thirdparty

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/cache"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// CachedResponder reuses a vendor's successful answer for the same barcode within ttl.
type CachedResponder struct {
	next  Responder
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedResponder(next Responder, c cache.Cache, ttl time.Duration) *CachedResponder {
	return &CachedResponder{next: next, cache: c, ttl: ttl}
}

func (c *CachedResponder) Name() string {
	return c.next.Name()
}

func (c *CachedResponder) CallAPI(ctx context.Context, parcel model.ParcelInfo, dws *model.DwsData) (*model.ThirdPartyResponse, error) {
	barcode := parcel.Barcode
	if dws != nil && dws.Barcode != "" {
		barcode = dws.Barcode
	}
	if barcode == "" {
		return c.next.CallAPI(ctx, parcel, dws)
	}

	key := fmt.Sprintf("thirdparty:%s:%s", c.next.Name(), barcode)
	var cached model.ThirdPartyResponse
	found, err := c.cache.Get(ctx, key, &cached)
	if err != nil {
		logrus.WithField("barcode", barcode).Warnf("third-party cache read failed: %v", err)
	}
	if found {
		return &cached, nil
	}

	resp, err := c.next.CallAPI(ctx, parcel, dws)
	if err != nil {
		return nil, err
	}
	if resp.Success {
		if err := c.cache.Set(ctx, key, resp, c.ttl); err != nil {
			logrus.WithField("barcode", barcode).Warnf("third-party cache write failed: %v", err)
		}
	}
	return resp, nil
}
