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
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/cache"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

const vendorYAML = `
active: wms
vendors:
  - name: erp
    enabled: false
    base_url: https://erp.example.com
    path: /parcel
  - name: wms
    enabled: true
    auth_type: md5_sign
    api_key: app-1
    api_secret: ${WMS_TEST_SECRET}
    base_url: https://wms.example.com/
    path: /api/parcels/{barcode}/route
    request_config:
      field_mapping:
        barcode: waybillNo
        cart_number: ""
      static_fields:
        site: SZ01
    response_mapping:
      success_field: code
      success_values: ["0", "200"]
      ocr_fields:
        firstSegmentCode: data.ocr.segments.0
        recipientAddress: data.ocr.address
`

func newMockedResponder(t *testing.T) (*HTTPResponder, *http.Client) {
	t.Helper()
	t.Setenv("WMS_TEST_SECRET", "s3cret")
	cfg, err := LoadConfigFromBytes([]byte(vendorYAML))
	require.NoError(t, err)
	vendor, err := cfg.Select()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", vendor.APISecret)

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewHTTPResponder(vendor, client), client
}

func TestHTTPResponderSuccess(t *testing.T) {
	r, _ := newMockedResponder(t)
	parcel := model.ParcelInfo{ParcelID: 88888, CartNumber: "C1", Barcode: "SF1"}
	dws := &model.DwsData{Barcode: "9812306574285", Weight: 1500, Length: 300, Width: 200, Height: 150}

	var received map[string]interface{}
	httpmock.RegisterResponder("POST", "https://wms.example.com/api/parcels/9812306574285/route",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
			assert.Equal(t, "app-1", req.Header.Get("X-App-Key"))
			assert.Len(t, req.Header.Get("X-Sign"), 32)
			return httpmock.NewStringResponse(200, `{"code":0,"data":{"route":"EAST","ocr":{"segments":["641","22"],"address":"Shenzhen"}}}`), nil
		})

	resp, err := r.CallAPI(context.Background(), parcel, dws)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "wms", resp.Provider)
	require.NotNil(t, resp.Ocr)
	assert.Equal(t, "641", resp.Ocr.FirstSegmentCode)
	assert.Equal(t, "Shenzhen", resp.Ocr.RecipientAddress)

	assert.Equal(t, "9812306574285", received["waybillNo"])
	assert.Equal(t, "SZ01", received["site"])
	assert.NotContains(t, received, "cart_number")
	assert.NotContains(t, received, "barcode")
	assert.Equal(t, 1500.0, received["weight"])
}

func TestHTTPResponderFailures(t *testing.T) {
	r, _ := newMockedResponder(t)
	parcel := model.ParcelInfo{ParcelID: 1, Barcode: "SF1"}

	httpmock.RegisterResponder("POST", "https://wms.example.com/api/parcels/SF1/route",
		httpmock.NewStringResponder(503, `{"message":"maintenance"}`))
	_, err := r.CallAPI(context.Background(), parcel, nil)
	assert.ErrorIs(t, err, ErrThirdPartyUnavailable)

	httpmock.RegisterResponder("POST", "https://wms.example.com/api/parcels/SF1/route",
		httpmock.NewErrorResponder(context.DeadlineExceeded))
	_, err = r.CallAPI(context.Background(), parcel, nil)
	assert.ErrorIs(t, err, ErrThirdPartyUnavailable)

	httpmock.RegisterResponder("POST", "https://wms.example.com/api/parcels/SF1/route",
		httpmock.NewStringResponder(200, `{"code":500}`))
	resp, err := r.CallAPI(context.Background(), parcel, nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Ocr)
}

func TestSelectErrors(t *testing.T) {
	cfg := &Config{Active: "missing", Vendors: []VendorConfig{{Name: "wms", Enabled: true, BaseURL: "https://x"}}}
	_, err := cfg.Select()
	assert.Error(t, err)

	cfg = &Config{Vendors: []VendorConfig{{Name: "wms", Enabled: true, BaseURL: "https://x", AuthType: AuthBearer}}}
	_, err = cfg.Select()
	assert.Error(t, err)

	cfg = &Config{Vendors: []VendorConfig{{Name: "wms", Enabled: true, BaseURL: "https://x"}}}
	v, err := cfg.Select()
	require.NoError(t, err)
	assert.Equal(t, "wms", v.Name)

	_, err = (&Config{}).Select()
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := t.TempDir() + "/vendors.yaml"
	require.NoError(t, os.WriteFile(path, []byte(vendorYAML), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Vendors, 2)
}

func TestSignIsStable(t *testing.T) {
	a := Sign("secret", []byte(`{"a":1}`), "1700000000000")
	assert.Equal(t, a, Sign("secret", []byte(`{"a":1}`), "1700000000000"))
	assert.NotEqual(t, a, Sign("secret", []byte(`{"a":2}`), "1700000000000"))
}

type countingResponder struct {
	calls int
	resp  *model.ThirdPartyResponse
}

func (c *countingResponder) Name() string { return "counting" }

func (c *countingResponder) CallAPI(context.Context, model.ParcelInfo, *model.DwsData) (*model.ThirdPartyResponse, error) {
	c.calls++
	out := *c.resp
	return &out, nil
}

func TestCachedResponder(t *testing.T) {
	next := &countingResponder{resp: &model.ThirdPartyResponse{Provider: "counting", Success: true, Body: `{"route":"EAST"}`, Duration: 5 * time.Millisecond}}
	r := NewCachedResponder(next, cache.NewCache(nil, 100, time.Minute), time.Minute)
	parcel := model.ParcelInfo{ParcelID: 1}
	dws := &model.DwsData{Barcode: "SF1"}

	first, err := r.CallAPI(context.Background(), parcel, dws)
	require.NoError(t, err)
	second, err := r.CallAPI(context.Background(), parcel, dws)
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first.Body, second.Body)

	_, err = r.CallAPI(context.Background(), model.ParcelInfo{ParcelID: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	next.resp.Success = false
	_, err = r.CallAPI(context.Background(), parcel, &model.DwsData{Barcode: "SF2"})
	require.NoError(t, err)
	_, err = r.CallAPI(context.Background(), parcel, &model.DwsData{Barcode: "SF2"})
	require.NoError(t, err)
	assert.Equal(t, 4, next.calls)
}
