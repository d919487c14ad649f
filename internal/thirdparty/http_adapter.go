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
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/request"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

const (
	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 1 << 20
)

// HTTPResponder calls a vendor's HTTP endpoint described by a VendorConfig.
type HTTPResponder struct {
	config     VendorConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPResponder creates a responder. A nil client gets one with the vendor timeout.
func NewHTTPResponder(config VendorConfig, client *http.Client) *HTTPResponder {
	if client == nil {
		timeout := defaultTimeout
		if config.TimeoutMs > 0 {
			timeout = time.Duration(config.TimeoutMs) * time.Millisecond
		}
		client = &http.Client{Timeout: timeout}
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	return &HTTPResponder{config: config, httpClient: client, now: time.Now}
}

func (p *HTTPResponder) Name() string {
	return p.config.Name
}

// CallAPI reports the parcel to the vendor and returns its answer. Transport errors and
// non-2xx statuses wrap ErrThirdPartyUnavailable.
func (p *HTTPResponder) CallAPI(ctx context.Context, parcel model.ParcelInfo, dws *model.DwsData) (*model.ThirdPartyResponse, error) {
	ctx, span := otel.Tracer("sorting.thirdparty").Start(ctx, "thirdparty.CallAPI")
	defer span.End()
	span.SetAttributes(
		attribute.String("vendor", p.config.Name),
		attribute.Int64("parcel_id", parcel.ParcelID),
	)

	started := p.now()
	req, err := p.buildRequest(ctx, parcel, dws, started)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %s: %v", ErrThirdPartyUnavailable, p.config.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrThirdPartyUnavailable, p.config.Name, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: %s returned status %d: %s", ErrThirdPartyUnavailable, p.config.Name, resp.StatusCode, truncate(string(body), 256))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &model.ThirdPartyResponse{
		Provider:    p.config.Name,
		Success:     true,
		StatusCode:  resp.StatusCode,
		Body:        string(body),
		Duration:    p.now().Sub(started),
		RequestedAt: started,
	}
	p.parseResponse(body, out)
	return out, nil
}

func (p *HTTPResponder) buildRequest(ctx context.Context, parcel model.ParcelInfo, dws *model.DwsData, at time.Time) (*http.Request, error) {
	body := p.buildRequestBody(parcel, dws)
	target := strings.TrimRight(p.config.BaseURL, "/") + p.replacePlaceholders(p.config.Path, parcel, dws)

	var (
		reader   io.Reader
		rawBody  []byte
		err      error
		isGetReq = p.config.Method == http.MethodGet
	)
	if isGetReq {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid vendor url: %w", err)
		}
		q := u.Query()
		for k, v := range body {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
		target = u.String()
	} else {
		rawBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(rawBody)
	}

	req, err := http.NewRequestWithContext(ctx, p.config.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if !isGetReq {
		contentType := p.config.RequestConfig.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}
	p.addAuth(req, rawBody, at)
	return req, nil
}

func (p *HTTPResponder) addAuth(req *http.Request, body []byte, at time.Time) {
	switch strings.ToLower(p.config.AuthType) {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	case AuthBasic:
		req.Header.Set("Authorization", "Basic "+request.BasicAuth(p.config.APIKey, p.config.APISecret))
	case AuthHeader:
		header := p.config.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, p.config.APIKey)
	case AuthMD5Sign:
		ts := strconv.FormatInt(at.UnixMilli(), 10)
		req.Header.Set("X-App-Key", p.config.APIKey)
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Sign", Sign(p.config.APISecret, body, ts))
	}
}

// Sign returns upper-case hex md5(secret + body + timestamp + secret), the signature
// scheme common to Chinese WMS/ERP gateways.
func Sign(secret string, body []byte, timestamp string) string {
	h := md5.New()
	h.Write([]byte(secret))
	h.Write(body)
	h.Write([]byte(timestamp))
	h.Write([]byte(secret))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func (p *HTTPResponder) buildRequestBody(parcel model.ParcelInfo, dws *model.DwsData) map[string]interface{} {
	values := map[string]interface{}{
		"barcode":     parcel.Barcode,
		"parcel_id":   parcel.ParcelID,
		"cart_number": parcel.CartNumber,
	}
	if dws != nil {
		if dws.Barcode != "" {
			values["barcode"] = dws.Barcode
		}
		values["weight"] = dws.Weight
		values["length"] = dws.Length
		values["width"] = dws.Width
		values["height"] = dws.Height
		values["volume"] = dws.ComputedVolume()
		if !dws.ScanTime.IsZero() {
			values["scan_time"] = dws.ScanTime.Format(time.RFC3339)
		}
	}

	body := make(map[string]interface{}, len(values))
	mapping := p.config.RequestConfig.FieldMapping
	for field, value := range values {
		name := field
		if mapped, ok := mapping[field]; ok {
			if mapped == "" {
				continue
			}
			name = mapped
		}
		body[name] = value
	}
	for k, v := range p.config.RequestConfig.StaticFields {
		body[k] = expandEnvVar(v)
	}
	return body
}

func (p *HTTPResponder) replacePlaceholders(path string, parcel model.ParcelInfo, dws *model.DwsData) string {
	barcode := parcel.Barcode
	if dws != nil && dws.Barcode != "" {
		barcode = dws.Barcode
	}
	return strings.NewReplacer(
		"{barcode}", url.PathEscape(barcode),
		"{parcel_id}", strconv.FormatInt(parcel.ParcelID, 10),
		"{cart_number}", url.PathEscape(parcel.CartNumber),
	).Replace(path)
}

// parseResponse fills Success and Ocr from the configured response mapping. Non-JSON
// bodies are kept as they are.
func (p *HTTPResponder) parseResponse(body []byte, out *model.ThirdPartyResponse) {
	mapping := p.config.ResponseMapping
	if mapping.SuccessField == "" && len(mapping.OcrFields) == 0 {
		return
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		if mapping.SuccessField != "" {
			out.Success = false
		}
		return
	}

	if mapping.SuccessField != "" {
		value := fmt.Sprint(getNestedValue(data, mapping.SuccessField))
		out.Success = len(mapping.SuccessValues) == 0 && value == "true"
		for _, v := range mapping.SuccessValues {
			if strings.EqualFold(v, value) {
				out.Success = true
			}
		}
	}

	if len(mapping.OcrFields) > 0 {
		ocr := &model.OcrData{}
		found := false
		for field, path := range mapping.OcrFields {
			value := getNestedValue(data, path)
			if value == nil {
				continue
			}
			if setOcrField(ocr, field, fmt.Sprint(value)) {
				found = true
			}
		}
		if found {
			out.Ocr = ocr
		}
	}
}

func getNestedValue(data map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	current := interface{}(data)

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]interface{}:
			current = node[part]
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			current = node[i]
		default:
			return nil
		}
	}
	return current
}

func setOcrField(ocr *model.OcrData, field, value string) bool {
	switch strings.ToLower(field) {
	case "threesegmentcode":
		ocr.ThreeSegmentCode = value
	case "firstsegmentcode":
		ocr.FirstSegmentCode = value
	case "secondsegmentcode":
		ocr.SecondSegmentCode = value
	case "thirdsegmentcode":
		ocr.ThirdSegmentCode = value
	case "recipientaddress":
		ocr.RecipientAddress = value
	case "senderaddress":
		ocr.SenderAddress = value
	case "recipientphonesuffix":
		ocr.RecipientPhoneSuffix = value
	case "senderphonesuffix":
		ocr.SenderPhoneSuffix = value
	default:
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
