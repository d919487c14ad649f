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

package model

import (
	"math"
	"time"
)

// VolumetricDivisor converts cubic millimetres into volumetric grams (L*W*H mm / 6000).
const VolumetricDivisor = 6000

// DwsData is one reading of the dimension/weight scanner. It is never mutated after parsing.
type DwsData struct {
	Barcode  string    `json:"barcode"`
	Weight   float64   `json:"weight"` // grams
	Length   float64   `json:"length"` // millimetres
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Volume   float64   `json:"volume"` // cubic centimetres
	ScanTime time.Time `json:"scan_time"`
}

// ComputedVolume returns the reported volume, or L*W*H converted to cm3 when the scanner sent none.
func (d *DwsData) ComputedVolume() float64 {
	if d.Volume > 0 {
		return d.Volume
	}
	return d.Length * d.Width * d.Height / 1000
}

// VolumetricWeight returns the courier volumetric weight in grams.
func (d *DwsData) VolumetricWeight() float64 {
	return math.Round(d.Length * d.Width * d.Height / VolumetricDivisor)
}

// OcrData carries the address-label segments recognised by a third-party OCR service.
type OcrData struct {
	ThreeSegmentCode     string `json:"threeSegmentCode,omitempty"`
	FirstSegmentCode     string `json:"firstSegmentCode,omitempty"`
	SecondSegmentCode    string `json:"secondSegmentCode,omitempty"`
	ThirdSegmentCode     string `json:"thirdSegmentCode,omitempty"`
	RecipientAddress     string `json:"recipientAddress,omitempty"`
	SenderAddress        string `json:"senderAddress,omitempty"`
	RecipientPhoneSuffix string `json:"recipientPhoneSuffix,omitempty"`
	SenderPhoneSuffix    string `json:"senderPhoneSuffix,omitempty"`
}

// Fields exposes the OCR segments by name for expression evaluation.
func (o *OcrData) Fields() map[string]string {
	return map[string]string{
		"threesegmentcode":     o.ThreeSegmentCode,
		"firstsegmentcode":     o.FirstSegmentCode,
		"secondsegmentcode":    o.SecondSegmentCode,
		"thirdsegmentcode":     o.ThirdSegmentCode,
		"recipientaddress":     o.RecipientAddress,
		"senderaddress":        o.SenderAddress,
		"recipientphonesuffix": o.RecipientPhoneSuffix,
		"senderphonesuffix":    o.SenderPhoneSuffix,
	}
}

// ThirdPartyResponse is the outcome of one call to an external order-management system.
type ThirdPartyResponse struct {
	Provider    string        `json:"provider"`
	Success     bool          `json:"success"`
	StatusCode  int           `json:"status_code"`
	Body        string        `json:"body"`
	Ocr         *OcrData      `json:"ocr,omitempty"`
	Duration    time.Duration `json:"duration"`
	RequestedAt time.Time     `json:"requested_at"`
}
