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

import "time"

// Metadata keys the sorter may attach to a detection.
const (
	MetadataBarcode    = "barcode"
	MetadataCartNumber = "cartNumber"

	// MetadataDetectionTime keeps the sorter's own timestamp (RFC 3339) next to the
	// locally stamped DetectedAt.
	MetadataDetectionTime = "detectionTime"
)

// ParcelDetectionNotification is sent by the sorter when a parcel enters the line.
type ParcelDetectionNotification struct {
	ParcelID      int64             `json:"parcelId"`
	DetectionTime time.Time         `json:"detectionTime"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ChuteAssignmentNotification tells the sorter where to divert a parcel.
type ChuteAssignmentNotification struct {
	ParcelID   int64       `json:"parcelId"`
	ChuteID    int64       `json:"chuteId"`
	AssignedAt time.Time   `json:"assignedAt"`
	DwsPayload *DwsPayload `json:"dwsPayload,omitempty"`
}

// DwsPayload is the measured data echoed back to the sorter with an assignment.
type DwsPayload struct {
	Barcode               string    `json:"barcode"`
	WeightGrams           float64   `json:"weightGrams"`
	LengthMm              float64   `json:"lengthMm"`
	WidthMm               float64   `json:"widthMm"`
	HeightMm              float64   `json:"heightMm"`
	VolumetricWeightGrams float64   `json:"volumetricWeightGrams,omitempty"`
	MeasuredAt            time.Time `json:"measuredAt,omitempty"`
}

// NewDwsPayload converts a scanner reading into its wire form. It returns nil for nil input.
func NewDwsPayload(d *DwsData) *DwsPayload {
	if d == nil {
		return nil
	}
	return &DwsPayload{
		Barcode:               d.Barcode,
		WeightGrams:           d.Weight,
		LengthMm:              d.Length,
		WidthMm:               d.Width,
		HeightMm:              d.Height,
		VolumetricWeightGrams: d.VolumetricWeight(),
		MeasuredAt:            d.ScanTime,
	}
}
