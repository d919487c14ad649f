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
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// CreateParcel is the HTTP form of a sorter detection.
type CreateParcel struct {
	ParcelID   int64             `json:"parcel_id"`
	CartNumber string            `json:"cart_number"`
	Barcode    string            `json:"barcode"`
	Metadata   map[string]string `json:"metadata"`
}

func (p *CreateParcel) ValidateCreateParcel() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ParcelID, validation.Required, validation.Min(int64(1))),
	)
}

// ToDetection folds the explicit fields into metadata so the TCP and HTTP paths create
// identical sessions.
func (p *CreateParcel) ToDetection(at time.Time) model.ParcelDetectionNotification {
	metadata := make(map[string]string, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	if p.Barcode != "" {
		metadata[model.MetadataBarcode] = p.Barcode
	}
	if p.CartNumber != "" {
		metadata[model.MetadataCartNumber] = p.CartNumber
	}
	return model.ParcelDetectionNotification{
		ParcelID:      p.ParcelID,
		DetectionTime: at,
		Metadata:      metadata,
	}
}

// DwsReading is the HTTP form of one scanner reading. Weight is in grams, dimensions in
// millimetres and volume in cubic centimetres.
type DwsReading struct {
	Barcode  string    `json:"barcode"`
	Weight   float64   `json:"weight"`
	Length   float64   `json:"length"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Volume   float64   `json:"volume"`
	ScanTime time.Time `json:"scan_time"`
}

func (d *DwsReading) ValidateDwsReading() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Barcode, validation.Required),
		validation.Field(&d.Weight, validation.Min(0.0)),
		validation.Field(&d.Length, validation.Min(0.0)),
		validation.Field(&d.Width, validation.Min(0.0)),
		validation.Field(&d.Height, validation.Min(0.0)),
		validation.Field(&d.Volume, validation.Min(0.0)),
	)
}

func (d *DwsReading) ToDwsData() model.DwsData {
	data := model.DwsData{
		Barcode:  d.Barcode,
		Weight:   d.Weight,
		Length:   d.Length,
		Width:    d.Width,
		Height:   d.Height,
		Volume:   d.Volume,
		ScanTime: d.ScanTime,
	}
	if data.Volume == 0 {
		data.Volume = data.ComputedVolume()
	}
	return data
}

// LinkStatus describes one protocol endpoint and its live connections.
type LinkStatus struct {
	Endpoint string      `json:"endpoint"`
	Role     string      `json:"role"`
	State    string      `json:"state"`
	Links    interface{} `json:"links"`
}
