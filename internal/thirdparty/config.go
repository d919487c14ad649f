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
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Supported auth_type values.
const (
	AuthNone    = "none"
	AuthBearer  = "bearer"
	AuthBasic   = "basic"
	AuthHeader  = "header"
	AuthMD5Sign = "md5_sign"
)

type VendorConfig struct {
	Name            string            `yaml:"name"`
	Enabled         bool              `yaml:"enabled"`
	APIKey          string            `yaml:"api_key,omitempty"`
	APISecret       string            `yaml:"api_secret,omitempty"`
	AuthType        string            `yaml:"auth_type"`
	AuthHeader      string            `yaml:"auth_header,omitempty"`
	BaseURL         string            `yaml:"base_url"`
	Method          string            `yaml:"method,omitempty"`
	Path            string            `yaml:"path"`
	TimeoutMs       int               `yaml:"timeout_ms,omitempty"`
	RequestConfig   RequestConfig     `yaml:"request_config,omitempty"`
	ResponseMapping ResponseMapping   `yaml:"response_mapping,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
}

type RequestConfig struct {
	ContentType string `yaml:"content_type,omitempty"`
	// FieldMapping renames the default request fields (barcode, parcel_id, cart_number,
	// weight, length, width, height, volume, scan_time). Fields mapped to "" are left out.
	FieldMapping map[string]string `yaml:"field_mapping,omitempty"`
	StaticFields map[string]string `yaml:"static_fields,omitempty"`
}

type ResponseMapping struct {
	SuccessField  string   `yaml:"success_field,omitempty"`
	SuccessValues []string `yaml:"success_values,omitempty"`
	// OcrFields maps an OCR attribute (e.g. firstSegmentCode) to a dotted path in the body.
	OcrFields map[string]string `yaml:"ocr_fields,omitempty"`
}

type Config struct {
	// Active names the vendor to use. Empty means the first enabled vendor.
	Active  string         `yaml:"active"`
	Vendors []VendorConfig `yaml:"vendors"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfigFromBytes(data)
}

func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Select returns the active vendor with secrets expanded from the environment.
func (c *Config) Select() (VendorConfig, error) {
	for _, v := range c.Vendors {
		if !v.Enabled {
			logrus.Infof("third-party vendor %s is disabled, skipping", v.Name)
			continue
		}
		if c.Active != "" && !strings.EqualFold(v.Name, c.Active) {
			continue
		}
		v.APIKey = expandEnvVar(v.APIKey)
		v.APISecret = expandEnvVar(v.APISecret)
		if err := v.Validate(); err != nil {
			return VendorConfig{}, fmt.Errorf("vendor %s: %w", v.Name, err)
		}
		return v, nil
	}
	if c.Active != "" {
		return VendorConfig{}, fmt.Errorf("vendor %s is not configured or not enabled", c.Active)
	}
	return VendorConfig{}, fmt.Errorf("no enabled third-party vendor")
}

func (v VendorConfig) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Name, validation.Required),
		validation.Field(&v.BaseURL, validation.Required),
		validation.Field(&v.AuthType, validation.In("", AuthNone, AuthBearer, AuthBasic, AuthHeader, AuthMD5Sign)),
		validation.Field(&v.APIKey, validation.When(v.AuthType != "" && v.AuthType != AuthNone, validation.Required)),
		validation.Field(&v.APISecret, validation.When(v.AuthType == AuthMD5Sign || v.AuthType == AuthBasic, validation.Required)),
		validation.Field(&v.Method, validation.In("", "GET", "POST", "PUT")),
		validation.Field(&v.TimeoutMs, validation.Min(0)),
	)
}

func expandEnvVar(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envName := value[2 : len(value)-1]
		if envValue := os.Getenv(envName); envValue != "" {
			return envValue
		}
	}
	return value
}
