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
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DwsTimeoutConfig is the binding window policy shared by the registry and the supervisor.
type DwsTimeoutConfig struct {
	Enabled          bool  `json:"enabled" envconfig:"SORTING_DWS_TIMEOUT_ENABLED"`
	MinWaitMs        int64 `json:"min_wait_ms" envconfig:"SORTING_DWS_MIN_WAIT_MS"`
	MaxWaitMs        int64 `json:"max_wait_ms" envconfig:"SORTING_DWS_MAX_WAIT_MS"`
	CheckIntervalMs  int64 `json:"check_interval_ms" envconfig:"SORTING_DWS_CHECK_INTERVAL_MS"`
	ExceptionChuteID int64 `json:"exception_chute_id" envconfig:"SORTING_DWS_EXCEPTION_CHUTE_ID"`
}

// MinWait returns the earliest offset after detection at which DWS data may bind.
func (c DwsTimeoutConfig) MinWait() time.Duration {
	return time.Duration(c.MinWaitMs) * time.Millisecond
}

// MaxWait returns the binding deadline measured from detection.
func (c DwsTimeoutConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// CheckInterval returns the supervisor poll period.
func (c DwsTimeoutConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// Validate checks the policy for internally consistent values.
func (c DwsTimeoutConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MinWaitMs, validation.Min(int64(0))),
		validation.Field(&c.MaxWaitMs, validation.Min(c.MinWaitMs)),
		validation.Field(&c.CheckIntervalMs, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.ExceptionChuteID, validation.Required, validation.Min(int64(1))),
	)
}

// TimeoutPolicy holds the current DwsTimeoutConfig and allows it to be swapped while in use.
type TimeoutPolicy struct {
	current atomic.Pointer[DwsTimeoutConfig]
}

// NewTimeoutPolicy returns a policy initialised with cfg.
func NewTimeoutPolicy(cfg DwsTimeoutConfig) *TimeoutPolicy {
	p := &TimeoutPolicy{}
	p.Store(cfg)
	return p
}

// Load returns the policy currently in force.
func (p *TimeoutPolicy) Load() DwsTimeoutConfig {
	cfg := p.current.Load()
	if cfg == nil {
		return DwsTimeoutConfig{}
	}
	return *cfg
}

// Store replaces the policy.
func (p *TimeoutPolicy) Store(cfg DwsTimeoutConfig) {
	p.current.Store(&cfg)
}
