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

// Package commlog records every message exchanged with the sorter, the DWS devices and
// third-party systems. Recording is fire-and-forget: a sink never returns an error to the
// caller and never blocks the sort path.
package commlog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Direction of a recorded message relative to this process.
type Direction string

const (
	Inbound  Direction = "INBOUND"
	Outbound Direction = "OUTBOUND"
)

// Channels used by the callers in this module.
const (
	ChannelSorter     = "sorter"
	ChannelDws        = "dws"
	ChannelThirdParty = "third_party"
)

// Entry is one recorded message.
type Entry struct {
	Direction Direction `json:"direction"`
	Channel   string    `json:"channel"`
	Peer      string    `json:"peer,omitempty"`
	ParcelID  int64     `json:"parcel_id,omitempty"`
	Raw       string    `json:"raw"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// NewEntry fills in the timestamp and the error text.
func NewEntry(direction Direction, channel, peer string, raw []byte, err error) Entry {
	e := Entry{
		Direction: direction,
		Channel:   channel,
		Peer:      peer,
		Raw:       string(raw),
		Success:   err == nil,
		At:        time.Now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink accepts communication log entries.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Record(context.Context, Entry) {}

// LogrusSink writes entries as structured log lines.
type LogrusSink struct {
	Logger *logrus.Logger
}

func (s LogrusSink) Record(_ context.Context, e Entry) {
	logger := s.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(logrus.Fields{
		"direction": e.Direction,
		"channel":   e.Channel,
		"peer":      e.Peer,
		"raw":       e.Raw,
	})
	if e.ParcelID != 0 {
		entry = entry.WithField("parcel_id", e.ParcelID)
	}
	if !e.Success {
		entry.WithField("error", e.Error).Warn("communication failed")
		return
	}
	entry.Debug("communication")
}

// Multi fans an entry out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard{}
	}
	return s
}
