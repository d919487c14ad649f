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

package commlog

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultKey        = "sorting:commlog"
	DefaultMaxEntries = 10000
	DefaultBuffer     = 1024
	writeTimeout      = 2 * time.Second
)

// RedisSink appends entries to a capped Redis list from a background goroutine. Entries
// are dropped when the buffer is full.
type RedisSink struct {
	client     redis.UniversalClient
	key        string
	maxEntries int64
	entries    chan Entry
	dropped    atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisSink starts a sink writing to key, keeping at most maxEntries entries.
func NewRedisSink(client redis.UniversalClient, key string, maxEntries, buffer int) *RedisSink {
	if key == "" {
		key = DefaultKey
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &RedisSink{
		client:     client,
		key:        key,
		maxEntries: int64(maxEntries),
		entries:    make(chan Entry, buffer),
		done:       make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *RedisSink) Record(_ context.Context, e Entry) {
	select {
	case s.entries <- e:
	default:
		if s.dropped.Add(1)%100 == 1 {
			logrus.Warnf("commlog: buffer full, dropped %d entries so far", s.dropped.Load())
		}
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (s *RedisSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes the buffered entries and stops the writer.
func (s *RedisSink) Close() {
	s.closeOnce.Do(func() {
		close(s.entries)
		<-s.done
	})
}

func (s *RedisSink) loop() {
	defer close(s.done)
	for e := range s.entries {
		s.write(e)
	}
}

func (s *RedisSink) write(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		logrus.Errorf("commlog: failed to encode entry: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, s.maxEntries-1)
		return nil
	})
	if err != nil {
		logrus.Warnf("commlog: failed to write entry: %v", err)
	}
}

// Recent reads back up to n of the newest entries.
func Recent(ctx context.Context, client redis.UniversalClient, key string, n int64) ([]Entry, error) {
	if key == "" {
		key = DefaultKey
	}
	raw, err := client.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
