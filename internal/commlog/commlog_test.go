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
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	entries []Entry
}

func (r *recorder) Record(_ context.Context, e Entry) {
	r.entries = append(r.entries, e)
}

func TestNewEntry(t *testing.T) {
	ok := NewEntry(Inbound, ChannelSorter, "10.0.0.1:5000", []byte(`{"parcelId":1}`), nil)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)
	assert.False(t, ok.At.IsZero())

	failed := NewEntry(Outbound, ChannelSorter, "", nil, errors.New("broken pipe"))
	assert.False(t, failed.Success)
	assert.Equal(t, "broken pipe", failed.Error)
}

func TestMultiAndDiscard(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	sink := Multi{a, nil, b, Discard{}}
	sink.Record(context.Background(), Entry{Raw: "x"})

	assert.Len(t, a.entries, 1)
	assert.Len(t, b.entries, 1)
	assert.Equal(t, Discard{}, OrDiscard(nil))
}

func TestLogrusSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := LogrusSink{Logger: logger}

	sink.Record(context.Background(), NewEntry(Inbound, ChannelDws, "dws-1", []byte("SF1,1500"), nil))
	sink.Record(context.Background(), Entry{Channel: ChannelThirdParty, ParcelID: 7, Error: "timeout"})

	require.Len(t, hook.Entries, 2)
	assert.Equal(t, logrus.DebugLevel, hook.Entries[0].Level)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[1].Level)
	assert.Equal(t, int64(7), hook.Entries[1].Data["parcel_id"])
}

func TestRedisSinkCapsList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisSink(client, "test:commlog", 3, 16)
	for i := 0; i < 5; i++ {
		sink.Record(context.Background(), Entry{Direction: Outbound, Channel: ChannelSorter, Raw: string(rune('a' + i)), Success: true})
	}
	sink.Close()
	sink.Close()

	entries, err := Recent(context.Background(), client, "test:commlog", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].Raw)
	assert.Equal(t, "c", entries[2].Raw)
	assert.Zero(t, sink.Dropped())
}
