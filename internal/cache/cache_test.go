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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vendorReply struct {
	Provider string
	Body     string
}

func newTestCaches(t *testing.T) map[string]Cache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Cache{
		"local": NewCache(nil, 100, time.Minute),
		"redis": NewCache(client, 100, time.Minute),
	}
}

func TestSetGet(t *testing.T) {
	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := vendorReply{Provider: "wms", Body: `{"route":"EAST"}`}
			require.NoError(t, c.Set(ctx, "k", want, 10*time.Minute))

			var got vendorReply
			found, err := c.Get(ctx, "k", &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, want, got)
		})
	}
}

func TestGetNonExistentKey(t *testing.T) {
	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			var got vendorReply
			found, err := c.Get(context.Background(), "missing", &got)
			assert.NoError(t, err)
			assert.False(t, found)
			assert.Empty(t, got)
		})
	}
}

func TestDelete(t *testing.T) {
	for name, c := range newTestCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "k", vendorReply{Body: "x"}, time.Minute))
			require.NoError(t, c.Delete(ctx, "k"))

			var got vendorReply
			found, err := c.Get(ctx, "k", &got)
			assert.NoError(t, err)
			assert.False(t, found)

			assert.NoError(t, c.Delete(ctx, "never-set"))
		})
	}
}
