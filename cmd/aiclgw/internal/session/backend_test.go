package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackendWithClient(client, "test:session:"), mr
}

func TestBackends(t *testing.T) {
	redisBackend, _ := newMiniredisBackend(t)
	backends := map[string]Backend{
		"memory": NewMemoryBackend(10, time.Minute),
		"redis":  redisBackend,
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := backend.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			values := map[string]json.RawMessage{"a": json.RawMessage(`"one"`)}
			require.NoError(t, backend.Save(ctx, "sid", values, time.Minute))

			got, err := backend.Load(ctx, "sid")
			require.NoError(t, err)
			assert.JSONEq(t, `"one"`, string(got["a"]))

			require.NoError(t, backend.Delete(ctx, "sid"))
			_, err = backend.Load(ctx, "sid")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisBackend_KeyPrefixAndTTL(t *testing.T) {
	backend, mr := newMiniredisBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, "sid", map[string]json.RawMessage{"a": json.RawMessage(`1`)}, time.Minute))
	assert.True(t, mr.Exists("test:session:sid"))
	assert.Equal(t, time.Minute, mr.TTL("test:session:sid"))

	mr.FastForward(2 * time.Minute)
	_, err := backend.Load(ctx, "sid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBackend_CorruptValue(t *testing.T) {
	backend, mr := newMiniredisBackend(t)
	require.NoError(t, mr.Set("test:session:bad", "{not json"))

	_, err := backend.Load(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_IsolatesCallerMaps(t *testing.T) {
	backend := NewMemoryBackend(10, time.Minute)
	ctx := context.Background()

	values := map[string]json.RawMessage{"a": json.RawMessage(`1`)}
	require.NoError(t, backend.Save(ctx, "sid", values, 0))
	values["b"] = json.RawMessage(`2`)

	got, err := backend.Load(ctx, "sid")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
