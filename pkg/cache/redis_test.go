package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedRedis(t *testing.T) (*RedisEngine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	engine, err := NewRedis(Options{"address": mr.Addr(), "partition": "test"}, testLogger())
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Stop(context.Background()) })
	return engine.(*RedisEngine), mr
}

func TestNewRedis_Address(t *testing.T) {
	engine, err := NewRedis(Options{"host": "cache.local", "port": "6380"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "cache.local:6380", engine.(*RedisEngine).opts.Address)

	engine, err = NewRedis(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", engine.(*RedisEngine).opts.Address)
	assert.Equal(t, DefaultPartition, engine.(*RedisEngine).opts.Partition)
}

func TestRedisEngine_StartFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	engine, err := NewRedis(Options{"address": addr, "timeout": "200ms"}, nil)
	require.NoError(t, err)

	err = engine.Start(context.Background())
	require.Error(t, err)
	assert.False(t, engine.IsReady())
}

func TestRedisEngine_NotReady(t *testing.T) {
	engine, err := NewRedis(nil, nil)
	require.NoError(t, err)

	_, err = engine.Get(context.Background(), Key{Segment: "s", ID: "a"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRedisEngine_SetGetDrop(t *testing.T) {
	engine, mr := startedRedis(t)
	ctx := context.Background()
	key := Key{Segment: "users", ID: "42"}

	_, err := engine.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, engine.Set(ctx, key, []byte("steve"), time.Minute))
	assert.True(t, mr.Exists("test:users:42"))

	item, err := engine.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("steve"), item.Value)
	assert.Equal(t, time.Minute, item.TTL)

	require.NoError(t, engine.Drop(ctx, key))
	_, err = engine.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisEngine_Expiry(t *testing.T) {
	engine, mr := startedRedis(t)
	ctx := context.Background()
	key := Key{Segment: "s", ID: "a"}

	require.NoError(t, engine.Set(ctx, key, []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := engine.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
