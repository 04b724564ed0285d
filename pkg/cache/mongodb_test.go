package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMongo_Defaults(t *testing.T) {
	engine, err := NewMongo(nil, nil)
	require.NoError(t, err)

	m := engine.(*MongoEngine)
	assert.Equal(t, "mongodb://localhost:27017", m.opts.URI)
	assert.Equal(t, DefaultPartition, m.opts.Partition)
	assert.Equal(t, 10*time.Second, m.opts.Timeout)
	assert.False(t, m.IsReady())
}

func TestNewMongo_Options(t *testing.T) {
	engine, err := NewMongo(Options{
		"uri":       "mongodb://db.example:27018",
		"partition": "app-cache",
		"timeout":   "3s",
	}, nil)
	require.NoError(t, err)

	m := engine.(*MongoEngine)
	assert.Equal(t, "mongodb://db.example:27018", m.opts.URI)
	assert.Equal(t, "app-cache", m.opts.Partition)
	assert.Equal(t, 3*time.Second, m.opts.Timeout)
}

func TestNewMongo_InvalidOptions(t *testing.T) {
	_, err := NewMongo(Options{"timeout": map[string]any{"x": 1}}, nil)
	assert.Error(t, err)
}

func TestMongoEngine_InvalidURI(t *testing.T) {
	engine, err := NewMongo(Options{"uri": "not-a-mongo-uri"}, nil)
	require.NoError(t, err)

	err = engine.Start(context.Background())
	require.Error(t, err)
	assert.False(t, engine.IsReady())
}

func TestMongoEngine_NotReady(t *testing.T) {
	engine, err := NewMongo(nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = engine.Get(ctx, Key{Segment: "s", ID: "a"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, engine.Set(ctx, Key{Segment: "s", ID: "a"}, nil, 0), ErrNotReady)
	assert.ErrorIs(t, engine.Drop(ctx, Key{Segment: "s", ID: "a"}), ErrNotReady)
	assert.NoError(t, engine.Stop(ctx))
}
