// Package cache provides the pluggable storage engines behind the server's
// caching capability, and the segment-scoped policies handed to plugins.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by Engine.Get when no live item exists for a key.
	ErrNotFound = errors.New("cache item not found")
	// ErrNotReady is returned when an engine is used before Start or after Stop.
	ErrNotReady = errors.New("cache engine not ready")
	// ErrInvalidEngine is returned when a configured engine value is neither
	// an Engine nor a Factory.
	ErrInvalidEngine = errors.New("invalid cache engine")
)

// DefaultName is the name of the cache provisioned when a configuration
// entry does not carry one.
const DefaultName = "_default"

// DefaultPartition is the partition used by engines when none is configured.
const DefaultPartition = "glue-cache"

// Key addresses an item inside a segment.
type Key struct {
	Segment string
	ID      string
}

func (k Key) String() string {
	return k.Segment + ":" + k.ID
}

// Item is a stored cache value.
type Item struct {
	Value  []byte
	Stored time.Time
	TTL    time.Duration
}

// Engine is a storage backend.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Start connects the engine. It is called by the server on start.
	Start(ctx context.Context) error

	// Stop releases resources. It is called by the server on stop.
	Stop(ctx context.Context) error

	// IsReady reports whether the engine has been started.
	IsReady() bool

	// Get returns the item for key, or ErrNotFound.
	Get(ctx context.Context, key Key) (*Item, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error

	// Drop removes key. Dropping a missing key is not an error.
	Drop(ctx context.Context, key Key) error
}

// Options carries engine specific settings (partition, host, uri, ...).
type Options map[string]any

// Factory builds an engine from its options.
type Factory func(opts Options, logger *zap.Logger) (Engine, error)

// Config describes one cache provisioned on a server.
type Config struct {
	// Name identifies the cache, DefaultName when empty.
	Name string
	// Shared allows several plugins to use the same segment.
	Shared bool
	// Engine is an Engine, a Factory, or a function with the Factory signature.
	Engine any
	// Options are passed to the factory.
	Options Options
}

// Provision turns the configured engine value into a usable Engine.
func (c Config) Provision(logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch e := c.Engine.(type) {
	case Engine:
		return e, nil
	case Factory:
		return e(c.Options, logger)
	case func(Options, *zap.Logger) (Engine, error):
		return e(c.Options, logger)
	case nil:
		return nil, fmt.Errorf("%w: cache %q has no engine", ErrInvalidEngine, c.name())
	default:
		return nil, fmt.Errorf("%w: cache %q engine has type %T", ErrInvalidEngine, c.name(), c.Engine)
	}
}

func (c Config) name() string {
	if c.Name == "" {
		return DefaultName
	}
	return c.Name
}

// decodeOptions decodes engine options into out. Numbers and strings are
// coerced so YAML and JSON manifests behave the same.
func decodeOptions(opts Options, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(opts)); err != nil {
		return fmt.Errorf("invalid cache options: %w", err)
	}
	return nil
}

// PolicyOptions configures a segment-scoped policy.
type PolicyOptions struct {
	// Cache selects a provisioned cache by name, DefaultName when empty.
	Cache string
	// Segment namespaces keys.
	Segment string
	// ExpiresIn is the TTL applied by Set.
	ExpiresIn time.Duration
}

// Policy is a segment-scoped view of an engine.
type Policy struct {
	engine    Engine
	segment   string
	expiresIn time.Duration
}

// NewPolicy binds engine to a segment.
func NewPolicy(engine Engine, segment string, expiresIn time.Duration) *Policy {
	return &Policy{engine: engine, segment: segment, expiresIn: expiresIn}
}

// Segment returns the policy segment.
func (p *Policy) Segment() string {
	return p.segment
}

// Get returns the value for id. The boolean is false when nothing is cached.
func (p *Policy) Get(ctx context.Context, id string) ([]byte, bool, error) {
	item, err := p.engine.Get(ctx, Key{Segment: p.segment, ID: id})
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set stores value for id using the policy TTL.
func (p *Policy) Set(ctx context.Context, id string, value []byte) error {
	return p.engine.Set(ctx, Key{Segment: p.segment, ID: id}, value, p.expiresIn)
}

// Drop removes id.
func (p *Policy) Drop(ctx context.Context, id string) error {
	return p.engine.Drop(ctx, Key{Segment: p.segment, ID: id})
}
