// Package server provides the HTTP framework that composed manifests are
// assembled into. A Server owns a set of connections (each an independent
// gin router and listener), a set of cache engines, and the plugins
// registered against its connections.
//
// Lifecycle:
//   - New provisions the caches
//   - AddConnection creates the routers
//   - Register runs plugins against a selection of connections
//   - Start checks plugin dependencies, starts the caches and listens
//   - Stop shuts everything down
package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/cache"
)

type provisionedCache struct {
	name   string
	shared bool
	engine cache.Engine
}

// Server combines connections, caches and plugins.
type Server struct {
	opts   Options
	logger *zap.Logger

	caches     map[string]*provisionedCache
	cacheOrder []string

	mu          sync.RWMutex
	connections []*Connection
	plugins     []string
	segments    map[string]string
	started     bool
}

// New creates a server and provisions its caches. When caches is empty a
// memory engine is provisioned under cache.DefaultName.
func New(opts Options, caches []cache.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.App == nil {
		opts.App = make(map[string]any)
	}

	s := &Server{
		opts:     opts,
		logger:   logger.Named("server"),
		caches:   make(map[string]*provisionedCache),
		segments: make(map[string]string),
	}

	if len(caches) == 0 {
		caches = []cache.Config{{Engine: cache.Factory(cache.NewMemory)}}
	}
	for _, cfg := range caches {
		name := cfg.Name
		if name == "" {
			name = cache.DefaultName
		}
		if _, exists := s.caches[name]; exists {
			return nil, fmt.Errorf("cannot configure the same cache more than once: %s", name)
		}
		engine, err := cfg.Provision(s.logger.Named("cache").With(zap.String("cache", name)))
		if err != nil {
			return nil, err
		}
		s.caches[name] = &provisionedCache{name: name, shared: cfg.Shared, engine: engine}
		s.cacheOrder = append(s.cacheOrder, name)
		s.logger.Debug("Cache provisioned", zap.String("cache", name), zap.String("engine", fmt.Sprintf("%T", engine)))
	}

	return s, nil
}

// AddConnection creates a new connection. Connections are indexed in the
// order they are added.
func (s *Server) AddConnection(opts ConnectionOptions) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, fmt.Errorf("cannot add a connection: %w", ErrAlreadyStarted)
	}

	index := len(s.connections)
	c, err := newConnection(index, opts, s.logger.Named("connection").With(zap.Int("index", index)))
	if err != nil {
		return nil, fmt.Errorf("connection %d: %w", index, err)
	}
	s.connections = append(s.connections, c)
	return c, nil
}

// Connections returns the connections in index order.
func (s *Server) Connections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.connections)
}

// Select returns the connections carrying at least one of labels, in index
// order. Without labels every connection is returned.
func (s *Server) Select(labels ...string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(labels) == 0 {
		return slices.Clone(s.connections)
	}
	selected := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		if c.HasAnyLabel(labels...) {
			selected = append(selected, c)
		}
	}
	return selected
}

// App returns the shared application state.
func (s *Server) App() map[string]any {
	return s.opts.App
}

// Options returns the server level settings.
func (s *Server) Options() Options {
	return s.opts
}

// Cache returns the engine provisioned under name.
func (s *Server) Cache(name string) (cache.Engine, bool) {
	if name == "" {
		name = cache.DefaultName
	}
	c, ok := s.caches[name]
	if !ok {
		return nil, false
	}
	return c.engine, true
}

// Caches returns the provisioned cache names in configuration order.
func (s *Server) Caches() []string {
	return slices.Clone(s.cacheOrder)
}

// Plugins returns the names of the registered plugins in first
// registration order.
func (s *Server) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.plugins)
}

// Started reports whether Start succeeded and Stop has not been called since.
func (s *Server) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Register runs plugin against the connections selected by opts. The plugin
// and its dependencies are recorded on each of those connections; missing
// dependencies are only reported by Start.
func (s *Server) Register(ctx context.Context, plugin Plugin, opts RegisterOptions) error {
	if plugin == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidPlugin)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	attrs := plugin.Attributes()
	if attrs.Name == "" {
		return fmt.Errorf("%w: missing plugin name", ErrInvalidPlugin)
	}
	if err := validatePrefix(opts.RoutePrefix); err != nil {
		return fmt.Errorf("%w: plugin %s: %w", ErrInvalidPlugin, attrs.Name, err)
	}

	targets := opts.Connections
	if targets == nil {
		targets = s.Connections()
	}
	options := opts.Options
	if options == nil {
		options = make(map[string]any)
	}

	logger := s.logger.Named("plugin").With(zap.String("plugin", attrs.Name))
	api := &API{
		server:      s,
		name:        attrs.Name,
		connections: slices.Clone(targets),
		prefix:      opts.RoutePrefix,
		logger:      logger,
	}

	if err := invokePlugin(plugin, api, options); err != nil {
		return fmt.Errorf("plugin %s registration failed: %w", attrs.Name, err)
	}
	if api.err != nil {
		return fmt.Errorf("plugin %s registration failed: %w", attrs.Name, api.err)
	}

	requires := slices.Clone(attrs.Dependencies)
	for _, dep := range api.deps {
		if !slices.Contains(requires, dep) {
			requires = append(requires, dep)
		}
	}
	for _, c := range targets {
		c.addPlugin(attrs.Name, requires)
	}

	s.mu.Lock()
	if !slices.Contains(s.plugins, attrs.Name) {
		s.plugins = append(s.plugins, attrs.Name)
	}
	s.mu.Unlock()

	logger.Debug("Plugin registered",
		zap.Int("connections", len(targets)),
		zap.String("prefix", opts.RoutePrefix),
		zap.Strings("dependencies", requires))
	return nil
}

func invokePlugin(plugin Plugin, api *API, options map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrInvalidPlugin, r)
		}
	}()
	return plugin.Register(api, options)
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("route prefix %q must start with /", prefix)
	}
	if strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("route prefix %q must not end with /", prefix)
	}
	return nil
}

// policy binds a plugin to a cache segment. A segment belongs to the first
// plugin that asks for it unless the cache is shared.
func (s *Server) policy(plugin string, opts cache.PolicyOptions) (*cache.Policy, error) {
	name := opts.Cache
	if name == "" {
		name = cache.DefaultName
	}
	c, ok := s.caches[name]
	if !ok {
		return nil, fmt.Errorf("unknown cache %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := name + "/" + opts.Segment
	if owner, taken := s.segments[key]; taken && owner != plugin && !c.shared {
		return nil, fmt.Errorf("cannot provision the same cache segment more than once: %s (cache %s)", opts.Segment, name)
	}
	s.segments[key] = plugin
	return cache.NewPolicy(c.engine, opts.Segment, opts.ExpiresIn), nil
}

// Start verifies plugin dependencies on every connection, starts the caches
// and begins listening. Nothing is started when a dependency is missing.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.checkDependencies(); err != nil {
		return err
	}

	var startedCaches []string
	for _, name := range s.cacheOrder {
		if err := s.caches[name].engine.Start(ctx); err != nil {
			_ = s.stopCaches(ctx, startedCaches)
			return fmt.Errorf("failed to start cache %s: %w", name, err)
		}
		startedCaches = append(startedCaches, name)
	}

	for i, c := range s.connections {
		if err := c.listen(); err != nil {
			for _, prev := range s.connections[:i] {
				_ = prev.shutdown(ctx)
			}
			_ = s.stopCaches(ctx, startedCaches)
			return err
		}
	}

	s.started = true
	s.logger.Info("Server started",
		zap.Int("connections", len(s.connections)),
		zap.Strings("caches", s.cacheOrder),
		zap.Strings("plugins", s.plugins))
	return nil
}

// CheckDependencies reports the first plugin whose dependencies are not
// registered on one of its connections.
func (s *Server) CheckDependencies() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkDependencies()
}

func (s *Server) checkDependencies() error {
	for _, c := range s.connections {
		if err := c.checkDependencies(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) stopCaches(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if err := s.caches[name].engine.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Stop gracefully shuts down every connection, then stops the caches.
// Stopping a server that is not started is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	var errs []error
	for _, c := range s.connections {
		if err := c.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.stopCaches(ctx, s.cacheOrder); err != nil {
		errs = append(errs, err)
	}
	s.started = false

	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}

// Info summarises the server for status reporting.
func (s *Server) Info() map[string]any {
	conns := s.Connections()
	out := make([]map[string]any, 0, len(conns))
	for _, c := range conns {
		out = append(out, map[string]any{
			"uri":     c.URI(),
			"labels":  c.Labels(),
			"plugins": c.Plugins(),
		})
	}
	return map[string]any{
		"started":     s.Started(),
		"caches":      s.Caches(),
		"plugins":     s.Plugins(),
		"connections": out,
		"app":         maps.Clone(s.opts.App),
	}
}
