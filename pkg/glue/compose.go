// Package glue composes a server from a declarative manifest: server
// options, cache engines, connections and plugin registrations.
//
// Composition is a one-shot transformation. Compose validates the manifest,
// resolves the cache engines, creates the server, adds the connections in
// manifest order and registers the plugins in manifest order. The returned
// server is not started; plugin dependencies are checked by Server.Start.
package glue

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/server"
)

// Options controls a single composition.
type Options struct {
	// RelativeTo is the absolute directory that relative plugin and cache
	// engine identifiers ("./x", "../x") are resolved against.
	RelativeTo string
}

// Composer turns manifests into servers.
type Composer struct {
	loader Loader
	logger *zap.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLoader sets the loader used for plugin and cache engine identifiers.
func WithLoader(loader Loader) ComposerOption {
	return func(c *Composer) {
		c.loader = loader
	}
}

// WithLogger sets the logger handed to the composed servers.
func WithLogger(logger *zap.Logger) ComposerOption {
	return func(c *Composer) {
		c.logger = logger
	}
}

// New creates a Composer. By default it loads from DefaultRegistry and does
// not log.
func New(opts ...ComposerOption) *Composer {
	c := &Composer{}
	for _, opt := range opts {
		opt(c)
	}
	if c.loader == nil {
		c.loader = DefaultRegistry
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Compose composes m with a default Composer.
func Compose(ctx context.Context, m *Manifest, opts *Options) (*server.Server, error) {
	return New().Compose(ctx, m, opts)
}

// Compose builds an unstarted server from m. On error the server is nil.
func (c *Composer) Compose(ctx context.Context, m *Manifest, opts *Options) (*server.Server, error) {
	if m == nil {
		return nil, &OptionsError{Reason: "manifest is required"}
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.RelativeTo != "" && !filepath.IsAbs(opts.RelativeTo) {
		return nil, &OptionsError{Reason: "relativeTo must be an absolute path"}
	}

	logger := c.logger.Named("glue")

	manifest, err := Validate(m)
	if err != nil {
		return nil, err
	}
	logger.Debug("Manifest validated",
		zap.Int("connections", len(manifest.Connections)),
		zap.Int("plugins", len(manifest.Plugins)))

	caches, err := resolveCaches(c.loader, manifest.Server["cache"], opts.RelativeTo)
	if err != nil {
		return nil, err
	}

	serverOpts, err := serverOptions(manifest.Server)
	if err != nil {
		return nil, err
	}
	s, err := server.New(serverOpts, caches, c.logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Server created", zap.Strings("caches", s.Caches()))

	composer := &Composer{loader: c.loader, logger: logger}
	if err := composer.buildConnections(s, manifest.Connections); err != nil {
		return nil, err
	}
	if err := composer.registerPlugins(ctx, s, manifest.Plugins, opts.RelativeTo); err != nil {
		return nil, err
	}

	logger.Debug("Server composed", zap.Strings("plugins", s.Plugins()))
	return s, nil
}
