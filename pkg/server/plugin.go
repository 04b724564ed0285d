package server

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/cache"
)

// Attributes describe a plugin.
type Attributes struct {
	// Name identifies the plugin in dependency declarations. Required.
	Name    string
	Version string
	// Dependencies must be registered on every connection the plugin is
	// registered on by the time the server starts.
	Dependencies []string
}

// Plugin is a unit of routes and behaviour registered on a set of connections.
type Plugin interface {
	Attributes() Attributes
	Register(api *API, options map[string]any) error
}

// RegisterFunc is the registration body of a plugin built with NewPlugin.
type RegisterFunc func(api *API, options map[string]any) error

type funcPlugin struct {
	attrs    Attributes
	register RegisterFunc
}

// NewPlugin builds a Plugin from its attributes and a registration function.
func NewPlugin(attrs Attributes, register RegisterFunc) Plugin {
	return &funcPlugin{attrs: attrs, register: register}
}

func (p *funcPlugin) Attributes() Attributes {
	return p.attrs
}

func (p *funcPlugin) Register(api *API, options map[string]any) error {
	if p.register == nil {
		return nil
	}
	return p.register(api, options)
}

// API is the view of the server handed to a plugin during registration. It
// is scoped to the connections selected for the registration and to its
// route prefix.
type API struct {
	server      *Server
	name        string
	connections []*Connection
	prefix      string
	logger      *zap.Logger

	deps []string
	err  error
}

// Name returns the plugin name.
func (a *API) Name() string {
	return a.name
}

// Connections returns the connections the plugin is registered against.
func (a *API) Connections() []*Connection {
	return slices.Clone(a.connections)
}

// Prefix returns the route prefix of the registration, "" when none.
func (a *API) Prefix() string {
	return a.prefix
}

// App returns the server application state.
func (a *API) App() map[string]any {
	return a.server.App()
}

// Logger returns a logger named after the plugin.
func (a *API) Logger() *zap.Logger {
	return a.logger
}

// Dependency declares that the plugin requires the named plugins on each of
// its connections. The check is deferred until the server starts.
func (a *API) Dependency(names ...string) {
	for _, name := range names {
		if !slices.Contains(a.deps, name) {
			a.deps = append(a.deps, name)
		}
	}
}

// Handle adds a route on every connection of the registration. The first
// failure is reported when the registration completes.
func (a *API) Handle(method, path string, handlers ...gin.HandlerFunc) {
	if a.err != nil {
		return
	}
	if !strings.HasPrefix(path, "/") {
		a.err = fmt.Errorf("%w: plugin %s route path %q must start with /", ErrInvalidPlugin, a.name, path)
		return
	}

	full := joinRoute(a.prefix, path)
	for _, c := range a.connections {
		if err := c.handle(method, full, handlers); err != nil {
			a.err = err
			return
		}
	}
	a.logger.Debug("Route added", zap.String("method", method), zap.String("path", full))
}

func (a *API) GET(path string, handlers ...gin.HandlerFunc) {
	a.Handle(http.MethodGet, path, handlers...)
}

func (a *API) POST(path string, handlers ...gin.HandlerFunc) {
	a.Handle(http.MethodPost, path, handlers...)
}

func (a *API) PUT(path string, handlers ...gin.HandlerFunc) {
	a.Handle(http.MethodPut, path, handlers...)
}

func (a *API) DELETE(path string, handlers ...gin.HandlerFunc) {
	a.Handle(http.MethodDelete, path, handlers...)
}

// Cache returns a segment-scoped policy on one of the server caches. The
// segment defaults to "!" followed by the plugin name.
func (a *API) Cache(opts cache.PolicyOptions) (*cache.Policy, error) {
	if opts.Segment == "" {
		opts.Segment = "!" + a.name
	}
	return a.server.policy(a.name, opts)
}

func joinRoute(prefix, path string) string {
	if prefix == "" {
		return path
	}
	if path == "/" {
		return prefix
	}
	return prefix + path
}
