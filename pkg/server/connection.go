package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/middleware"
)

// dependency is a declaration made by a plugin on a connection.
type dependency struct {
	plugin   string
	requires []string
}

// Connection is one independently addressable endpoint of a server. Each
// connection owns its own router.
type Connection struct {
	index  int
	opts   ConnectionOptions
	router *gin.Engine
	logger *zap.Logger

	mu         sync.RWMutex
	plugins    []string
	registered map[string]struct{}
	deps       []dependency
	httpServer *http.Server
	listener   net.Listener
	port       int
}

func newConnection(index int, opts ConnectionOptions, logger *zap.Logger) (*Connection, error) {
	c := &Connection{
		index:      index,
		opts:       opts,
		logger:     logger,
		registered: make(map[string]struct{}),
		port:       opts.Port,
	}
	c.opts.Labels = uniqueLabels(opts.Labels)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDs())
	router.Use(middleware.Logger(logger))
	if cors := opts.Routes.CORS; cors != nil {
		handler, err := middleware.CORS(middleware.CORSConfig{
			Origins:        cors.Origin,
			Headers:        cors.Headers,
			ExposedHeaders: cors.ExposedHeaders,
			Credentials:    cors.Credentials,
			MaxAge:         time.Duration(cors.MaxAge) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		router.Use(handler)
	}
	router.Use(middleware.LoadShedder(middleware.LoadConfig{
		MaxRequestsPerSecond: opts.Load.MaxRequestsPerSecond,
		Burst:                opts.Load.Burst,
	}, logger))
	router.Use(middleware.HandlerTimeout(time.Duration(opts.Timeout.Server) * time.Millisecond))

	c.router = router
	return c, nil
}

func uniqueLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// Index is the position of the connection on its server.
func (c *Connection) Index() int {
	return c.index
}

// Labels returns a copy of the connection labels.
func (c *Connection) Labels() []string {
	return slices.Clone(c.opts.Labels)
}

// HasAnyLabel reports whether the connection carries at least one of labels.
func (c *Connection) HasAnyLabel(labels ...string) bool {
	for _, l := range labels {
		if slices.Contains(c.opts.Labels, l) {
			return true
		}
	}
	return false
}

// Options returns the options the connection was created with.
func (c *Connection) Options() ConnectionOptions {
	return c.opts
}

// Host returns the public host name.
func (c *Connection) Host() string {
	if c.opts.Host == "" {
		return "localhost"
	}
	return c.opts.Host
}

// Port returns the configured port, or the bound port once started.
func (c *Connection) Port() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port
}

// URI returns the public URI, e.g. http://localhost:8000.
func (c *Connection) URI() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uriLocked()
}

func (c *Connection) uriLocked() string {
	if c.opts.URI != "" {
		return c.opts.URI
	}
	return "http://" + net.JoinHostPort(c.Host(), strconv.Itoa(c.port))
}

// Plugins returns the names of the plugins registered on the connection, in
// registration order. A plugin registered twice is listed twice.
func (c *Connection) Plugins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.plugins)
}

// HasPlugin reports whether name has been registered on the connection.
func (c *Connection) HasPlugin(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.registered[name]
	return ok
}

// Router exposes the connection router.
func (c *Connection) Router() *gin.Engine {
	return c.router
}

func (c *Connection) handle(method, path string, handlers []gin.HandlerFunc) (err error) {
	// gin panics on conflicting or malformed routes
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s %s in connection %s: %v", ErrRouteConflict, method, path, c.URI(), r)
		}
	}()
	c.router.Handle(method, path, handlers...)
	return nil
}

func (c *Connection) addPlugin(name string, requires []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.plugins = append(c.plugins, name)
	c.registered[name] = struct{}{}
	if len(requires) > 0 {
		c.deps = append(c.deps, dependency{plugin: name, requires: requires})
	}
}

// checkDependencies returns the first declared dependency that is not
// registered on the connection.
func (c *Connection) checkDependencies() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, dep := range c.deps {
		for _, required := range dep.requires {
			if _, ok := c.registered[required]; !ok {
				return &DependencyError{
					Plugin:     dep.plugin,
					Dependency: required,
					Connection: c.uriLocked(),
				}
			}
		}
	}
	return nil
}

func (c *Connection) bindAddress() string {
	if c.opts.Address != "" {
		return c.opts.Address
	}
	return c.opts.Host
}

func (c *Connection) listen() error {
	addr := net.JoinHostPort(c.bindAddress(), strconv.Itoa(c.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	socket := time.Duration(c.opts.Timeout.Socket) * time.Millisecond
	httpServer := &http.Server{
		Handler:           c.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       socket,
		IdleTimeout:       socket,
	}

	c.mu.Lock()
	c.listener = listener
	c.httpServer = httpServer
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
		c.port = tcp.Port
	}
	c.mu.Unlock()

	go func() {
		c.logger.Info("Connection listening", zap.String("uri", c.URI()))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Connection error", zap.Error(err))
		}
	}()
	return nil
}

func (c *Connection) shutdown(ctx context.Context) error {
	c.mu.Lock()
	httpServer := c.httpServer
	c.httpServer = nil
	c.listener = nil
	c.port = c.opts.Port
	c.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("connection %d shutdown: %w", c.index, err)
	}
	return nil
}

// Response is the outcome of an injected request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Payload returns the body as a string.
func (r *Response) Payload() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Inject runs a synthetic request through the connection router without
// touching the network. It works whether or not the server is started.
func (c *Connection) Inject(method, target string, body io.Reader) *Response {
	return c.InjectRequest(httptest.NewRequest(method, target, body))
}

// InjectRequest runs req through the connection router.
func (c *Connection) InjectRequest(req *http.Request) *Response {
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return &Response{
		StatusCode: w.Code,
		Header:     w.Header(),
		Body:       bytes.Clone(w.Body.Bytes()),
	}
}
