package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/cache"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, conns ...ConnectionOptions) *Server {
	t.Helper()
	s, err := New(Options{}, nil, zap.NewNop())
	require.NoError(t, err)
	for _, opts := range conns {
		_, err := s.AddConnection(opts)
		require.NoError(t, err)
	}
	return s
}

func textPlugin(name, path, text string, deps ...string) Plugin {
	return NewPlugin(Attributes{Name: name, Dependencies: deps}, func(api *API, _ map[string]any) error {
		api.GET(path, func(c *gin.Context) { c.String(http.StatusOK, text) })
		return nil
	})
}

func TestNew_DefaultCache(t *testing.T) {
	s, err := New(Options{}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{cache.DefaultName}, s.Caches())
	engine, ok := s.Cache("")
	require.True(t, ok)
	assert.IsType(t, &cache.MemoryEngine{}, engine)
	assert.NotNil(t, s.App())
}

func TestNew_Caches(t *testing.T) {
	tests := []struct {
		name    string
		caches  []cache.Config
		wantErr string
		want    []string
	}{
		{
			name:   "named and default",
			caches: []cache.Config{{Engine: cache.Factory(cache.NewMemory)}, {Name: "other", Engine: cache.Factory(cache.NewMemory)}},
			want:   []string{cache.DefaultName, "other"},
		},
		{
			name:    "duplicate names",
			caches:  []cache.Config{{Name: "a", Engine: cache.Factory(cache.NewMemory)}, {Name: "a", Engine: cache.Factory(cache.NewMemory)}},
			wantErr: "cannot configure the same cache more than once: a",
		},
		{
			name:    "invalid engine",
			caches:  []cache.Config{{Engine: "memory"}},
			wantErr: "invalid cache engine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Options{}, tt.caches, zap.NewNop())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Caches())
		})
	}
}

func TestSelect(t *testing.T) {
	s := newTestServer(t,
		ConnectionOptions{Labels: []string{"a", "b"}},
		ConnectionOptions{Labels: []string{"b", "c"}},
		ConnectionOptions{},
	)

	indexes := func(conns []*Connection) []int {
		out := []int{}
		for _, c := range conns {
			out = append(out, c.Index())
		}
		return out
	}

	assert.Equal(t, []int{0, 1, 2}, indexes(s.Select()))
	assert.Equal(t, []int{0}, indexes(s.Select("a")))
	assert.Equal(t, []int{0, 1}, indexes(s.Select("b")))
	assert.Equal(t, []int{0, 1}, indexes(s.Select("a", "c")))
	assert.Empty(t, s.Select("x"))
}

func TestAddConnection_DuplicateLabels(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{Labels: []string{"a", "a", "b"}})
	assert.Equal(t, []string{"a", "b"}, s.Connections()[0].Labels())
}

func TestAddConnection_InvalidCORS(t *testing.T) {
	s := newTestServer(t)
	_, err := s.AddConnection(ConnectionOptions{Routes: RouteOptions{CORS: &CORSOptions{Origin: []string{"bad origin"}}}})
	assert.Error(t, err)
}

func TestRegister_RoutesAndPrefix(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{Labels: []string{"a"}}, ConnectionOptions{Labels: []string{"b"}})

	require.NoError(t, s.Register(context.Background(), textPlugin("root", "/", "root"), RegisterOptions{
		Connections: s.Select("a"),
		RoutePrefix: "/mounted",
	}))
	require.NoError(t, s.Register(context.Background(), textPlugin("hello", "/hello", "hi"), RegisterOptions{}))

	a, b := s.Connections()[0], s.Connections()[1]

	res := a.Inject(http.MethodGet, "/mounted", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "root", res.Payload())
	assert.Equal(t, http.StatusNotFound, b.Inject(http.MethodGet, "/mounted", nil).StatusCode)

	assert.Equal(t, "hi", a.Inject(http.MethodGet, "/hello", nil).Payload())
	assert.Equal(t, "hi", b.Inject(http.MethodGet, "/hello", nil).Payload())

	assert.Equal(t, []string{"root", "hello"}, a.Plugins())
	assert.Equal(t, []string{"hello"}, b.Plugins())
	assert.Equal(t, []string{"root", "hello"}, s.Plugins())
	assert.True(t, a.HasPlugin("root"))
	assert.False(t, b.HasPlugin("root"))
}

func TestRegister_NoConnections(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{})
	require.NoError(t, s.Register(context.Background(), textPlugin("p", "/p", "p"), RegisterOptions{Connections: []*Connection{}}))

	assert.Empty(t, s.Connections()[0].Plugins())
	assert.Equal(t, http.StatusNotFound, s.Connections()[0].Inject(http.MethodGet, "/p", nil).StatusCode)
}

func TestRegister_OptionsPassedThrough(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{})

	var got map[string]any
	p := NewPlugin(Attributes{Name: "opts"}, func(_ *API, options map[string]any) error {
		got = options
		return nil
	})

	require.NoError(t, s.Register(context.Background(), p, RegisterOptions{}))
	assert.Equal(t, map[string]any{}, got)

	require.NoError(t, s.Register(context.Background(), p, RegisterOptions{Options: map[string]any{"foo": "bar"}}))
	assert.Equal(t, map[string]any{"foo": "bar"}, got)
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name    string
		plugin  Plugin
		opts    RegisterOptions
		wantIs  error
		wantMsg string
	}{
		{
			name:   "nil plugin",
			wantIs: ErrInvalidPlugin,
		},
		{
			name:    "missing name",
			plugin:  NewPlugin(Attributes{}, nil),
			wantIs:  ErrInvalidPlugin,
			wantMsg: "missing plugin name",
		},
		{
			name:    "prefix without leading slash",
			plugin:  NewPlugin(Attributes{Name: "p"}, nil),
			opts:    RegisterOptions{RoutePrefix: "api"},
			wantIs:  ErrInvalidPlugin,
			wantMsg: "must start with /",
		},
		{
			name:    "prefix with trailing slash",
			plugin:  NewPlugin(Attributes{Name: "p"}, nil),
			opts:    RegisterOptions{RoutePrefix: "/api/"},
			wantIs:  ErrInvalidPlugin,
			wantMsg: "must not end with /",
		},
		{
			name: "register error",
			plugin: NewPlugin(Attributes{Name: "p"}, func(*API, map[string]any) error {
				return fmt.Errorf("boom")
			}),
			wantMsg: "plugin p registration failed: boom",
		},
		{
			name: "register panic",
			plugin: NewPlugin(Attributes{Name: "p"}, func(*API, map[string]any) error {
				panic("kaboom")
			}),
			wantIs:  ErrInvalidPlugin,
			wantMsg: "kaboom",
		},
		{
			name: "relative route path",
			plugin: NewPlugin(Attributes{Name: "p"}, func(api *API, _ map[string]any) error {
				api.GET("relative", func(*gin.Context) {})
				return nil
			}),
			wantIs: ErrInvalidPlugin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, ConnectionOptions{})
			err := s.Register(context.Background(), tt.plugin, tt.opts)
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Empty(t, s.Plugins())
		})
	}
}

func TestRegister_RouteConflict(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{})
	require.NoError(t, s.Register(context.Background(), textPlugin("a", "/same", "a"), RegisterOptions{}))

	err := s.Register(context.Background(), textPlugin("b", "/same", "b"), RegisterOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRouteConflict)
}

func TestRegister_CanceledContext(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Register(ctx, textPlugin("a", "/a", "a"), RegisterOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStart_MissingDependency(t *testing.T) {
	tests := []struct {
		name   string
		plugin Plugin
	}{
		{
			name:   "static dependency",
			plugin: textPlugin("--deps1", "/deps1", "deps1", "--deps2"),
		},
		{
			name: "dynamic dependency",
			plugin: NewPlugin(Attributes{Name: "--deps1"}, func(api *API, _ map[string]any) error {
				api.Dependency("--deps2")
				return nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, ConnectionOptions{})
			require.NoError(t, s.Register(context.Background(), tt.plugin, RegisterOptions{}))
			assert.ErrorIs(t, s.CheckDependencies(), ErrMissingDependency)

			err := s.Start(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingDependency)
			assert.EqualError(t, err, "Plugin --deps1 missing dependency --deps2 in connection: http://localhost:0")

			var depErr *DependencyError
			require.ErrorAs(t, err, &depErr)
			assert.Equal(t, "--deps1", depErr.Plugin)
			assert.Equal(t, "--deps2", depErr.Dependency)
			assert.False(t, s.Started())
		})
	}
}

func TestStart_DependencyOnOtherConnectionOnly(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{Labels: []string{"a"}}, ConnectionOptions{Labels: []string{"b"}})
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, textPlugin("dep", "/dep", "dep"), RegisterOptions{Connections: s.Select("a")}))
	require.NoError(t, s.Register(ctx, textPlugin("main", "/main", "main", "dep"), RegisterOptions{Connections: s.Select("b")}))

	err := s.Start(ctx)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{Host: "127.0.0.1"}, ConnectionOptions{Host: "127.0.0.1"})
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, textPlugin("dep", "/dep", "dep"), RegisterOptions{}))
	require.NoError(t, s.Register(ctx, textPlugin("main", "/main", "main", "dep"), RegisterOptions{}))

	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	assert.True(t, s.Started())
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	for _, c := range s.Connections() {
		require.NotZero(t, c.Port())
		assert.True(t, strings.HasPrefix(c.URI(), "http://127.0.0.1:"))

		client := &http.Client{Timeout: 5 * time.Second}
		res, err := client.Get(c.URI() + "/main")
		require.NoError(t, err)
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "main", string(body))
	}

	_, err := s.AddConnection(ConnectionOptions{})
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Started())
	assert.Equal(t, 0, s.Connections()[0].Port())
	require.NoError(t, s.Stop(ctx))
}

func TestStart_CacheFailure(t *testing.T) {
	s, err := New(Options{}, []cache.Config{{
		Engine:  cache.Factory(cache.NewRedis),
		Options: cache.Options{"address": "127.0.0.1:1", "timeout": "100ms"},
	}}, zap.NewNop())
	require.NoError(t, err)
	_, err = s.AddConnection(ConnectionOptions{})
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start cache _default")
	assert.False(t, s.Started())
}

func TestAPI_Cache(t *testing.T) {
	s, err := New(Options{}, []cache.Config{
		{Engine: cache.Factory(cache.NewMemory)},
		{Name: "shared", Shared: true, Engine: cache.Factory(cache.NewMemory)},
	}, zap.NewNop())
	require.NoError(t, err)
	_, err = s.AddConnection(ConnectionOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	var policy *cache.Policy
	owner := NewPlugin(Attributes{Name: "owner"}, func(api *API, _ map[string]any) error {
		var err error
		policy, err = api.Cache(cache.PolicyOptions{ExpiresIn: time.Minute})
		return err
	})
	require.NoError(t, s.Register(ctx, owner, RegisterOptions{}))
	assert.Equal(t, "!owner", policy.Segment())

	thief := NewPlugin(Attributes{Name: "thief"}, func(api *API, _ map[string]any) error {
		_, err := api.Cache(cache.PolicyOptions{Segment: "!owner"})
		return err
	})
	err = s.Register(ctx, thief, RegisterOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot provision the same cache segment more than once")

	sharer := func(name string) Plugin {
		return NewPlugin(Attributes{Name: name}, func(api *API, _ map[string]any) error {
			_, err := api.Cache(cache.PolicyOptions{Cache: "shared", Segment: "common"})
			return err
		})
	}
	require.NoError(t, s.Register(ctx, sharer("one"), RegisterOptions{}))
	require.NoError(t, s.Register(ctx, sharer("two"), RegisterOptions{}))

	unknown := NewPlugin(Attributes{Name: "unknown"}, func(api *API, _ map[string]any) error {
		_, err := api.Cache(cache.PolicyOptions{Cache: "missing"})
		return err
	})
	assert.Error(t, s.Register(ctx, unknown, RegisterOptions{}))

	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.NoError(t, policy.Set(ctx, "k", []byte("v")))
	value, ok, err := policy.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestAPI_Accessors(t *testing.T) {
	s, err := New(Options{App: map[string]any{"my": "special-value"}}, nil, zap.NewNop())
	require.NoError(t, err)
	_, err = s.AddConnection(ConnectionOptions{})
	require.NoError(t, err)

	p := NewPlugin(Attributes{Name: "inspect"}, func(api *API, _ map[string]any) error {
		assert.Equal(t, "inspect", api.Name())
		assert.Equal(t, "/x", api.Prefix())
		assert.Len(t, api.Connections(), 1)
		assert.Equal(t, "special-value", api.App()["my"])
		assert.NotNil(t, api.Logger())
		api.POST("/", func(c *gin.Context) { c.JSON(http.StatusCreated, gin.H{"ok": true}) })
		return nil
	})
	require.NoError(t, s.Register(context.Background(), p, RegisterOptions{RoutePrefix: "/x"}))

	res := s.Connections()[0].Inject(http.MethodPost, "/x", strings.NewReader("{}"))
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	var body map[string]bool
	require.NoError(t, res.JSON(&body))
	assert.True(t, body["ok"])
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
}

func TestJoinRoute(t *testing.T) {
	assert.Equal(t, "/a", joinRoute("", "/a"))
	assert.Equal(t, "/p", joinRoute("/p", "/"))
	assert.Equal(t, "/p/a", joinRoute("/p", "/a"))
}

func TestInfo(t *testing.T) {
	s := newTestServer(t, ConnectionOptions{Labels: []string{"a"}})
	require.NoError(t, s.Register(context.Background(), textPlugin("p", "/p", "p"), RegisterOptions{}))

	info := s.Info()
	assert.Equal(t, false, info["started"])
	assert.Equal(t, []string{"p"}, info["plugins"])
	conns := info["connections"].([]map[string]any)
	require.Len(t, conns, 1)
	assert.Equal(t, "http://localhost:0", conns[0]["uri"])
}
