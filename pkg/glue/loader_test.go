package glue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-glue/pkg/cache"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		id      string
		baseDir string
		want    string
	}{
		{id: "./--test2", baseDir: "/work/plugins", want: "/work/plugins/--test2"},
		{id: "../../node_modules/catbox-memory", baseDir: "/work/test/plugins", want: "/work/node_modules/catbox-memory"},
		{id: ".", baseDir: "/work", want: "/work"},
		{id: "/abs/./plugin", baseDir: "/work", want: "/abs/plugin"},
		{id: "memory", baseDir: "/work", want: "memory"},
		{id: "./--test2", baseDir: "", want: "./--test2"},
		{id: "/abs/./plugin", baseDir: "", want: "/abs/./plugin"},
	}

	for _, tt := range tests {
		t.Run(tt.id+"@"+tt.baseDir, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.id, tt.baseDir))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("./plugins/a", "module-a"))
	require.NoError(t, r.Register("b", "module-b"))

	m, err := r.Load("plugins/x/../a")
	require.NoError(t, err)
	assert.Equal(t, "module-a", m)

	_, err = r.Load("c")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	assert.Error(t, r.Register("b", "again"))
	assert.Error(t, r.Register("", "x"))
	assert.Error(t, r.Register("nil", nil))
	assert.Panics(t, func() { r.MustRegister("b", "again") })

	assert.Equal(t, []string{"b", "plugins/a"}, r.IDs())
}

func TestDefaultRegistry_CacheEngines(t *testing.T) {
	for _, id := range []string{cache.EngineMemory, cache.EngineRedis, cache.EngineMongoDB} {
		m, err := DefaultRegistry.Load(id)
		require.NoError(t, err, id)
		assert.True(t, isEngine(m), id)
	}
}

func TestLoad(t *testing.T) {
	failing := LoaderFunc(func(string) (any, error) { return nil, errors.New("boom") })
	empty := LoaderFunc(func(string) (any, error) { return nil, nil })
	panicking := LoaderFunc(func(string) (any, error) { panic("bad module") })

	var seen string
	recording := LoaderFunc(func(id string) (any, error) {
		seen = id
		return "ok", nil
	})

	m, err := load(recording, "./x", "/base")
	require.NoError(t, err)
	assert.Equal(t, "ok", m)
	assert.Equal(t, "/base/x", seen)

	for name, loader := range map[string]Loader{"error": failing, "nil module": empty, "panic": panicking} {
		t.Run(name, func(t *testing.T) {
			m, err := load(loader, "./x", "")
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrPluginLoad)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, "./x", loadErr.ID)
		})
	}
}
