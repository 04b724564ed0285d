package glue

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/sirosfoundation/go-glue/pkg/cache"
)

// Loader turns a resolved identifier into a module: a plugin, a plugin
// factory, or a cache engine.
type Loader interface {
	Load(id string) (any, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(id string) (any, error)

func (f LoaderFunc) Load(id string) (any, error) {
	return f(id)
}

// Registry is an in-process Loader. Identifiers are stored cleaned, so
// "./a/../b" and "b" name the same module.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]any)}
}

// DefaultRegistry backs Compose and composers built without WithLoader. The
// built-in cache engines are registered under their names.
var DefaultRegistry = NewRegistry()

func init() {
	for id, factory := range cache.Builtin() {
		DefaultRegistry.MustRegister(id, factory)
	}
}

// Register adds module under id.
func (r *Registry) Register(id string, module any) error {
	if id == "" {
		return fmt.Errorf("module identifier is required")
	}
	if module == nil {
		return fmt.Errorf("module %s is nil", id)
	}

	key := filepath.Clean(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("module %s already registered", key)
	}
	r.modules[key] = module
	return nil
}

// MustRegister is Register for init functions; it panics on error.
func (r *Registry) MustRegister(id string, module any) {
	if err := r.Register(id, module); err != nil {
		panic(err)
	}
}

// Load returns the module registered under id.
func (r *Registry) Load(id string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, ok := r.modules[filepath.Clean(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return module, nil
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// load resolves id and loads it. Loader failures, including panics, are
// reported as a LoadError carrying the manifest identifier.
func load(loader Loader, id, relativeTo string) (module any, err error) {
	defer func() {
		if r := recover(); r != nil {
			module = nil
			err = &LoadError{ID: id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	module, err = loader.Load(Resolve(id, relativeTo))
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	if module == nil {
		return nil, &LoadError{ID: id, Err: fmt.Errorf("loader returned no module")}
	}
	return module, nil
}
