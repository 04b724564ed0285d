package glue

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/cache"
)

// resolveCaches normalizes the server cache setting into engine
// configurations. Absent means the server default.
func resolveCaches(loader Loader, value any, relativeTo string) ([]cache.Config, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		engine, err := loadEngine(loader, v, relativeTo)
		if err != nil {
			return nil, err
		}
		return []cache.Config{{Engine: engine}}, nil
	case map[string]any:
		cfg, err := cacheConfig(loader, v, relativeTo)
		if err != nil {
			return nil, err
		}
		return []cache.Config{cfg}, nil
	case []any:
		out := make([]cache.Config, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, newValidationError(fmt.Sprintf("server.cache.%d: must be an object", i))
			}
			cfg, err := cacheConfig(loader, m, relativeTo)
			if err != nil {
				return nil, err
			}
			out = append(out, cfg)
		}
		return out, nil
	case []map[string]any:
		out := make([]cache.Config, 0, len(v))
		for _, m := range v {
			cfg, err := cacheConfig(loader, m, relativeTo)
			if err != nil {
				return nil, err
			}
			out = append(out, cfg)
		}
		return out, nil
	default:
		if !isEngine(v) {
			return nil, newValidationError(fmt.Sprintf("server.cache: unsupported value %T", value))
		}
		return []cache.Config{{Engine: v}}, nil
	}
}

// cacheConfig splits a cache object into its engine, name and sharing flag;
// every other key is an engine option.
func cacheConfig(loader Loader, m map[string]any, relativeTo string) (cache.Config, error) {
	cfg := cache.Config{Options: cache.Options{}}
	for k, v := range m {
		switch k {
		case "engine":
		case "name":
			cfg.Name, _ = v.(string)
		case "shared":
			cfg.Shared, _ = v.(bool)
		default:
			cfg.Options[k] = v
		}
	}

	switch engine := m["engine"].(type) {
	case string:
		loaded, err := loadEngine(loader, engine, relativeTo)
		if err != nil {
			return cfg, err
		}
		cfg.Engine = loaded
	default:
		cfg.Engine = engine
	}
	return cfg, nil
}

func loadEngine(loader Loader, id, relativeTo string) (any, error) {
	module, err := load(loader, id, relativeTo)
	if err != nil {
		return nil, err
	}
	if !isEngine(module) {
		return nil, &LoadError{ID: id, Err: fmt.Errorf("%T is not a cache engine", module)}
	}
	return module, nil
}

func isEngine(v any) bool {
	switch v.(type) {
	case cache.Engine, cache.Factory, func(cache.Options, *zap.Logger) (cache.Engine, error):
		return true
	default:
		return false
	}
}
