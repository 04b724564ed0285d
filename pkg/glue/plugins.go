package glue

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/server"
)

// Registration is one selection entry of a plugin: which connections it is
// registered on, under which route prefix, with which options.
type Registration struct {
	// Select lists connection labels. A connection is targeted when it
	// carries at least one of them. Empty labels are ignored; no labels
	// targets every connection.
	Select []string `mapstructure:"select"`
	Route  Route    `mapstructure:"route"`
	// Options are handed to the plugin.
	Options map[string]any `mapstructure:"options"`
}

// Route holds routing overrides of a registration.
type Route struct {
	// Prefix is prepended to every route the plugin adds.
	Prefix string `mapstructure:"prefix"`
}

func (r Registration) clone() Registration {
	return Registration{
		Select:  slices.Clone(r.Select),
		Route:   r.Route,
		Options: cloneMap(r.Options),
	}
}

func (r Registration) view() map[string]any {
	out := make(map[string]any, 3)
	if len(r.Select) > 0 {
		out["select"] = slices.Clone(r.Select)
	}
	if r.Route.Prefix != "" {
		out["route"] = map[string]any{"prefix": r.Route.Prefix}
	}
	if r.Options != nil {
		out["options"] = r.Options
	}
	return out
}

// labels returns the non-empty select labels. No labels targets every
// connection.
func (r Registration) labels() []string {
	out := make([]string, 0, len(r.Select))
	for _, l := range r.Select {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func invalidPlugin(id, format string, args ...any) *ValidationError {
	return &ValidationError{
		Message: "Invalid plugin configuration",
		Details: []string{id + ": " + fmt.Sprintf(format, args...)},
	}
}

// normalizeRegistrations turns every accepted registration form into a list
// of selection entries.
func normalizeRegistrations(id string, value any) ([]Registration, error) {
	switch v := value.(type) {
	case nil:
		return []Registration{{Options: map[string]any{}}}, nil
	case Registration:
		v.Options = cloneOptions(v.Options)
		return []Registration{v}, nil
	case []Registration:
		out := make([]Registration, len(v))
		for i, r := range v {
			r.Options = cloneOptions(r.Options)
			out[i] = r
		}
		return out, nil
	case map[string]any:
		return []Registration{{Options: cloneOptions(v)}}, nil
	case []any:
		out := make([]Registration, 0, len(v))
		for i, item := range v {
			switch entry := item.(type) {
			case Registration:
				entry.Options = cloneOptions(entry.Options)
				out = append(out, entry)
			case map[string]any:
				reg, err := decodeRegistration(entry)
				if err != nil {
					return nil, invalidPlugin(id, "entry %d: %v", i, err)
				}
				out = append(out, reg)
			default:
				return nil, invalidPlugin(id, "entry %d must be an object, got %T", i, item)
			}
		}
		return out, nil
	default:
		return nil, invalidPlugin(id, "unsupported registration %T", value)
	}
}

func decodeRegistration(entry map[string]any) (Registration, error) {
	var reg Registration
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &reg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return reg, err
	}
	if err := dec.Decode(entry); err != nil {
		return reg, err
	}
	reg.Options = cloneOptions(reg.Options)
	return reg, nil
}

// pluginFromModule accepts a plugin value or a plugin factory. Factories are
// invoked once per manifest entry.
func pluginFromModule(id string, module any) (p server.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = &LoadError{ID: id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch m := module.(type) {
	case server.Plugin:
		return m, nil
	case func() (server.Plugin, error):
		plugin, err := m()
		if err != nil {
			return nil, &LoadError{ID: id, Err: err}
		}
		if plugin == nil {
			return nil, &LoadError{ID: id, Err: fmt.Errorf("factory returned no plugin")}
		}
		return plugin, nil
	default:
		return nil, &LoadError{ID: id, Err: fmt.Errorf("%T is not a plugin", module)}
	}
}

// registerPlugins registers every manifest plugin in order. The first
// failure stops the run.
func (c *Composer) registerPlugins(ctx context.Context, s *server.Server, plugins Plugins, relativeTo string) error {
	for _, entry := range plugins {
		module := entry.Module
		if module == nil {
			loaded, err := load(c.loader, entry.ID, relativeTo)
			if err != nil {
				return err
			}
			module = loaded
		}

		plugin, err := pluginFromModule(entry.ID, module)
		if err != nil {
			return err
		}
		registrations, err := normalizeRegistrations(entry.ID, entry.Registration)
		if err != nil {
			return err
		}

		for _, reg := range registrations {
			targets := s.Select(reg.labels()...)
			err := s.Register(ctx, plugin, server.RegisterOptions{
				Connections: targets,
				RoutePrefix: reg.Route.Prefix,
				Options:     reg.Options,
			})
			if err != nil {
				return err
			}
			c.logger.Debug("Plugin registered",
				zap.String("id", entry.ID),
				zap.Strings("select", reg.Select),
				zap.String("prefix", reg.Route.Prefix),
				zap.Int("connections", len(targets)))
		}
	}
	return nil
}
