package glue

import (
	_ "embed"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"dario.cat/mergo"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

var manifestSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Validate applies defaults to a copy of m and checks the result against the
// manifest schema. m itself is never modified.
func Validate(m *Manifest) (*Manifest, error) {
	if m == nil {
		return nil, newValidationError("manifest is required")
	}

	work := m.clone()
	if err := applyDefaults(work); err != nil {
		return nil, newValidationError(err.Error())
	}

	schema, err := manifestSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(work.schemaView()))
	if err != nil {
		return nil, newValidationError(err.Error())
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			details = append(details, re.String())
		}
		return nil, newValidationError(details...)
	}

	for i, e := range work.Plugins {
		if e.ID == "" && e.Module == nil {
			return nil, newValidationError(fmt.Sprintf("plugins[%d]: identifier or module is required", i))
		}
	}
	return work, nil
}

// Defaults are rebuilt on every call: mergo stores references to source maps.
func serverDefaults() map[string]any {
	return map[string]any{
		"app": map[string]any{},
	}
}

func connectionDefaults() map[string]any {
	return map[string]any{
		"timeout": map[string]any{
			"server": 0,
			"socket": 120000,
		},
		"labels": []any{},
	}
}

func applyDefaults(m *Manifest) error {
	if m.Server == nil {
		m.Server = make(map[string]any)
	}
	if err := mergo.Merge(&m.Server, serverDefaults()); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if len(m.Connections) == 0 {
		m.Connections = []map[string]any{{}}
	}
	shared, _ := m.Server["connections"].(map[string]any)
	for i, conn := range m.Connections {
		if conn == nil {
			conn = make(map[string]any)
		}
		explicit := cloneMap(conn)
		if shared != nil {
			if err := mergo.Merge(&conn, cloneMap(shared)); err != nil {
				return fmt.Errorf("connections[%d]: %w", i, err)
			}
		}
		if err := mergo.Merge(&conn, connectionDefaults()); err != nil {
			return fmt.Errorf("connections[%d]: %w", i, err)
		}
		// mergo replaces zero values; explicit ones win over every default
		overlay(conn, cloneMap(shared))
		overlay(conn, explicit)
		m.Connections[i] = conn
	}

	if m.Plugins == nil {
		m.Plugins = Plugins{}
	}
	return nil
}

// overlay writes every leaf of src into dst, descending into nested maps.
func overlay(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				overlay(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

func (m *Manifest) clone() *Manifest {
	out := &Manifest{
		Server:  cloneMap(m.Server),
		Plugins: make(Plugins, len(m.Plugins)),
	}
	if m.Connections != nil {
		out.Connections = make([]map[string]any, len(m.Connections))
		for i, c := range m.Connections {
			out.Connections[i] = cloneMap(c)
		}
	}
	for i, e := range m.Plugins {
		out.Plugins[i] = PluginEntry{ID: e.ID, Module: e.Module, Registration: cloneValue(e.Registration)}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the containers of decoded documents. Other values,
// including preloaded modules and engines, are shared.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneMap(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case Registration:
		return t.clone()
	case []Registration:
		out := make([]Registration, len(t))
		for i, r := range t {
			out[i] = r.clone()
		}
		return out
	default:
		return v
	}
}

// schemaView renders the manifest as plain JSON values. Values that have no
// JSON form are replaced by opaque objects naming their Go type.
func (m *Manifest) schemaView() map[string]any {
	plugins := make(map[string]any, len(m.Plugins))
	for i, e := range m.Plugins {
		key := e.ID
		if key == "" {
			key = fmt.Sprintf("<module #%d>", i)
		}
		if _, dup := plugins[key]; dup {
			key = fmt.Sprintf("%s <#%d>", key, i)
		}
		plugins[key] = jsonView(registrationView(e.Registration))
	}

	conns := make([]any, len(m.Connections))
	for i, c := range m.Connections {
		conns[i] = jsonView(c)
	}

	return map[string]any{
		"server":      jsonView(m.Server),
		"connections": conns,
		"plugins":     plugins,
	}
}

func registrationView(v any) any {
	switch t := v.(type) {
	case Registration:
		return t.view()
	case []Registration:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = r.view()
		}
		return out
	default:
		return v
	}
}

func opaque(v any) map[string]any {
	return map[string]any{"$go": fmt.Sprintf("%T", v)}
}

func jsonView(v any) any {
	switch t := v.(type) {
	case nil, string, bool:
		return t
	case Registration:
		return jsonView(t.view())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = jsonView(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonView(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return opaque(v)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = jsonView(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return opaque(v)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = jsonView(iter.Value().Interface())
		}
		return out
	default:
		return opaque(v)
	}
}

// cloneOptions returns a copy of options that is never nil.
func cloneOptions(options map[string]any) map[string]any {
	if options == nil {
		return make(map[string]any)
	}
	return cloneMap(options)
}
