package glue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes a server, its connections and the plugins registered
// against them.
type Manifest struct {
	// Server holds server level options: app, plugins, cache and the
	// connection defaults under "connections".
	Server map[string]any `yaml:"server,omitempty" json:"server,omitempty"`
	// Connections are created in order; the index of a descriptor is the
	// index of its connection on the server.
	Connections []map[string]any `yaml:"connections" json:"connections"`
	// Plugins are registered in order.
	Plugins Plugins `yaml:"plugins" json:"plugins"`
}

// PluginEntry is one plugin of a manifest.
type PluginEntry struct {
	// ID is the identifier handed to the Loader.
	ID string
	// Module, when set, is used instead of loading ID. It must be a
	// server.Plugin or a func() (server.Plugin, error).
	Module any
	// Registration is nil, an options object, a list of
	// {select, route: {prefix}, options} objects, a Registration or a
	// []Registration.
	Registration any
}

// Plugins is an ordered plugin map. Decoding keeps document order.
type Plugins []PluginEntry

// Add appends a plugin loaded from id.
func (p *Plugins) Add(id string, registration any) {
	*p = append(*p, PluginEntry{ID: id, Registration: registration})
}

// AddModule appends an already loaded plugin module.
func (p *Plugins) AddModule(id string, module any, registration any) {
	*p = append(*p, PluginEntry{ID: id, Module: module, Registration: registration})
}

func (p *Plugins) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*p = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: plugins must be a mapping", node.Line)
	}

	out := make(Plugins, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var id string
		if err := node.Content[i].Decode(&id); err != nil {
			return fmt.Errorf("line %d: plugin identifier: %w", node.Content[i].Line, err)
		}
		var registration any
		if err := node.Content[i+1].Decode(&registration); err != nil {
			return fmt.Errorf("line %d: plugin %s: %w", node.Content[i+1].Line, id, err)
		}
		out = append(out, PluginEntry{ID: id, Registration: registration})
	}
	*p = out
	return nil
}

func (p Plugins) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range p {
		var value yaml.Node
		if err := value.Encode(e.Registration); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.ID}, &value)
	}
	return node, nil
}

func (p *Plugins) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("plugins must be an object")
	}

	var out Plugins
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("plugin identifier must be a string")
		}
		var registration any
		if err := dec.Decode(&registration); err != nil {
			return fmt.Errorf("plugin %s: %w", id, err)
		}
		out = append(out, PluginEntry{ID: id, Registration: registration})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if out == nil {
		out = Plugins{}
	}
	*p = out
	return nil
}

func (p Plugins) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Registration)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseManifest decodes a YAML or JSON manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// LoadManifest reads and decodes a YAML or JSON manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}
