package glue

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/server"
)

// buildConnections adds one connection per descriptor, in manifest order.
func (c *Composer) buildConnections(s *server.Server, descriptors []map[string]any) error {
	for i, d := range descriptors {
		opts, err := connectionOptions(d)
		if err != nil {
			return newValidationError(fmt.Sprintf("connections.%d: %v", i, err))
		}
		conn, err := s.AddConnection(opts)
		if err != nil {
			return err
		}
		c.logger.Debug("Connection added",
			zap.Int("index", conn.Index()),
			zap.String("uri", conn.URI()),
			zap.Strings("labels", conn.Labels()))
	}
	return nil
}

func connectionOptions(d map[string]any) (server.ConnectionOptions, error) {
	var opts server.ConnectionOptions
	d = maps.Clone(d)

	if port, ok := d["port"]; ok && port != nil {
		p, err := coercePort(port)
		if err != nil {
			return opts, err
		}
		d["port"] = p
	}

	switch labels := d["labels"].(type) {
	case string:
		d["labels"] = []string{labels}
	case nil:
		d["labels"] = []string{}
	}

	if routes, ok := d["routes"].(map[string]any); ok {
		routes = maps.Clone(routes)
		if enabled, ok := routes["cors"].(bool); ok {
			if enabled {
				routes["cors"] = map[string]any{}
			} else {
				delete(routes, "cors")
			}
		}
		d["routes"] = routes
	}

	if err := decodeStrict(d, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// coercePort turns a manifest port into an int. Strings are decimal, so
// "010" is port 10.
func coercePort(port any) (int, error) {
	var (
		p   int
		err error
	)
	if str, ok := port.(string); ok {
		p, err = strconv.Atoi(str)
	} else {
		p, err = cast.ToIntE(port)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid port %v: %w", port, err)
	}
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %v: out of range", port)
	}
	return p, nil
}

func serverOptions(m map[string]any) (server.Options, error) {
	var opts server.Options
	d := maps.Clone(m)
	delete(d, "cache")
	delete(d, "connections")
	if err := decodeStrict(d, &opts); err != nil {
		return opts, newValidationError(fmt.Sprintf("server: %v", err))
	}
	return opts, nil
}

func decodeStrict(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
