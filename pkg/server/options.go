package server

// Options holds server level settings.
type Options struct {
	// App is shared application state visible to every plugin.
	App map[string]any `mapstructure:"app"`
	// Plugins holds plugin specific server level settings keyed by plugin name.
	Plugins map[string]any `mapstructure:"plugins"`
}

// ConnectionOptions describes one connection (one independently addressable
// host:port endpoint).
type ConnectionOptions struct {
	// Host is the public host name, "localhost" when empty.
	Host string `mapstructure:"host"`
	// Address is the bind address, Host when empty (all interfaces when both
	// are empty).
	Address string `mapstructure:"address"`
	// Port of 0 picks an ephemeral port on start.
	Port int `mapstructure:"port"`
	// URI overrides the computed public URI.
	URI string `mapstructure:"uri"`
	// Labels are used to select connections when registering plugins.
	Labels []string `mapstructure:"labels"`
	// App is connection specific application state.
	App map[string]any `mapstructure:"app"`
	// Plugins holds plugin specific connection level settings.
	Plugins map[string]any `mapstructure:"plugins"`

	Timeout TimeoutOptions `mapstructure:"timeout"`
	Routes  RouteOptions   `mapstructure:"routes"`
	Load    LoadOptions    `mapstructure:"load"`
}

// TimeoutOptions are expressed in milliseconds; 0 disables a timeout.
type TimeoutOptions struct {
	// Server bounds the handler context of every request.
	Server int `mapstructure:"server"`
	// Socket bounds idle and read time of the underlying sockets.
	Socket int `mapstructure:"socket"`
}

// RouteOptions are defaults applied to every route of a connection.
type RouteOptions struct {
	CORS *CORSOptions `mapstructure:"cors"`
}

// CORSOptions enables CORS handling on a connection.
type CORSOptions struct {
	Origin         []string `mapstructure:"origin"`
	Headers        []string `mapstructure:"headers"`
	ExposedHeaders []string `mapstructure:"exposedHeaders"`
	Credentials    bool     `mapstructure:"credentials"`
	// MaxAge in seconds.
	MaxAge int `mapstructure:"maxAge"`
}

// LoadOptions configures load shedding.
type LoadOptions struct {
	MaxRequestsPerSecond float64 `mapstructure:"maxRequestsPerSecond"`
	Burst                int     `mapstructure:"burst"`
}

// RegisterOptions controls a single plugin registration.
type RegisterOptions struct {
	// Connections the plugin is registered against. Nil means every
	// connection; an empty non-nil slice means none.
	Connections []*Connection
	// RoutePrefix is prepended to every route the plugin adds. It must start
	// with "/" and must not end with "/".
	RoutePrefix string
	// Options are handed to the plugin as-is.
	Options map[string]any
}
