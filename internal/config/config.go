// Package config loads relay server and client configuration from YAML.
//
// Values of the form ${VAR} are expanded from the environment before parsing, and an optional
// .env file next to the config is loaded first so local runs need no exported variables.
package config

import "time"

// Backplane drivers.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Transport names, in preference order.
const (
	TransportWebSockets       = "WebSockets"
	TransportServerSentEvents = "ServerSentEvents"
	TransportLongPolling      = "LongPolling"
)

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	HTTP      HTTPConfig      `yaml:"http"`
	Hub       HubConfig       `yaml:"hub"`
	Backplane BackplaneConfig `yaml:"backplane"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this relay instance. An empty ID is replaced by a random UUID at
// startup.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// HubConfig configures the client-facing hub endpoints.
type HubConfig struct {
	Path         string        `yaml:"path"`
	Transports   []string      `yaml:"transports"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	PollIdleTTL  time.Duration `yaml:"poll_idle_ttl"`
}

// BackplaneConfig selects and configures the cross-instance backplane.
type BackplaneConfig struct {
	Driver   string      `yaml:"driver"`
	Channel  string      `yaml:"channel"`
	Redis    RedisConfig `yaml:"redis"`
	Postgres DBConfig    `yaml:"postgres"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr               string        `yaml:"addr"`
	Password           string        `yaml:"password"`
	DB                 int           `yaml:"db"`
	AbortOnConnectFail bool          `yaml:"abort_on_connect_fail"`
	ConnectRetry       int           `yaml:"connect_retry"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`

	// AbortOnConnectFail makes an unreachable server a startup error. Otherwise the backplane
	// starts degraded and reconnects in the background.
	AbortOnConnectFail bool `yaml:"abort_on_connect_fail"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether metrics are served. Unset means enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClientConfig is the root configuration for the watch, push and call commands.
type ClientConfig struct {
	Relay RelayEndpointConfig `yaml:"relay"`
	API   APIConfig           `yaml:"api"`
	Log   LogConfig           `yaml:"log"`
}

// RelayEndpointConfig locates a relay from the client side.
type RelayEndpointConfig struct {
	URL         string        `yaml:"url"`
	HubPath     string        `yaml:"hub_path"`
	PushPath    string        `yaml:"push_path"`
	Transports  []string      `yaml:"transports"`
	PushTimeout time.Duration `yaml:"push_timeout"`
}

// APIConfig configures the business backend client.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}
