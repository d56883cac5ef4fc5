package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHTTPAddr          = ":6001"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultHubPath           = "/hubs/signal"
	DefaultPingInterval      = 15 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultPollTimeout       = 25 * time.Second
	DefaultPollIdleTTL       = 2 * time.Minute
	DefaultBackplaneDriver   = DriverMemory
	DefaultChannel           = "amqp-lab-default"
	DefaultRedisAddr         = "redis:6379"
	DefaultConnectRetry      = 5
	DefaultConnectTimeout    = 5 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultRelayURL          = "http://localhost:6001"
	DefaultPushPath          = "/push-event"
	DefaultPushTimeout       = 2 * time.Second
	DefaultAPIBaseURL        = "http://localhost:8081/api/python-backend"
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxAttempts       = 3
	DefaultRetryDelay        = 200 * time.Millisecond
)

// DefaultTransports is the transport preference order.
func DefaultTransports() []string {
	return []string{TransportWebSockets, TransportServerSentEvents, TransportLongPolling}
}

func (c *RelayConfig) applyDefaults() {
	// HTTP defaults
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Hub defaults
	if c.Hub.Path == "" {
		c.Hub.Path = DefaultHubPath
	}
	if len(c.Hub.Transports) == 0 {
		c.Hub.Transports = DefaultTransports()
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultPingInterval
	}
	if c.Hub.PongTimeout == 0 {
		c.Hub.PongTimeout = DefaultPongTimeout
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}
	if c.Hub.PollTimeout == 0 {
		c.Hub.PollTimeout = DefaultPollTimeout
	}
	if c.Hub.PollIdleTTL == 0 {
		c.Hub.PollIdleTTL = DefaultPollIdleTTL
	}

	// Backplane defaults
	if c.Backplane.Driver == "" {
		c.Backplane.Driver = DefaultBackplaneDriver
	}
	if c.Backplane.Channel == "" {
		c.Backplane.Channel = DefaultChannel
	}
	if c.Backplane.Redis.Addr == "" {
		c.Backplane.Redis.Addr = DefaultRedisAddr
	}
	if c.Backplane.Redis.ConnectRetry == 0 {
		c.Backplane.Redis.ConnectRetry = DefaultConnectRetry
	}
	if c.Backplane.Redis.ConnectTimeout == 0 {
		c.Backplane.Redis.ConnectTimeout = DefaultConnectTimeout
	}
	applyDBDefaults(&c.Backplane.Postgres)

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	applyLogDefaults(&c.Log)
}

func (c *ClientConfig) applyDefaults() {
	if c.Relay.URL == "" {
		c.Relay.URL = DefaultRelayURL
	}
	if c.Relay.HubPath == "" {
		c.Relay.HubPath = DefaultHubPath
	}
	if c.Relay.PushPath == "" {
		c.Relay.PushPath = DefaultPushPath
	}
	if len(c.Relay.Transports) == 0 {
		c.Relay.Transports = DefaultTransports()
	}
	if c.Relay.PushTimeout == 0 {
		c.Relay.PushTimeout = DefaultPushTimeout
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxAttempts == 0 {
		c.API.MaxAttempts = DefaultMaxAttempts
	}
	if c.API.RetryDelay == 0 {
		c.API.RetryDelay = DefaultRetryDelay
	}

	applyLogDefaults(&c.Log)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func applyLogDefaults(l *LogConfig) {
	if l.Level == "" {
		l.Level = DefaultLogLevel
	}
	if l.Format == "" {
		l.Format = DefaultLogFormat
	}
}
