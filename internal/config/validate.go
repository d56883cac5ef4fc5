package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if !strings.HasPrefix(c.Hub.Path, "/") {
		return fmt.Errorf("hub.path must start with /, got %q", c.Hub.Path)
	}
	if err := validateTransports("hub.transports", c.Hub.Transports); err != nil {
		return err
	}
	if c.Hub.PingInterval >= c.Hub.PongTimeout {
		return fmt.Errorf("hub.ping_interval (%s) must be less than hub.pong_timeout (%s)",
			c.Hub.PingInterval, c.Hub.PongTimeout)
	}

	if c.Backplane.Channel == "" {
		return errors.New("backplane.channel is required")
	}
	switch c.Backplane.Driver {
	case DriverNone, DriverMemory:
	case DriverRedis:
		if c.Backplane.Redis.Addr == "" {
			return errors.New("backplane.redis.addr is required")
		}
		if c.Backplane.Redis.ConnectRetry < 0 {
			return errors.New("backplane.redis.connect_retry must be >= 0")
		}
	case DriverPostgres:
		if err := c.Backplane.Postgres.validate("backplane.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("backplane.driver must be one of none, memory, redis, postgres, got %q", c.Backplane.Driver)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return c.Log.validate()
}

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if err := validateURL("relay.url", c.Relay.URL); err != nil {
		return err
	}
	if err := validateTransports("relay.transports", c.Relay.Transports); err != nil {
		return err
	}
	if err := validateURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if c.API.MaxAttempts < 1 {
		return errors.New("api.max_attempts must be >= 1")
	}
	return c.Log.validate()
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func (l *LogConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
	return nil
}

func validateTransports(field string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%s must not be empty", field)
	}
	for _, n := range names {
		switch n {
		case TransportWebSockets, TransportServerSentEvents, TransportLongPolling:
		default:
			return fmt.Errorf("%s: unknown transport %q", field, n)
		}
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}
