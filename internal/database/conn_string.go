package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/signal-relay/internal/config"
)

// ApplicationName prefixes the application_name of every backplane session.
const ApplicationName = "signalrelay"

// Session roles, reported in pg_stat_activity as "signalrelay/<role>".
const (
	RolePublish = "publish"
	RoleListen  = "listen"
)

// BuildConnString builds a PostgreSQL URL from config. User and password are escaped, an empty
// sslmode becomes prefer, and role (when set) is appended to the application name.
func BuildConnString(cfg config.DBConfig, role string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	appName := ApplicationName
	if role != "" {
		appName += "/" + role
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", appName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
