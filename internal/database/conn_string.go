package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/kook-gateway/internal/config"
)

// applicationName tags gateway sessions in pg_stat_activity.
const applicationName = "kookgw"

// BuildConnString builds a PostgreSQL URL from config. User and password
// are escaped by net/url.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
