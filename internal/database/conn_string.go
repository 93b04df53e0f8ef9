package database

import (
	"cmp"
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/market-feed/internal/config"
)

// BuildConnString builds a PostgreSQL connection URL from config. appName is
// reported as application_name when set, so feed sessions are visible in
// pg_stat_activity.
func BuildConnString(cfg config.DBConfig, appName string) string {
	q := url.Values{}
	q.Set("sslmode", cmp.Or(cfg.SSLMode, config.DefaultDBSSLMode))
	if appName != "" {
		q.Set("application_name", appName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
