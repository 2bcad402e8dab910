package app

import (
	"strings"

	"github.com/charlesng35/otpauth/internal/database"
)

// ConnectionConfig selects the host parameters matching the configured driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:            strings.TrimSpace(c.Path),
		DSN:             strings.TrimSpace(c.DSN),
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}

	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql", "mariadb":
		host = c.MySQL
	default:
		return cfg
	}

	cfg.Host = strings.TrimSpace(host.Host)
	cfg.Port = host.Port
	cfg.Name = strings.TrimSpace(host.Database)
	cfg.User = strings.TrimSpace(host.Username)
	cfg.Password = host.Password
	return cfg
}
