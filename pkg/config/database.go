package config

import "fmt"

// DatabaseConfig holds PostgreSQL settings for the preference store
type DatabaseConfig struct {
	Host     string `env:"SESSION_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"SESSION_PG_PORT" env-default:"5432"`
	Database string `env:"SESSION_PG_DATABASE" env-default:"session_db"`
	User     string `env:"SESSION_PG_USER" env-default:"session"`
	Password string `env:"SESSION_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"SESSION_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}
