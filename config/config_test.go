package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PTO_AUTH_JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "pto.db", cfg.Database.Path)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Auth.Required)
	assert.True(t, cfg.Reference.SeedDefaults)
	assert.Equal(t, 8, cfg.Leave.HoursPerDay)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  write_timeout: 30s
  allowed_origins: ["https://hr.example.com"]
database:
  driver: postgres
  url: postgres://file
logger:
  level: debug
  format: console
auth:
  jwt_secret: from-file
reference:
  seed_file: ./handbook.yaml
`)
	t.Setenv("PTO_DATABASE_URL", "postgres://env")
	t.Setenv("PTO_LEAVE_HOURS_PER_DAY", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://hr.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://env", cfg.Database.URL, "environment beats the file")
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "./handbook.yaml", cfg.Reference.SeedFile)
	assert.Equal(t, 7, cfg.Leave.HoursPerDay)
}

func TestLoad_AuthOptionalWithoutSecret(t *testing.T) {
	t.Setenv("PTO_AUTH_REQUIRED", "false")
	t.Setenv("PTO_DATABASE_DRIVER", "memory")
	t.Setenv("PTO_SERVER_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Auth.Required)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: DriverSQLite, Path: "pto.db"},
			Auth:     AuthConfig{Required: true, JWTSecret: "s"},
			Leave:    LeaveConfig{HoursPerDay: 8},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.url"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"required auth without secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"optional auth without secret", func(c *Config) { c.Auth = AuthConfig{} }, ""},
		{"zero hours per day", func(c *Config) { c.Leave.HoursPerDay = 0 }, "hours_per_day"},
		{"too many hours per day", func(c *Config) { c.Leave.HoursPerDay = 25 }, "hours_per_day"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
