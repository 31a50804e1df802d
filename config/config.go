/*
config.go - Server configuration

Values come from (lowest to highest precedence) defaults, an optional YAML
file, and PTO_* environment variables. Nested keys map to env names by
replacing dots with underscores: database.url -> PTO_DATABASE_URL.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "PTO"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Leave     LeaveConfig     `mapstructure:"leave"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the store. Path is used by sqlite, URL by postgres.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Required  bool   `mapstructure:"required"`
}

type ReferenceConfig struct {
	SeedFile     string `mapstructure:"seed_file"`
	SeedDefaults bool   `mapstructure:"seed_defaults"`
}

type LeaveConfig struct {
	HoursPerDay int `mapstructure:"hours_per_day"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load reads configuration. An empty path skips the file and uses defaults
// plus the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// Env lists arrive as one comma-separated string, possibly with spaces.
	cfg.Server.AllowedOrigins = splitList(strings.Join(cfg.Server.AllowedOrigins, ","))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "pto.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.required", true)

	v.SetDefault("reference.seed_file", "")
	v.SetDefault("reference.seed_defaults", true)

	v.SetDefault("leave.hours_per_day", 8)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.required is true")
	}
	if c.Leave.HoursPerDay <= 0 || c.Leave.HoursPerDay > 24 {
		return fmt.Errorf("leave.hours_per_day must be between 1 and 24")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
