// Package config loads gamecat settings from an optional YAML file,
// GAMECAT_* environment variables and bound command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GAMECAT_BACKEND_DRIVER.
const EnvPrefix = "GAMECAT"

// Backend drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Drivers lists the accepted backend.driver values.
var Drivers = []string{DriverMemory, DriverSQLite, DriverPostgres, DriverRedis}

// Config is the resolved configuration.
type Config struct {
	Backend         Backend       `mapstructure:"backend"`
	Collection      string        `mapstructure:"collection"`
	MutationTimeout time.Duration `mapstructure:"mutation_timeout"`
	Log             Log           `mapstructure:"log"`
	Metrics         Metrics       `mapstructure:"metrics"`
}

// Backend selects and configures the live collection.
type Backend struct {
	Driver       string        `mapstructure:"driver"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	RedisURL     string        `mapstructure:"redis_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Log configures the default slog logger.
type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Metrics configures the Prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default, which also makes each
// key visible to AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.driver", DriverSQLite)
	v.SetDefault("backend.sqlite_path", "gamecat.db")
	v.SetDefault("backend.postgres_dsn", "")
	v.SetDefault("backend.redis_url", "")
	v.SetDefault("backend.poll_interval", 500*time.Millisecond)
	v.SetDefault("collection", "games")
	v.SetDefault("mutation_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.addr", "")
}

// Load resolves the configuration. path may be empty (defaults plus
// environment only); a named file that cannot be read is an error. flags,
// when non-nil, are bound by their long name to the matching key.
func Load(path string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Backend.Driver = strings.ToLower(strings.TrimSpace(cfg.Backend.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations no backend can be opened from.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(Drivers, c.Backend.Driver) {
		errs = append(errs, fmt.Errorf("backend.driver %q: must be one of %v", c.Backend.Driver, Drivers))
	}
	switch c.Backend.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Backend.SQLitePath) == "" {
			errs = append(errs, errors.New("backend.sqlite_path is required for the sqlite driver"))
		}
		if c.Backend.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("backend.poll_interval %s: must be positive", c.Backend.PollInterval))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Backend.PostgresDSN) == "" {
			errs = append(errs, errors.New("backend.postgres_dsn is required for the postgres driver"))
		}
	case DriverRedis:
		if strings.TrimSpace(c.Backend.RedisURL) == "" {
			errs = append(errs, errors.New("backend.redis_url is required for the redis driver"))
		}
	}

	if strings.TrimSpace(c.Collection) == "" {
		errs = append(errs, errors.New("collection must not be empty"))
	}
	if c.MutationTimeout < 0 {
		errs = append(errs, fmt.Errorf("mutation_timeout %s: must not be negative", c.MutationTimeout))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}
