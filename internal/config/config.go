// Package config loads the migrator CLI configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Supported tenant sources.
const (
	SourceNamespaces = "namespaces"
	SourceStatic     = "static"
	SourceCatalog    = "catalog"
)

// Supported lock backends.
const (
	LockDatabase = "database"
	LockRedis    = "redis"
)

// Config holds all configuration for the migrator CLI.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	Tenants    TenantsConfig    `mapstructure:"tenants"`
	Run        RunConfig        `mapstructure:"run"`
	Lock       LockConfig       `mapstructure:"lock"`
	Drift      DriftConfig      `mapstructure:"drift"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DatabaseConfig selects the backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`

	// Dir is the data directory of the sqlite driver.
	Dir string `mapstructure:"dir"`
}

// MigrationsConfig points at the chain manifests.
type MigrationsConfig struct {
	TenantManifest string `mapstructure:"tenant_manifest"`
	PublicManifest string `mapstructure:"public_manifest"`
}

// TenantsConfig describes where the tenant fleet comes from.
type TenantsConfig struct {
	Source       string   `mapstructure:"source"`
	Prefix       string   `mapstructure:"prefix"`
	Static       []string `mapstructure:"static"`
	CatalogQuery string   `mapstructure:"catalog_query"`
	Ignored      []string `mapstructure:"ignored"`
}

// RunConfig holds fleet run defaults. CLI flags override them.
type RunConfig struct {
	Workers         int    `mapstructure:"workers"`
	LockMode        string `mapstructure:"lock_mode"`
	ErrorPolicy     string `mapstructure:"error_policy"`
	CreateIfMissing bool   `mapstructure:"create_if_missing"`
	PublicNamespace string `mapstructure:"public_namespace"`
	SaveReports     bool   `mapstructure:"save_reports"`
}

// LockConfig selects how namespaces are locked.
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
}

// DriftConfig configures the drift check.
type DriftConfig struct {
	Reference string   `mapstructure:"reference"`
	Excluded  []string `mapstructure:"excluded"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and MIGRATOR_* environment variables.
// With an empty path, migrator.yaml is looked up in the working directory and
// is optional.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("migrator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MIGRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dir", "./data")

	v.SetDefault("migrations.tenant_manifest", "migrations/tenant/manifest.yaml")
	v.SetDefault("migrations.public_manifest", "migrations/public/manifest.yaml")

	v.SetDefault("tenants.source", SourceNamespaces)
	v.SetDefault("tenants.prefix", "tenant_")
	v.SetDefault("tenants.static", []string{})
	v.SetDefault("tenants.catalog_query", "")
	v.SetDefault("tenants.ignored", []string{})

	v.SetDefault("run.workers", 1)
	v.SetDefault("run.lock_mode", string(migrator.LockFailFast))
	v.SetDefault("run.error_policy", string(migrator.FailFast))
	v.SetDefault("run.create_if_missing", true)
	v.SetDefault("run.public_namespace", "public")
	v.SetDefault("run.save_reports", true)

	v.SetDefault("lock.backend", LockDatabase)
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl", "10m")
	v.SetDefault("lock.max_wait", "0s")

	v.SetDefault("drift.reference", "")
	v.SetDefault("drift.excluded", []string{})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverPGX, DriverMySQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
		}
	case DriverSQLite:
		if c.Database.Dir == "" {
			return fmt.Errorf("database dir is required for driver sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Tenants.Source {
	case SourceNamespaces:
	case SourceStatic:
		if len(c.Tenants.Static) == 0 {
			return fmt.Errorf("static tenant source requires tenants.static")
		}
	case SourceCatalog:
		if c.Tenants.CatalogQuery == "" {
			return fmt.Errorf("catalog tenant source requires tenants.catalog_query")
		}
	default:
		return fmt.Errorf("unsupported tenant source: %q", c.Tenants.Source)
	}

	if c.Run.Workers < 1 {
		return fmt.Errorf("run workers must be at least 1, got %d", c.Run.Workers)
	}
	if _, err := migrator.ParseLockMode(c.Run.LockMode); err != nil {
		return err
	}
	if _, err := migrator.ParseErrorPolicy(c.Run.ErrorPolicy); err != nil {
		return err
	}
	if err := migrator.ValidateNamespace(c.Run.PublicNamespace); err != nil {
		return fmt.Errorf("public namespace: %w", err)
	}

	switch c.Lock.Backend {
	case LockDatabase:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("redis lock backend requires lock.redis_addr")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("lock ttl must be positive")
		}
	default:
		return fmt.Errorf("unsupported lock backend: %q", c.Lock.Backend)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	return nil
}
