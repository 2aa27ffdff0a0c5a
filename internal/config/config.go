package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DateLayout = "2006-01-02"

type Config struct {
	Oura      OuraConfig         `mapstructure:"oura"`
	Database  DatabaseConnection `mapstructure:"database"`
	Sync      SyncConfig         `mapstructure:"sync"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Server    ServerConfig       `mapstructure:"server"`
	Logging   LoggingConfig      `mapstructure:"logging"`
}

type OuraConfig struct {
	Token             string        `mapstructure:"token"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type DatabaseConnection struct {
	Driver            string        `mapstructure:"driver"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"sslmode"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
	MaxIdleConns      int           `mapstructure:"max_idle_conns"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConnection) DSN() string {
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Database)
	default:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Password),
			Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:     "/" + d.Database,
			RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
		}
		return u.String()
	}
}

type SyncConfig struct {
	HistoryStartDate string `mapstructure:"history_start_date"`
	OverlapDays      int    `mapstructure:"overlap_days"`
	BatchSize        int    `mapstructure:"batch_size"`
	Endpoint         string `mapstructure:"endpoint"`
	SentinelPath     string `mapstructure:"sentinel_path"`
}

// HistoryStart parses HistoryStartDate.
func (s SyncConfig) HistoryStart() (time.Time, error) {
	return time.Parse(DateLayout, s.HistoryStartDate)
}

type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

type ServerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	AuthToken    string `mapstructure:"auth_token"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the environment variables the service has
// always been configured with.
var envBindings = map[string]string{
	"oura.token":                 "OURA_TOKEN",
	"oura.base_url":              "OURA_BASE_URL",
	"oura.requests_per_second":   "OURA_REQUESTS_PER_SECOND",
	"database.driver":            "DB_DRIVER",
	"database.host":              "POSTGRES_HOST",
	"database.port":              "POSTGRES_PORT",
	"database.database":          "POSTGRES_DB",
	"database.user":              "POSTGRES_USER",
	"database.password":          "POSTGRES_PASSWORD",
	"database.sslmode":           "POSTGRES_SSLMODE",
	"sync.history_start_date":    "HISTORY_START_DATE",
	"sync.overlap_days":          "OVERLAP_DAYS",
	"sync.sentinel_path":         "SYNC_SENTINEL_PATH",
	"scheduler.interval_minutes": "SYNC_INTERVAL_MINUTES",
	"server.enabled":             "SERVER_ENABLED",
	"server.port":                "SERVER_PORT",
	"server.auth_token":          "SERVER_AUTH_TOKEN",
	"logging.level":              "LOG_LEVEL",
	"logging.format":             "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("oura.base_url", "https://api.ouraring.com/v2/usercollection")
	v.SetDefault("oura.timeout", 30*time.Second)
	v.SetDefault("oura.requests_per_second", 0)
	v.SetDefault("oura.burst", 1)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "oura")
	v.SetDefault("database.user", "oura")
	v.SetDefault("database.password", "oura")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.connect_retries", 30)
	v.SetDefault("database.connect_retry_delay", 2*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("sync.history_start_date", "2020-01-01")
	v.SetDefault("sync.overlap_days", 2)
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.sentinel_path", "/tmp/oura-last-sync")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 30)
	v.SetDefault("scheduler.shutdown_timeout", 5*time.Minute)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads defaults, an optional YAML file and the environment, in
// increasing order of precedence. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if cfg.Database.Driver == "postgresql" || cfg.Database.Driver == "pgx" {
		cfg.Database.Driver = "postgres"
	}
	return &cfg, nil
}

// Validate reports the first configuration problem that would prevent a sync.
func (c *Config) Validate() error {
	if c.Oura.Token == "" {
		return errors.New("OURA_TOKEN is required (get one at https://cloud.ouraring.com/personal-access-tokens)")
	}
	if _, err := c.Sync.HistoryStart(); err != nil {
		return fmt.Errorf("invalid HISTORY_START_DATE %q: expected YYYY-MM-DD", c.Sync.HistoryStartDate)
	}
	if c.Sync.OverlapDays < 0 {
		return fmt.Errorf("OVERLAP_DAYS must be >= 0, got %d", c.Sync.OverlapDays)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0, got %d", c.Sync.BatchSize)
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("SYNC_INTERVAL_MINUTES must be > 0, got %d", c.Scheduler.IntervalMinutes)
	}
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
