package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. AQ_SENSOR_ID.
const EnvPrefix = "AQ"

// Config holds all configuration for our application. It is loaded once at
// startup, validated eagerly and treated as immutable afterwards.
type Config struct {
	Sensor   SensorConfig   `mapstructure:"sensor"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type SensorConfig struct {
	ID      int    `mapstructure:"id"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	HistoryPath string `mapstructure:"history_path"`
	StatsPath   string `mapstructure:"stats_path"`
	BadgerDir   string `mapstructure:"badger_dir"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type ForecastConfig struct {
	Column    string `mapstructure:"column"`
	Order     []int  `mapstructure:"order"`
	Horizon   int    `mapstructure:"horizon"`
	CacheSize int    `mapstructure:"cache_size"`
}

type ScheduleConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type ServerConfig struct {
	Host           string  `mapstructure:"host"`
	GRPCPort       int     `mapstructure:"grpc_port"`
	HTTPPort       int     `mapstructure:"http_port"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ARIMAOrder returns the configured (p, d, q) order.
func (c ForecastConfig) ARIMAOrder() models.Order {
	return models.Order{P: c.Order[0], D: c.Order[1], Q: c.Order[2]}
}

// GRPCAddr is the listen address of the gRPC server.
func (c ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// HTTPAddr is the listen address of the dashboard server.
func (c ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load reads configuration from file and environment variables.
//
// A .env file in the working directory is loaded first when present. The
// YAML file is optional: a missing file leaves defaults and environment
// overrides in place. ${VAR} references inside the file are expanded.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("sensor.api_key", EnvPrefix+"_SENSOR_API_KEY", "PURPLEAIR_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			expanded, err := expand(data)
			if err != nil {
				return nil, err
			}
			v.SetConfigType("yaml")
			if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// expand normalizes the YAML document and expands environment variables.
func expand(data []byte) ([]byte, error) {
	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	data, err := yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	return []byte(os.ExpandEnv(string(data))), nil
}

// Validate fails fast on values the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Sensor.APIKey) == "" {
		return fmt.Errorf("%w: sensor api key is required (set PURPLEAIR_API_KEY)", models.ErrConfiguration)
	}
	if c.Sensor.ID <= 0 {
		return fmt.Errorf("%w: invalid sensor id %d", models.ErrConfiguration, c.Sensor.ID)
	}
	if c.Sensor.BaseURL == "" {
		return fmt.Errorf("%w: sensor base url is required", models.ErrConfiguration)
	}
	if len(c.Forecast.Order) != 3 {
		return fmt.Errorf("%w: forecast order must have 3 terms, got %v", models.ErrConfiguration, c.Forecast.Order)
	}
	for _, term := range c.Forecast.Order {
		if term < 0 {
			return fmt.Errorf("%w: forecast order terms must be non-negative, got %v", models.ErrConfiguration, c.Forecast.Order)
		}
	}
	if c.Forecast.Horizon <= 0 {
		return fmt.Errorf("%w: forecast horizon must be positive", models.ErrConfiguration)
	}
	if c.Forecast.Column == "" {
		return fmt.Errorf("%w: forecast column is required", models.ErrConfiguration)
	}
	if c.Schedule.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", models.ErrConfiguration)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("%w: fetch timeout must be positive", models.ErrConfiguration)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("%w: fetch max_retries must not be negative", models.ErrConfiguration)
	}

	switch c.Storage.Backend {
	case "csv":
		if c.Storage.HistoryPath == "" || c.Storage.StatsPath == "" {
			return fmt.Errorf("%w: csv backend needs history_path and stats_path", models.ErrConfiguration)
		}
	case "badger":
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("%w: badger backend needs badger_dir", models.ErrConfiguration)
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres backend needs postgres_dsn", models.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", models.ErrConfiguration, c.Storage.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sensor.id", 247259)
	v.SetDefault("sensor.api_key", "")
	v.SetDefault("sensor.base_url", "https://api.purpleair.com/v1")

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.initial_backoff", 500*time.Millisecond)
	v.SetDefault("fetch.max_backoff", 5*time.Second)

	v.SetDefault("storage.backend", "csv")
	v.SetDefault("storage.history_path", "data/historical.csv")
	v.SetDefault("storage.stats_path", "data/api_history.csv")
	v.SetDefault("storage.badger_dir", "data/badger")
	v.SetDefault("storage.postgres_dsn", "")

	v.SetDefault("forecast.column", models.CanonicalPM25)
	v.SetDefault("forecast.order", []int{1, 1, 1})
	v.SetDefault("forecast.horizon", 24)
	v.SetDefault("forecast.cache_size", 16)

	v.SetDefault("schedule.refresh_interval", 5*time.Minute)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
