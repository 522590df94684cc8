// Package config loads service settings from defaults, an optional YAML file
// and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings of every tasklist service. Each binary reads the
// sections it needs.
type Config struct {
	Debug   bool          `mapstructure:"debug"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	API     APIConfig     `mapstructure:"api"`
	View    ViewConfig    `mapstructure:"view"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type APIConfig struct {
	Addr              string        `mapstructure:"addr"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	SeedFile          string        `mapstructure:"seed_file"`
	StartupRetries    int           `mapstructure:"startup_retries"`
	StartupRetryDelay time.Duration `mapstructure:"startup_retry_delay"`
}

type ViewConfig struct {
	Addr         string        `mapstructure:"addr"`
	APIBaseURL   string        `mapstructure:"api_base_url"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// StorageConfig selects Azure Table storage when ConnectionString is set.
type StorageConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	TasksTable       string `mapstructure:"tasks_table"`
	EventsQueue      string `mapstructure:"events_queue"`
}

// RedisConfig enables the read cache when URL is set.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// AuthConfig selects how tokens are verified. TokenTTL bounds the tokens the
// login route issues with JWTSecret.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWKSURL   string        `mapstructure:"jwks_url"`
	Audience  string        `mapstructure:"audience"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("metrics.addr", ":3001")
	v.SetDefault("api.addr", ":5000")
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.seed_file", "")
	v.SetDefault("api.startup_retries", 10)
	v.SetDefault("api.startup_retry_delay", 5*time.Second)
	v.SetDefault("view.addr", ":3000")
	v.SetDefault("view.api_base_url", "http://localhost:5000")
	v.SetDefault("view.fetch_timeout", 10*time.Second)
	v.SetDefault("storage.connection_string", "")
	v.SetDefault("storage.tasks_table", "tasks")
	v.SetDefault("storage.events_queue", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", time.Minute)
	v.SetDefault("auth.jwt_secret", "very_secret_key")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.token_ttl", 15*time.Minute)
}

// Load reads the configuration. path is an optional YAML file; an empty path
// skips the file. Environment variables override both, with nested keys
// joined by underscores (api.startup_retries -> API_STARTUP_RETRIES).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Metrics.Addr = listenAddr(cfg.Metrics.Addr)
	cfg.API.Addr = listenAddr(cfg.API.Addr)
	cfg.View.Addr = listenAddr(cfg.View.Addr)
	cfg.View.APIBaseURL = strings.TrimRight(cfg.View.APIBaseURL, "/")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.API.StartupRetries < 1 {
		errs = append(errs, errors.New("api.startup_retries must be at least 1"))
	}
	if c.API.StartupRetryDelay < 0 {
		errs = append(errs, errors.New("api.startup_retry_delay must not be negative"))
	}
	if c.View.FetchTimeout <= 0 {
		errs = append(errs, errors.New("view.fetch_timeout must be greater than zero"))
	}
	if u, err := url.Parse(c.View.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("view.api_base_url must be an absolute URL, got %q", c.View.APIBaseURL))
	}
	if c.Redis.CacheTTL < 0 {
		errs = append(errs, errors.New("redis.cache_ttl must not be negative"))
	}
	if c.Storage.ConnectionString != "" && c.Storage.TasksTable == "" {
		errs = append(errs, errors.New("storage.tasks_table is required with a connection string"))
	}
	return errors.Join(errs...)
}

// listenAddr accepts either a full listen address or a bare port.
func listenAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return ":" + addr
}
