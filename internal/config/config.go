package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at startup and handed to every component.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Local     LocalConfig     `mapstructure:"local"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ProviderConfig configures one HTTP vision provider. APIKey is the default
// credential used when a request carries none.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type MoondreamConfig struct {
	ProviderConfig `mapstructure:",squash"`
	FreeToken      string `mapstructure:"free_token"`
}

type GRPCProviderConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

type ProvidersConfig struct {
	Timeout   time.Duration      `mapstructure:"timeout"`
	Gemini    ProviderConfig     `mapstructure:"gemini"`
	Together  ProviderConfig     `mapstructure:"together"`
	Moondream MoondreamConfig    `mapstructure:"moondream"`
	GRPC      GRPCProviderConfig `mapstructure:"grpc"`
}

// LocalConfig configures the session store.
type LocalConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	ResetOnStart bool   `mapstructure:"reset_on_start"`
}

// ArchiveConfig configures the archive store. URI wins over the discrete
// connection fields when set.
type ArchiveConfig struct {
	URI        string        `mapstructure:"uri"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Cluster    string        `mapstructure:"cluster"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Source     string        `mapstructure:"source"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

// Option adjusts how Load reads configuration.
type Option func(*options)

type options struct {
	configPath string
}

const envPrefix = "THERMOSCAN"

// WithConfigFile reads an explicit configuration file.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

var defaults = map[string]any{
	"server.addr":                    ":8001",
	"server.port":                    "",
	"server.shutdown_timeout":        "15s",
	"log.level":                      "info",
	"providers.timeout":              "30s",
	"providers.gemini.api_key":       "",
	"providers.gemini.base_url":      "",
	"providers.gemini.model":         "",
	"providers.together.api_key":     "",
	"providers.together.base_url":    "",
	"providers.together.model":       "",
	"providers.moondream.api_key":    "",
	"providers.moondream.base_url":   "",
	"providers.moondream.model":      "",
	"providers.moondream.free_token": "free",
	"providers.grpc.addr":            "",
	"providers.grpc.api_key":         "",
	"local.driver":                   "sqlite",
	"local.dsn":                      "session.db",
	"local.reset_on_start":           true,
	"archive.uri":                    "",
	"archive.username":               "",
	"archive.password":               "",
	"archive.cluster":                "",
	"archive.database":               "temp-monitoring",
	"archive.collection":             "users",
	"archive.source":                 "ThermoScan WebApp",
	"archive.timeout":                "5s",
	"redis.addr":                     "",
	"redis.password":                 "",
	"redis.db":                       0,
	"redis.history_ttl":              "30s",
	"auth.jwt_secret":                "",
	"auth.jwt_audience":              "",
}

// legacyEnv lists the unprefixed variable names deployments already use.
var legacyEnv = map[string]string{
	"server.port":                 "PORT",
	"providers.gemini.api_key":    "GEMINI_API_KEY",
	"providers.together.api_key":  "TOGETHER_API_KEY",
	"providers.moondream.api_key": "MOONDREAM_API_KEY",
	"archive.uri":                 "MONGODB_URI",
	"archive.username":            "MONGODB_USERNAME",
	"archive.password":            "MONGODB_PASSWORD",
	"archive.cluster":             "MONGODB_CLUSTER",
	"archive.database":            "MONGODB_DBNAME",
	"local.dsn":                   "DATABASE_DSN",
	"redis.addr":                  "REDIS_ADDR",
	"auth.jwt_secret":             "JWT_SECRET",
	"auth.jwt_audience":           "JWT_AUDIENCE",
}

// Load reads defaults, an optional config file and the environment, in
// increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
	} else {
		v.SetConfigName("thermoscan")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/thermoscan")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Server.Port != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(cfg.Server.Port, ":")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error
	switch c.Local.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("local.driver: unsupported driver %q", c.Local.Driver))
	}
	if c.Local.DSN == "" {
		errs = append(errs, errors.New("local.dsn: must not be empty"))
	}
	if c.Providers.Timeout <= 0 {
		errs = append(errs, errors.New("providers.timeout: must be positive"))
	}
	if c.Archive.Timeout <= 0 {
		errs = append(errs, errors.New("archive.timeout: must be positive"))
	}
	if c.Archive.Collection == "" || c.Archive.Database == "" {
		errs = append(errs, errors.New("archive: database and collection must be set"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: invalid level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// ArchiveConfigured reports whether enough is known to reach the archive.
func (c *Config) ArchiveConfigured() bool {
	return c.Archive.URI != "" || (c.Archive.Cluster != "" && c.Archive.Username != "")
}
