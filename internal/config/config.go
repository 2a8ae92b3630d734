// Package config loads relay settings from an optional YAML file, a .env
// file and RELAY_-prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ashendes/payment-relay/internal/patterns"
	"github.com/ashendes/payment-relay/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_SERVER_PORT
const EnvPrefix = "RELAY"

// Config is the complete relay configuration
type Config struct {
	Server struct {
		Port int    `mapstructure:"port"`
		Mode string `mapstructure:"mode"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Provider struct {
		BaseURL         string `mapstructure:"base_url"`
		SecretKey       string `mapstructure:"secret_key"`
		Currency        string `mapstructure:"currency"`
		CallbackURL     string `mapstructure:"callback_url"`
		SignatureHeader string `mapstructure:"signature_header"`
	} `mapstructure:"provider"`

	Breaker struct {
		MaxRequests  uint32        `mapstructure:"max_requests"`
		Interval     time.Duration `mapstructure:"interval"`
		Timeout      time.Duration `mapstructure:"timeout"`
		MinRequests  uint32        `mapstructure:"min_requests"`
		FailureRatio float64       `mapstructure:"failure_ratio"`
	} `mapstructure:"breaker"`

	Relay struct {
		URL           string `mapstructure:"url"`
		Recipient     string `mapstructure:"recipient"`
		MaxConcurrent int    `mapstructure:"max_concurrent"`
		Timezone      string `mapstructure:"timezone"`
	} `mapstructure:"relay"`

	Payment struct {
		ReferencePrefix string `mapstructure:"reference_prefix"`
	} `mapstructure:"payment"`

	Store struct {
		Backend  string `mapstructure:"backend"`
		DSN      string `mapstructure:"dsn"`
		Database string `mapstructure:"database"`
		Table    string `mapstructure:"table"`
		Region   string `mapstructure:"region"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"store"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")

	v.SetDefault("provider.base_url", "https://api.paystack.co")
	v.SetDefault("provider.secret_key", "")
	v.SetDefault("provider.currency", "NGN")
	v.SetDefault("provider.callback_url", "")
	v.SetDefault("provider.signature_header", "X-Paystack-Signature")

	breaker := patterns.DefaultBreakerSettings()
	v.SetDefault("breaker.max_requests", breaker.MaxRequests)
	v.SetDefault("breaker.interval", breaker.Interval)
	v.SetDefault("breaker.timeout", breaker.Timeout)
	v.SetDefault("breaker.min_requests", breaker.MinRequests)
	v.SetDefault("breaker.failure_ratio", breaker.FailureRatio)

	v.SetDefault("relay.url", "")
	v.SetDefault("relay.recipient", "")
	v.SetDefault("relay.max_concurrent", 10)
	v.SetDefault("relay.timezone", "Africa/Lagos")

	v.SetDefault("payment.reference_prefix", "PAY")

	v.SetDefault("store.backend", store.BackendMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "")
	v.SetDefault("store.table", "")
	v.SetDefault("store.region", "")
	v.SetDefault("store.endpoint", "")
}

// Load reads configuration. path names an optional YAML file; an empty path
// looks for relay.yaml in the working directory and carries on without it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithField("error", err.Error()).Warn("Ignoring unreadable .env file")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings the service cannot start without
func (c *Config) Validate() error {
	var problems []string
	if c.Provider.SecretKey == "" {
		problems = append(problems, "provider.secret_key is required")
	}
	if c.Server.Port <= 0 {
		problems = append(problems, "server.port must be positive")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves the notification timezone. A zone missing from the
// system database falls back to a fixed UTC+1 offset.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Relay.Timezone)
	if err != nil {
		log.WithFields(log.Fields{
			"timezone": c.Relay.Timezone,
			"error":    err.Error(),
		}).Warn("Unknown timezone, using WAT (UTC+1)")
		return time.FixedZone("WAT", 60*60)
	}
	return loc
}

// StoreOptions maps the store section onto store.Options
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:  c.Store.Backend,
		DSN:      c.Store.DSN,
		Database: c.Store.Database,
		Table:    c.Store.Table,
		Region:   c.Store.Region,
		Endpoint: c.Store.Endpoint,
	}
}

// BreakerSettings maps the breaker section onto patterns.BreakerSettings
func (c *Config) BreakerSettings() patterns.BreakerSettings {
	return patterns.BreakerSettings{
		MaxRequests:  c.Breaker.MaxRequests,
		Interval:     c.Breaker.Interval,
		Timeout:      c.Breaker.Timeout,
		MinRequests:  c.Breaker.MinRequests,
		FailureRatio: c.Breaker.FailureRatio,
	}
}
