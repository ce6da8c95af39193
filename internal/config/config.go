// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Service  ServiceConfig  `mapstructure:"service"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ServiceConfig is reported by the heartbeat endpoint.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// DatabaseConfig describes the optional document store. URL and Name map to the
// DATABASE_URL and DATABASE_NAME environment variables.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Name            string        `mapstructure:"name"`
	Driver          string        `mapstructure:"driver"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for lead notifications.
type PubSubConfig struct {
	ProjectID      string        `mapstructure:"project_id"`
	TopicName      string        `mapstructure:"topic_name"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// Enabled reports whether both project and topic are set.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("service.name", "PaladiuAI Backend")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("database.driver", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.publish_timeout", 10*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.enabled", true)
}

// bindEnv maps the plain variable names used by hosting platforms. The prefixed
// form (LEADS_SERVER_PORT, ...) wins when both are set.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":     {"LEADS_SERVER_PORT", "PORT"},
		"database.url":    {"LEADS_DATABASE_URL", "DATABASE_URL"},
		"database.name":   {"LEADS_DATABASE_NAME", "DATABASE_NAME"},
		"database.driver": {"LEADS_DATABASE_DRIVER", "DATABASE_DRIVER"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Service.Name == "" {
		return fmt.Errorf("service.name must be set")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		return fmt.Errorf("database.max_conns and database.min_conns must be >= 0")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}
