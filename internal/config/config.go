// Package config provides configuration loading from environment variables and flags.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Live Activity server.
type Config struct {
	// Server settings
	Port            int
	Host            string
	GracefulTimeout time.Duration

	// Redis settings
	RedisURL      string
	RedisPoolSize int
	RedisTimeout  time.Duration

	// APNs JWT signing material. When any of the three is empty, push
	// sending is disabled: start requests are still accepted, processor
	// cycles log and skip pushes.
	PushAuthKeyPEM string
	PushKeyID      string
	TeamID         string

	// APNs topic override (bundle id). Empty uses the built-in app id.
	PushTopic string

	// Scheduler settings
	MaxConcurrentPolls int64
	WidgetInterval     time.Duration

	// Upstream settings
	UpstreamTimeout time.Duration
	UpstreamRPS     float64
	APNSTimeout     time.Duration

	// Logging
	LogLevel string
	LogJSON  bool
}

// Load reads configuration from environment variables and command-line
// flags. Environment variables take precedence over defaults; flags take
// precedence over environment variables.
func Load() *Config {
	cfg := &Config{
		Port:               8080,
		Host:               "0.0.0.0",
		GracefulTimeout:    30 * time.Second,
		RedisURL:           "redis://localhost:6379",
		RedisPoolSize:      50,
		RedisTimeout:       3 * time.Second,
		MaxConcurrentPolls: 64,
		WidgetInterval:     15 * time.Minute,
		UpstreamTimeout:    15 * time.Second,
		UpstreamRPS:        10,
		APNSTimeout:        15 * time.Second,
		LogLevel:           "info",
		LogJSON:            true,
	}

	cfg.loadFromEnv()
	cfg.parseFlags()

	return cfg
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.RedisPoolSize = size
		}
	}
	if v := os.Getenv("PUSH_NOTIFICATION_PEM"); v != "" {
		c.PushAuthKeyPEM = v
	}
	if v := os.Getenv("PUSH_NOTIFICATION_ID"); v != "" {
		c.PushKeyID = v
	}
	if v := os.Getenv("TEAM_IDENTIFIER"); v != "" {
		c.TeamID = v
	}
	if v := os.Getenv("PUSH_TOPIC"); v != "" {
		c.PushTopic = v
	}
	if v := os.Getenv("MAX_CONCURRENT_POLLS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxConcurrentPolls = n
		}
	}
	if v := os.Getenv("WIDGET_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.WidgetInterval = d
		}
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.UpstreamTimeout = d
		}
	}
	if v := os.Getenv("UPSTREAM_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.UpstreamRPS = f
		}
	}
	if v := os.Getenv("APNS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.APNSTimeout = d
		}
	}
	if v := os.Getenv("GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GracefulTimeout = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		c.LogJSON = v == "true" || v == "1"
	}
}

var flagsParsed bool

func (c *Config) parseFlags() {
	// Only parse flags once to avoid "flag redefined" panic in tests
	if flagsParsed {
		return
	}
	flagsParsed = true

	flag.IntVar(&c.Port, "port", c.Port, "Server port")
	flag.StringVar(&c.Host, "host", c.Host, "Server host")
	flag.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	flag.DurationVar(&c.WidgetInterval, "widget-interval", c.WidgetInterval, "Widget refresh cadence")
	flag.Parse()
}
