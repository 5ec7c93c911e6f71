// Package config provides configuration loading for the flywheel binaries.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort       = 9080
	DefaultEventBus   = "gochannel"
	DefaultLogLevel   = "info"
	DefaultSweepBatch = 500
)

// Config is the structure of the flywheel.yaml file. Environment variables
// override file values so containerized deployments need no file at all.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Events   EventsConfig   `yaml:"events"`
	Redis    RedisConfig    `yaml:"redis"`
	Mailer   MailerConfig   `yaml:"mailer"`
	Sweep    SweepConfig    `yaml:"sweep"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type EventsConfig struct {
	Bus          string `yaml:"bus"`
	KafkaBrokers string `yaml:"kafka_brokers"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type MailerConfig struct {
	Provider string `yaml:"provider"`
	FromName string `yaml:"from_name"`
	ReplyTo  string `yaml:"reply_to"`
}

type SweepConfig struct {
	Batch int `yaml:"batch"`
}

// Load reads a YAML config file, applies environment overrides, fills
// defaults and validates the result.
func Load(filepath string) (Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOrDefault attempts to load config from the file, falling back to an
// environment-only configuration if the file cannot be read.
func LoadOrDefault(filepath string) Config {
	cfg, err := Load(filepath)
	if err != nil {
		cfg = Config{}
		cfg.applyEnv()
		cfg.applyDefaults()
	}

	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}

	if v := os.Getenv("EVENT_BUS"); v != "" {
		c.Events.Bus = v
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.KafkaBrokers = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("SWEEP_BATCH"); v != "" {
		if batch, err := strconv.Atoi(v); err == nil {
			c.Sweep.Batch = batch
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}

	if c.Events.Bus == "" {
		c.Events.Bus = DefaultEventBus
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Sweep.Batch == 0 {
		c.Sweep.Batch = DefaultSweepBatch
	}

	if c.Mailer.Provider == "" {
		c.Mailer.Provider = "log"
	}
}

// Validate checks cross-field constraints the zero value cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if c.Events.Bus == "kafka" && c.Events.KafkaBrokers == "" {
		return fmt.Errorf("events.kafka_brokers is required when events.bus is kafka")
	}

	if c.Sweep.Batch <= 0 {
		return fmt.Errorf("sweep.batch must be positive")
	}

	switch c.Mailer.Provider {
	case "log":
	default:
		return fmt.Errorf("unknown mailer provider %q", c.Mailer.Provider)
	}

	return nil
}
