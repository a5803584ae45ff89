// Package config loads service configuration from a YAML file with
// environment variable overrides. Environment variables always win over
// file values so containerized deployments can override without editing
// the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/browserq/browserq"
)

// Config is the full service configuration for the browserq server.
type Config struct {
	Server   Server  `yaml:"server"`
	Store    Store   `yaml:"store"`
	Queue    Queue   `yaml:"queue"`
	Browser  Browser `yaml:"browser"`
	Secrets  Secrets `yaml:"secrets"`
	Worker   Worker  `yaml:"worker"`
	LogLevel string  `yaml:"log_level"`
}

// Server configures the HTTP API listener.
type Server struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

// Store selects and configures the job store backend.
type Store struct {
	// Backend is one of "memory", "postgres", "redis".
	Backend string `yaml:"backend"`

	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`

	// RedisAddr and RedisDB configure the redis backend.
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// Queue selects and configures the dispatch queue backend.
type Queue struct {
	// Backend is one of "channel", "sqs".
	Backend string `yaml:"backend"`

	// QueueURL is the SQS queue URL.
	QueueURL string `yaml:"queue_url"`

	// Region overrides the AWS region for SQS.
	Region string `yaml:"region"`
}

// Browser configures the browser session provider.
type Browser struct {
	// APIKeySecret and ProjectIDSecret are secret names resolved
	// through the configured secrets provider. Each secret is a JSON
	// object keyed by the credential name.
	APIKeySecret    string `yaml:"api_key_secret"`
	ProjectIDSecret string `yaml:"project_id_secret"`

	// BaseURL overrides the Browserbase API endpoint.
	BaseURL string `yaml:"base_url"`
}

// Secrets selects the secrets provider backend.
type Secrets struct {
	// Backend is one of "env", "awssm".
	Backend string `yaml:"backend"`

	// Region overrides the AWS region for Secrets Manager.
	Region string `yaml:"region"`
}

// Worker configures the execution pool.
type Worker struct {
	Concurrency       int      `yaml:"concurrency"`
	QueueCapacity     int      `yaml:"queue_capacity"`
	ExecTimeout       Duration `yaml:"exec_timeout"`
	StoreRetries      int      `yaml:"store_retries"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	StaleJobThreshold Duration `yaml:"stale_job_threshold"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	RateLimit         float64  `yaml:"rate_limit"`
	RateBurst         int      `yaml:"rate_burst"`
}

// Duration wraps time.Duration so YAML values can use the standard
// string form ("90s", "2m").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string: %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	rc := browserq.DefaultConfig()

	return Config{
		Server: Server{
			Addr: ":8080",
		},
		Store: Store{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
		Queue: Queue{
			Backend: "channel",
		},
		Browser: Browser{
			APIKeySecret:    "browserbase/api-key",
			ProjectIDSecret: "browserbase/project-id",
		},
		Secrets: Secrets{
			Backend: "env",
		},
		Worker: Worker{
			Concurrency:       rc.Concurrency,
			QueueCapacity:     rc.QueueCapacity,
			ExecTimeout:       Duration(rc.ExecTimeout),
			StoreRetries:      rc.StoreRetries,
			HeartbeatInterval: Duration(rc.HeartbeatInterval),
			StaleJobThreshold: Duration(rc.StaleJobThreshold),
			ShutdownTimeout:   Duration(rc.ShutdownTimeout),
		},
		LogLevel: "info",
	}
}

// Load reads the config file at path (if path is non-empty), applies
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "BROWSERQ_ADDR")
	setString(&c.Server.APIKey, "BROWSERQ_API_KEY")
	setString(&c.Store.Backend, "BROWSERQ_STORE_BACKEND")
	setString(&c.Store.DSN, "BROWSERQ_POSTGRES_DSN")
	setString(&c.Store.RedisAddr, "BROWSERQ_REDIS_ADDR")
	setInt(&c.Store.RedisDB, "BROWSERQ_REDIS_DB")
	setString(&c.Queue.Backend, "BROWSERQ_QUEUE_BACKEND")
	setString(&c.Queue.QueueURL, "BROWSERQ_SQS_QUEUE_URL")
	setString(&c.Queue.Region, "BROWSERQ_SQS_REGION")
	setString(&c.Browser.APIKeySecret, "BROWSERQ_BROWSERBASE_API_KEY_SECRET")
	setString(&c.Browser.ProjectIDSecret, "BROWSERQ_BROWSERBASE_PROJECT_ID_SECRET")
	setString(&c.Browser.BaseURL, "BROWSERQ_BROWSERBASE_URL")
	setString(&c.Secrets.Backend, "BROWSERQ_SECRETS_BACKEND")
	setString(&c.Secrets.Region, "BROWSERQ_SECRETS_REGION")
	setInt(&c.Worker.Concurrency, "BROWSERQ_CONCURRENCY")
	setDuration(&c.Worker.ExecTimeout, "BROWSERQ_EXEC_TIMEOUT")
	setDuration(&c.Worker.StaleJobThreshold, "BROWSERQ_STALE_JOB_THRESHOLD")
	setString(&c.LogLevel, "BROWSERQ_LOG_LEVEL")
}

// Validate checks backend selections and value ranges.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store backend postgres requires dsn")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	switch c.Queue.Backend {
	case "channel":
	case "sqs":
		if c.Queue.QueueURL == "" {
			return fmt.Errorf("config: queue backend sqs requires queue_url")
		}
	default:
		return fmt.Errorf("config: unknown queue backend %q", c.Queue.Backend)
	}

	switch c.Secrets.Backend {
	case "env", "awssm":
	default:
		return fmt.Errorf("config: unknown secrets backend %q", c.Secrets.Backend)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("config: worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.ExecTimeout <= 0 {
		return fmt.Errorf("config: worker exec_timeout must be positive, got %s", c.Worker.ExecTimeout)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
