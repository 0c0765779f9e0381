package config

import (
	"fmt"
	"time"
)

// Session store backends
const (
	SessionBackendFile   = "file"
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// Artifact store backends
const (
	ArtifactBackendFile   = "file"
	ArtifactBackendSQLite = "sqlite"
	ArtifactBackendS3     = "s3"
)

// Config is the complete odoogen configuration.
// Values are layered defaults -> odoogen.yaml -> ODOOGEN_* environment.
type Config struct {
	Home      string          `mapstructure:"home"`
	Log       LogConfig       `mapstructure:"log"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Session   SessionConfig   `mapstructure:"session"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Odoo      OdooConfig      `mapstructure:"odoo"`
	HTTP      HTTPConfig      `mapstructure:"http"`

	// ConfigFile is the file the values were read from, empty when none
	ConfigFile string `mapstructure:"-"`
}

// LogConfig controls the structured logger
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Output is stderr, stdout or file
	Output string `mapstructure:"output"`
	File   string `mapstructure:"file"`
	// Format is json or console
	Format string `mapstructure:"format"`
	// Journal enables the transition journal at <home>/journal.ndjson
	Journal bool `mapstructure:"journal"`
}

// WorkflowConfig controls the engine
type WorkflowConfig struct {
	MaxRevisions      int           `mapstructure:"max_revisions"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// SessionConfig selects the session store
type SessionConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	RedisTTL time.Duration `mapstructure:"redis_ttl"`
}

// ArtifactsConfig selects the artifact store
type ArtifactsConfig struct {
	Backend    string `mapstructure:"backend"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
}

// DatabaseConfig locates the SQLite database
type DatabaseConfig struct {
	// Path is relative to Home unless absolute
	Path string `mapstructure:"path"`
}

// GatewayConfig configures the remote generation services
type GatewayConfig struct {
	Type        string        `mapstructure:"type"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	TestTimeout time.Duration `mapstructure:"test_timeout"`
}

// OdooConfig holds defaults applied to new sessions
type OdooConfig struct {
	DefaultVersion string `mapstructure:"default_version"`
	DefaultEdition string `mapstructure:"default_edition"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Home: ".odoogen",
		Log: LogConfig{
			Level:   "info",
			Output:  "stderr",
			Format:  "console",
			Journal: true,
		},
		Workflow: WorkflowConfig{
			MaxRevisions:      5,
			GenerationTimeout: 5 * time.Minute,
			PollInterval:      3 * time.Second,
		},
		Session: SessionConfig{
			Backend: SessionBackendSQLite,
		},
		Artifacts: ArtifactsConfig{
			Backend: ArtifactBackendSQLite,
		},
		Database: DatabaseConfig{
			Path: "odoogen.db",
		},
		Gateway: GatewayConfig{
			Type:        "webhook",
			BaseURL:     "http://localhost:5678",
			TestTimeout: 10 * time.Minute,
		},
		Odoo: OdooConfig{
			DefaultVersion: "16.0",
			DefaultEdition: "community",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home must not be empty")
	}
	if c.Workflow.MaxRevisions < 0 {
		return fmt.Errorf("workflow.max_revisions must be >= 0, got %d", c.Workflow.MaxRevisions)
	}
	if c.Workflow.GenerationTimeout <= 0 {
		return fmt.Errorf("workflow.generation_timeout must be positive")
	}
	if c.Workflow.PollInterval <= 0 {
		return fmt.Errorf("workflow.poll_interval must be positive")
	}

	switch c.Session.Backend {
	case SessionBackendFile, SessionBackendSQLite:
	case SessionBackendRedis:
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session.backend %q (supported: file, sqlite, redis)", c.Session.Backend)
	}

	switch c.Artifacts.Backend {
	case ArtifactBackendFile, ArtifactBackendSQLite:
	case ArtifactBackendS3:
		if c.Artifacts.S3Bucket == "" {
			return fmt.Errorf("artifacts.s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown artifacts.backend %q (supported: file, sqlite, s3)", c.Artifacts.Backend)
	}

	switch c.Gateway.Type {
	case "webhook", "mock":
	default:
		return fmt.Errorf("unknown gateway.type %q (supported: webhook, mock)", c.Gateway.Type)
	}
	return nil
}

// UsesSQLite reports whether any store lives in the SQLite database
func (c *Config) UsesSQLite() bool {
	return c.Session.Backend == SessionBackendSQLite || c.Artifacts.Backend == ArtifactBackendSQLite
}
