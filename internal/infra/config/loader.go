package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/YoshitsuguKoike/odoogen/internal/app/config"
)

const (
	envPrefix  = "ODOOGEN"
	configName = "odoogen"
)

// Load builds the configuration from defaults, an optional odoogen.yaml and
// ODOOGEN_* environment variables. An explicit file must exist; otherwise the
// file is searched in the working directory and $ODOOGEN_HOME.
func Load(file string) (*config.Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home := os.Getenv(envPrefix + "_HOME"); home != "" {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if cfg.Database.Path != "" && !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(cfg.Home, cfg.Database.Path)
	}
	if cfg.Log.Output == "file" && cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(cfg.Home, "odoogen.log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers every key with its default so that environment
// variables are honored during Unmarshal
func SetDefaults(v *viper.Viper) {
	d := config.Default()

	v.SetDefault("home", d.Home)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.journal", d.Log.Journal)

	v.SetDefault("workflow.max_revisions", d.Workflow.MaxRevisions)
	v.SetDefault("workflow.generation_timeout", d.Workflow.GenerationTimeout)
	v.SetDefault("workflow.poll_interval", d.Workflow.PollInterval)

	v.SetDefault("session.backend", d.Session.Backend)
	v.SetDefault("session.redis_url", d.Session.RedisURL)
	v.SetDefault("session.redis_ttl", d.Session.RedisTTL)

	v.SetDefault("artifacts.backend", d.Artifacts.Backend)
	v.SetDefault("artifacts.s3_bucket", d.Artifacts.S3Bucket)
	v.SetDefault("artifacts.s3_prefix", d.Artifacts.S3Prefix)
	v.SetDefault("artifacts.s3_region", d.Artifacts.S3Region)
	v.SetDefault("artifacts.s3_endpoint", d.Artifacts.S3Endpoint)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("gateway.type", d.Gateway.Type)
	v.SetDefault("gateway.base_url", d.Gateway.BaseURL)
	v.SetDefault("gateway.api_key", d.Gateway.APIKey)
	v.SetDefault("gateway.test_timeout", d.Gateway.TestTimeout)

	v.SetDefault("odoo.default_version", d.Odoo.DefaultVersion)
	v.SetDefault("odoo.default_edition", d.Odoo.DefaultEdition)

	v.SetDefault("http.addr", d.HTTP.Addr)
}
