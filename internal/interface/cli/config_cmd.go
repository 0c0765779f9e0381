package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/odoogen/internal/adapter/presenter"
	appconfig "github.com/YoshitsuguKoike/odoogen/internal/app/config"
)

// EffectiveConfig is the applied configuration in serializable form
type EffectiveConfig struct {
	Source    string            `json:"source" yaml:"source"`
	Home      string            `json:"home" yaml:"home"`
	Log       map[string]string `json:"log" yaml:"log"`
	Workflow  map[string]string `json:"workflow" yaml:"workflow"`
	Session   map[string]string `json:"session" yaml:"session"`
	Artifacts map[string]string `json:"artifacts" yaml:"artifacts"`
	Database  string            `json:"database" yaml:"database"`
	Gateway   map[string]string `json:"gateway" yaml:"gateway"`
	Odoo      map[string]string `json:"odoo" yaml:"odoo"`
	HTTPAddr  string            `json:"http_addr" yaml:"http_addr"`
}

// NewEffectiveConfig flattens cfg for display. Secrets are masked.
func NewEffectiveConfig(cfg *appconfig.Config) EffectiveConfig {
	source := cfg.ConfigFile
	if source == "" {
		source = "defaults+env"
	}
	apiKey := ""
	if cfg.Gateway.APIKey != "" {
		apiKey = "********"
	}
	return EffectiveConfig{
		Source: source,
		Home:   cfg.Home,
		Log: map[string]string{
			"level":  cfg.Log.Level,
			"output": cfg.Log.Output,
			"file":   cfg.Log.File,
			"format": cfg.Log.Format,
		},
		Workflow: map[string]string{
			"max_revisions":      itoa(cfg.Workflow.MaxRevisions),
			"generation_timeout": cfg.Workflow.GenerationTimeout.String(),
			"poll_interval":      cfg.Workflow.PollInterval.String(),
		},
		Session: map[string]string{
			"backend":   cfg.Session.Backend,
			"redis_url": redactURL(cfg.Session.RedisURL),
			"redis_ttl": durationOrNone(cfg.Session.RedisTTL),
		},
		Artifacts: map[string]string{
			"backend":     cfg.Artifacts.Backend,
			"s3_bucket":   cfg.Artifacts.S3Bucket,
			"s3_prefix":   cfg.Artifacts.S3Prefix,
			"s3_region":   cfg.Artifacts.S3Region,
			"s3_endpoint": cfg.Artifacts.S3Endpoint,
		},
		Database: cfg.Database.Path,
		Gateway: map[string]string{
			"type":         cfg.Gateway.Type,
			"base_url":     cfg.Gateway.BaseURL,
			"api_key":      apiKey,
			"test_timeout": cfg.Gateway.TestTimeout.String(),
		},
		Odoo: map[string]string{
			"default_version": cfg.Odoo.DefaultVersion,
			"default_edition": cfg.Odoo.DefaultEdition,
		},
		HTTPAddr: cfg.HTTP.Addr,
	}
}

func newConfigCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := presenter.NewPresenter(rt.outputFormat, rt.out)
			if err != nil {
				return err
			}
			return p.PresentSuccess("Effective configuration", NewEffectiveConfig(rt.config))
		},
	}
}

func durationOrNone(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}
