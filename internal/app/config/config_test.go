package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.UsesSQLite())
	assert.Equal(t, 5, cfg.Workflow.MaxRevisions)
	assert.Equal(t, "16.0", cfg.Odoo.DefaultVersion)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"negative revisions", func(c *Config) { c.Workflow.MaxRevisions = -1 }, "max_revisions"},
		{"zero poll interval", func(c *Config) { c.Workflow.PollInterval = 0 }, "poll_interval"},
		{"redis without url", func(c *Config) { c.Session.Backend = SessionBackendRedis }, "redis_url"},
		{"unknown session backend", func(c *Config) { c.Session.Backend = "etcd" }, "session.backend"},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Backend = ArtifactBackendS3 }, "s3_bucket"},
		{"unknown gateway", func(c *Config) { c.Gateway.Type = "grpc" }, "gateway.type"},
		{"empty home", func(c *Config) { c.Home = "" }, "home"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_UsesSQLite(t *testing.T) {
	cfg := Default()
	cfg.Session.Backend = SessionBackendFile
	cfg.Artifacts.Backend = ArtifactBackendFile
	assert.False(t, cfg.UsesSQLite())
}
