package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/raaihank/chat-anonymizer/internal/anonymizer"
	"github.com/raaihank/chat-anonymizer/internal/links"
	"github.com/raaihank/chat-anonymizer/internal/logger"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(GetDefaults(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
anonymization:
  schema_policy: abort
  link_mode: full
  link_categories: [github, slack]
  workers: 4
logging:
  level: debug
  format: console
server:
  port: 9090
  read_timeout: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server section not loaded: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("logging section not loaded: %+v", cfg.Logging)
	}
	// untouched keys keep their defaults
	if cfg.Server.WriteTimeout != GetDefaults().Server.WriteTimeout {
		t.Errorf("write timeout lost its default: %v", cfg.Server.WriteTimeout)
	}

	opts, err := cfg.Anonymization.EngineOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.SchemaPolicy != anonymizer.SchemaAbort || opts.LinkMode != links.ModeFull || opts.Workers != 4 {
		t.Errorf("unexpected engine options: %+v", opts)
	}

	rules, err := cfg.Anonymization.LinkRules()
	if err != nil {
		t.Fatal(err)
	}
	var got []links.Category
	for _, r := range rules {
		got = append(got, r.Category)
	}
	if diff := cmp.Diff([]links.Category{links.CategoryGitHub, links.CategorySlack}, got); diff != "" {
		t.Errorf("link rules mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHATANON_ANONYMIZATION_WORKERS", "8")
	t.Setenv("CHATANON_SERVER_PORT", "7070")
	t.Setenv("CHATANON_ANONYMIZATION_LINKAGE_POLICY", "mapped")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Anonymization.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Anonymization.Workers)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env should win over the file: port = %d", cfg.Server.Port)
	}
	if cfg.Anonymization.LinkagePolicy != "mapped" {
		t.Errorf("linkage policy = %q", cfg.Anonymization.LinkagePolicy)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Port", func(c *Config) { c.Server.Port = 70000 }},
		{"BodyLimit", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"LogLevel", func(c *Config) { c.Logging.Level = "trace" }},
		{"LogFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"SchemaPolicy", func(c *Config) { c.Anonymization.SchemaPolicy = "ignore" }},
		{"LinkagePolicy", func(c *Config) { c.Anonymization.LinkagePolicy = "both" }},
		{"LinkMode", func(c *Config) { c.Anonymization.LinkMode = "partial" }},
		{"LinkCategory", func(c *Config) { c.Anonymization.LinkCategories = []string{"myspace"} }},
		{"Workers", func(c *Config) { c.Anonymization.Workers = -1 }},
		{"Mode", func(c *Config) { c.Anonymization.Mode = "magic" }},
		{"ExportFormat", func(c *Config) { c.Export.Format = "xlsx" }},
		{"RateLimit", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"Cache", func(c *Config) { c.Cache.Enabled = true; c.Cache.RedisURL = "" }},
		{"Audit", func(c *Config) { c.Audit.Enabled = true; c.Audit.DatabaseURL = "" }},
	}

	if err := validateConfig(GetDefaults()); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, "anonymization:\n  workers: 2\n")

	loader := NewLoader()
	if _, err := loader.Load(path); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	loader.Watch(logger.NewNop(), func(c *Config) { reloaded <- c })

	if err := os.WriteFile(path, []byte("anonymization:\n  workers: 6\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-reloaded:
			if c.Anonymization.Workers == 6 {
				return
			}
		case <-deadline:
			t.Fatal("configuration change was not picked up")
		}
	}
}
