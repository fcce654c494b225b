package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
odoo:
  url: "https://example.odoo.com"
  database: "example"
  username: "bot"
  password: "secret"
db:
  host: "dbhost"
  port: 5433
  user: "app"
  password: "dbpass"
  name: "discussync"
redis:
  addr: "redis:6379"
mq:
  url: "amqp://guest:guest@mq:5672/"
server:
  port: "9090"
sync:
  poll_interval_seconds: 30
  fetch_limit: 250
  alert_keywords: ["refund"]
autoreply:
  enabled: true
  whatsapp_only: true
  allowed_channels: ["966501234567"]
  team_members: ["Support Team"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFrom(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Odoo.URL != "https://example.odoo.com" || cfg.Odoo.Database != "example" {
		t.Errorf("odoo config = %+v", cfg.Odoo)
	}
	if cfg.DB.Host != "dbhost" || cfg.DB.Port != 5433 {
		t.Errorf("db config = %+v", cfg.DB)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("server port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Sync.PollIntervalSeconds != 30 || cfg.Sync.FetchLimit != 250 {
		t.Errorf("sync config = %+v", cfg.Sync)
	}
	if !cfg.AutoReply.Enabled || !cfg.AutoReply.WhatsAppOnly {
		t.Errorf("autoreply config = %+v", cfg.AutoReply)
	}
	if len(cfg.AutoReply.AllowedChannels) != 1 || cfg.AutoReply.AllowedChannels[0] != "966501234567" {
		t.Errorf("allowed channels = %v", cfg.AutoReply.AllowedChannels)
	}
}

func TestLoadFromAppliesDefaults(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, "odoo:\n  url: \"https://example.odoo.com\"\n"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("default server port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Sync.PollIntervalSeconds != 10 || cfg.Sync.FetchLimit != 100 {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if cfg.Sync.BackfillCap != 5000 {
		t.Errorf("backfill cap default = %d, want 5000", cfg.Sync.BackfillCap)
	}
	if cfg.AutoReply.BatchSize != 20 || cfg.AutoReply.MaxRetries != 5 {
		t.Errorf("autoreply defaults = %+v", cfg.AutoReply)
	}
	if cfg.AutoReply.DispatchDelayMS != 2000 {
		t.Errorf("dispatch delay default = %d, want 2000", cfg.AutoReply.DispatchDelayMS)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("ODOO_PASSWORD", "from-env")
	t.Setenv("DB_HOST", "env-db")
	t.Setenv("POLL_INTERVAL", "5")
	t.Setenv("AUTOREPLY_ENABLED", "false")
	t.Setenv("TEAM_MEMBERS", "Alice, Bob ,")

	cfg, err := LoadFrom(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Odoo.Password != "from-env" {
		t.Errorf("odoo password = %q, want env override", cfg.Odoo.Password)
	}
	if cfg.DB.Host != "env-db" {
		t.Errorf("db host = %q, want env-db", cfg.DB.Host)
	}
	if cfg.Sync.PollIntervalSeconds != 5 {
		t.Errorf("poll interval = %d, want 5", cfg.Sync.PollIntervalSeconds)
	}
	if len(cfg.AutoReply.TeamMembers) != 2 {
		t.Errorf("team members = %v, want [Alice Bob]", cfg.AutoReply.TeamMembers)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFrom succeeded on a missing file")
	}
}
