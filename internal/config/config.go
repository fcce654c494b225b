package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"discussync/internal/odoo"
	"discussync/pkg/db"
	"discussync/pkg/redis"
)

type MQConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type SyncConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	FetchLimit          int `yaml:"fetch_limit"`
	// PerChannel switches the engine to the per-channel fetch policy.
	// Global is the steady-state default: O(1) remote calls per cycle.
	PerChannel    bool     `yaml:"per_channel"`
	AlertKeywords []string `yaml:"alert_keywords"`
	BackfillCap   int      `yaml:"backfill_cap"`
}

type AutoReplyConfig struct {
	Enabled         bool     `yaml:"enabled"`
	IntervalSeconds int      `yaml:"interval_seconds"`
	BatchSize       int      `yaml:"batch_size"`
	HistoryDepth    int      `yaml:"history_depth"`
	DispatchDelayMS int      `yaml:"dispatch_delay_ms"`
	MaxRetries      int64    `yaml:"max_retries"`
	WhatsAppOnly    bool     `yaml:"whatsapp_only"`
	TeamMembers     []string `yaml:"team_members"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

type Config struct {
	Odoo      odoo.Config     `yaml:"odoo"`
	DB        db.Config       `yaml:"db"`
	Redis     redis.Config    `yaml:"redis"`
	MQ        MQConfig        `yaml:"mq"`
	Server    ServerConfig    `yaml:"server"`
	Sync      SyncConfig      `yaml:"sync"`
	AutoReply AutoReplyConfig `yaml:"autoreply"`
}

// Load reads the config file once at startup and applies env overrides.
// The result is passed to constructors; nothing reads the environment
// after this.
func Load() *Config {
	path := getEnv("CONFIG_PATH", "config.yaml")
	cfg, err := LoadFrom(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func LoadFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Sync.PollIntervalSeconds <= 0 {
		cfg.Sync.PollIntervalSeconds = 10
	}
	if cfg.Sync.FetchLimit <= 0 {
		cfg.Sync.FetchLimit = 100
	}
	if cfg.Sync.BackfillCap <= 0 {
		cfg.Sync.BackfillCap = 5000
	}
	if cfg.AutoReply.IntervalSeconds <= 0 {
		cfg.AutoReply.IntervalSeconds = 10
	}
	if cfg.AutoReply.BatchSize <= 0 {
		cfg.AutoReply.BatchSize = 20
	}
	if cfg.AutoReply.HistoryDepth <= 0 {
		cfg.AutoReply.HistoryDepth = 5
	}
	if cfg.AutoReply.DispatchDelayMS <= 0 {
		cfg.AutoReply.DispatchDelayMS = 2000
	}
	if cfg.AutoReply.MaxRetries <= 0 {
		cfg.AutoReply.MaxRetries = 5
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("ODOO_URL"); v != "" {
		cfg.Odoo.URL = v
	}
	if v := os.Getenv("ODOO_DB"); v != "" {
		cfg.Odoo.Database = v
	}
	if v := os.Getenv("ODOO_USERNAME"); v != "" {
		cfg.Odoo.Username = v
	}
	if v := os.Getenv("ODOO_PASSWORD"); v != "" {
		cfg.Odoo.Password = v
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.DB.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DB.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DB.Name = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MQ_URL"); v != "" {
		cfg.MQ.URL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Server.Port = v
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PollIntervalSeconds = s
		}
	}
	if v := os.Getenv("ALERT_KEYWORDS"); v != "" {
		cfg.Sync.AlertKeywords = splitList(v)
	}
	if v := os.Getenv("AUTOREPLY_ENABLED"); v != "" {
		cfg.AutoReply.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTOREPLY_CHANNELS"); v != "" {
		cfg.AutoReply.AllowedChannels = splitList(v)
	}
	if v := os.Getenv("TEAM_MEMBERS"); v != "" {
		cfg.AutoReply.TeamMembers = splitList(v)
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
