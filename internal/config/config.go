package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportNone   = "none"
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// Config models civicflow.yml.
type Config struct {
	App struct {
		ID string `yaml:"id"`
	} `yaml:"app"`
	Lifecycle struct {
		AcceptTimeout time.Duration `yaml:"accept_timeout"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		SolvePoints   int           `yaml:"solve_points"`
	} `yaml:"lifecycle"`
	Actors struct {
		LocalUser string   `yaml:"local_user"`
		FullName  string   `yaml:"full_name"`
		Admins    []string `yaml:"admins"`
	} `yaml:"actors"`
	Sync struct {
		Transport string `yaml:"transport"`
		Channel   string `yaml:"channel"`
		Redis     struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"sync"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one audit-event receiver.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.ID) == "" {
		return fmt.Errorf("config.app.id is required")
	}
	if c.Lifecycle.AcceptTimeout <= 0 {
		return fmt.Errorf("config.lifecycle.accept_timeout must be positive")
	}
	if c.Lifecycle.SweepInterval <= 0 {
		return fmt.Errorf("config.lifecycle.sweep_interval must be positive")
	}
	if c.Lifecycle.SolvePoints < 0 {
		return fmt.Errorf("config.lifecycle.solve_points must not be negative")
	}
	if strings.TrimSpace(c.Actors.LocalUser) == "" {
		return fmt.Errorf("config.actors.local_user is required")
	}
	if len(c.Actors.Admins) == 0 {
		return fmt.Errorf("config.actors.admins must name at least one admin")
	}
	for _, admin := range c.Actors.Admins {
		if strings.TrimSpace(admin) == "" {
			return fmt.Errorf("config.actors.admins contains an empty actor id")
		}
	}
	switch c.Sync.Transport {
	case TransportNone, TransportMemory:
	case TransportRedis:
		if c.Sync.Redis.Addr == "" {
			return fmt.Errorf("config.sync.redis.addr is required for the redis transport")
		}
	default:
		return fmt.Errorf("config.sync.transport must be one of none, memory, redis")
	}
	if c.Sync.Transport != TransportNone && c.Sync.Channel == "" {
		return fmt.Errorf("config.sync.channel is required")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "civicflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(appID string) string {
	return fmt.Sprintf(defaultTemplate, appID)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault("civicflow"))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// IsAdmin reports whether actorID is listed as an admin.
func (c *Config) IsAdmin(actorID string) bool {
	for _, admin := range c.Actors.Admins {
		if admin == actorID {
			return true
		}
	}
	return false
}

const defaultTemplate = `app:
  id: %s

lifecycle:
  # how long an accepted issue may stay In Progress before it reverts
  accept_timeout: 2m
  sweep_interval: 15s
  solve_points: 150

actors:
  local_user: You
  full_name: Santhosh Kumar
  admins: [admin]

sync:
  # none, memory or redis
  transport: memory
  channel: civicflow-sync
  redis:
    addr: 127.0.0.1:6379
    db: 0

webhooks: []
`
