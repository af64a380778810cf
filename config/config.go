package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/trackpilot/core/autopilot"
)

type Config struct {
	LogLevel       string               `json:"log_level"`
	AutoPilot      autopilot.Config     `json:"autopilot"`
	Layout         LayoutConfig         `json:"layout"`
	CommandStation CommandStationConfig `json:"command_station"`
	Journal        JournalConfig        `json:"journal"`
	Metrics        MetricsConfig        `json:"metrics"`
	API            APIConfig            `json:"api"`
	Sentry         SentryConfig         `json:"sentry"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.AutoPilot.SetDefaults()
	c.Layout.SetDefaults()
	c.CommandStation.SetDefaults()
	c.Journal.SetDefaults()
	c.Metrics.SetDefaults()
	c.API.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section and reports the first invalid one.
func (c Config) Validate() error {
	checks := []struct {
		section string
		fn      func() error
	}{
		{"autopilot", c.AutoPilot.Validate},
		{"layout", c.Layout.Validate},
		{"command_station", c.CommandStation.Validate},
		{"journal", c.Journal.Validate},
		{"metrics", c.Metrics.Validate},
		{"sentry", c.Sentry.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.section, err)
		}
	}
	return nil
}
