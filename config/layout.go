package config

import (
	"fmt"

	"github.com/kilianp07/trackpilot/infra/commandstation"
)

// LayoutConfig selects where blocks, routes, sensors and locomotives live.
type LayoutConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend"`
	// Path is the SQLite database file, unused for the memory backend.
	Path string `json:"path"`
	// Fixture is an optional YAML file seeded into the store at boot.
	Fixture string `json:"fixture"`
}

func (c *LayoutConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "layout.db"
	}
}

func (c LayoutConfig) Validate() error {
	switch c.Backend {
	case "memory":
		if c.Fixture == "" {
			return fmt.Errorf("memory backend requires a fixture")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	return nil
}

// CommandStationConfig selects the command station implementation.
type CommandStationConfig struct {
	// Type is "virtual" or "mqtt".
	Type string                      `json:"type"`
	MQTT commandstation.MQTTConfig `json:"mqtt"`
}

func (c *CommandStationConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "virtual"
	}
	if c.Type == "mqtt" {
		c.MQTT.SetDefaults()
	}
}

func (c CommandStationConfig) Validate() error {
	switch c.Type {
	case "virtual":
		return nil
	case "mqtt":
		return c.MQTT.Validate()
	default:
		return fmt.Errorf("unknown type %s", c.Type)
	}
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	Address string `json:"address"`
	// Token, when set, is required as a Bearer token on every request.
	Token string `json:"token"`
}

func (c *APIConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
}
