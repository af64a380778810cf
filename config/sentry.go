package config

import (
	"fmt"
	"net/url"
)

// SentryConfig enables error reporting of ghost detections and command
// station failures. Reporting is off while DSN is empty.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	Release          string  `json:"release"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
}

func (c *SentryConfig) SetDefaults() {
	if c.DSN != "" && c.Environment == "" {
		c.Environment = "layout"
	}
}

func (c SentryConfig) Validate() error {
	if c.TracesSampleRate < 0 || c.TracesSampleRate > 1 {
		return fmt.Errorf("traces_sample_rate %v outside [0,1]", c.TracesSampleRate)
	}
	if c.DSN == "" {
		return nil
	}
	u, err := url.Parse(c.DSN)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid dsn %q", c.DSN)
	}
	return nil
}
