package autopilot

import (
	"fmt"
	"time"

	"github.com/kilianp07/trackpilot/core/model"
)

// Config defines autopilot settings.
type Config struct {
	PollIntervalMS int  `json:"poll_interval_ms"`
	CruiseVelocity int  `json:"cruise_velocity"`
	SlowVelocity   int  `json:"slow_velocity"`
	StartOnBoot    bool `json:"start_on_boot"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 50
	}
	if c.CruiseVelocity == 0 {
		c.CruiseVelocity = 750
	}
	if c.SlowVelocity == 0 {
		c.SlowVelocity = 100
	}
}

// Validate checks the velocities and poll interval.
func (c Config) Validate() error {
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.CruiseVelocity <= 0 || c.CruiseVelocity > model.MaxVelocity {
		return fmt.Errorf("cruise_velocity must be in (0, %d]", model.MaxVelocity)
	}
	if c.SlowVelocity <= 0 || c.SlowVelocity > c.CruiseVelocity {
		return fmt.Errorf("slow_velocity must be in (0, cruise_velocity]")
	}
	return nil
}

// PollInterval is the period of the dispatcher loop.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
