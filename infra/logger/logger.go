package logger

import corelogger "github.com/kilianp07/trackpilot/core/logger"

// Logger is the core logger interface, re-exported so adapters need a single import.
type Logger = corelogger.Logger

// Component names stamped on every log line.
const (
	ComponentService        = "service"
	ComponentAutoPilot      = "autopilot"
	ComponentCommandStation = "command_station"
	ComponentAPI            = "api"
	ComponentPrometheus     = "prometheus"
	ComponentInflux         = "influx_sink"
	ComponentCLI            = "cli"
)

// NopLogger discards everything. Tests hand it to components whose output
// they do not inspect.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns the zerolog logger of a component.
func New(component string) Logger {
	return NewZerologLogger(component)
}
