package metrics

import "time"

// LegResult describes one completed block-to-block movement.
type LegResult struct {
	LocomotiveID string
	RouteID      string
	FromBlockID  string
	ToBlockID    string
	Started      time.Time
	Finished     time.Time
}

// Duration is the time between departure and arrival.
func (l LegResult) Duration() time.Duration { return l.Finished.Sub(l.Started) }

// MetricsSink records completed legs for observability purposes.
type MetricsSink interface {
	RecordLeg(res LegResult) error
}

// GhostResult captures an unexpected sensor activation.
type GhostResult struct {
	SensorID string
	BlockID  string
	Time     time.Time
}

// GhostRecorder is implemented by sinks able to record ghost detections.
type GhostRecorder interface {
	RecordGhost(res GhostResult) error
}

// TransitionResult is one state machine transition of a dispatcher.
type TransitionResult struct {
	LocomotiveID string
	From         string
	To           string
	RouteID      string
	Time         time.Time
}

// TransitionRecorder is implemented by sinks keeping a transition history.
type TransitionRecorder interface {
	RecordTransition(res TransitionResult) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordLeg(LegResult) error     { return nil }
func (NopSink) RecordGhost(GhostResult) error { return nil }
func (NopSink) RecordTransition(TransitionResult) error { return nil }
