package metrics

import coremetrics "github.com/kilianp07/trackpilot/core/metrics"

// MultiSink fanouts autopilot events to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordLeg forwards the leg to all sinks, returning the first error encountered.
func (m *MultiSink) RecordLeg(res coremetrics.LegResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordLeg(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordGhost forwards ghost detections to sinks that support them.
func (m *MultiSink) RecordGhost(res coremetrics.GhostResult) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.GhostRecorder); ok {
			if err := rec.RecordGhost(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTransition forwards transitions to sinks that support them.
func (m *MultiSink) RecordTransition(res coremetrics.TransitionResult) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.TransitionRecorder); ok {
			if err := rec.RecordTransition(res); err != nil {
				return err
			}
		}
	}
	return nil
}
