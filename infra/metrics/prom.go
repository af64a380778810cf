package metrics

import (
	coremetrics "github.com/kilianp07/trackpilot/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records completed legs and ghost detections in Prometheus metrics.
type PromSink struct {
	legs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	ghosts   *prometheus.CounterVec
}

// NewPromSink registers autopilot metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	legs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_legs_total",
		Help: "Total number of completed block-to-block legs",
	}, []string{"locomotive_id", "route_id"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autopilot_leg_duration_seconds",
		Help:    "Time between departure and arrival of a leg",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"locomotive_id"})
	ghosts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_ghosts_total",
		Help: "Ghost detections per block",
	}, []string{"block_id"})

	if err := reg.Register(legs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			legs = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			duration = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(ghosts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ghosts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	return &PromSink{legs: legs, duration: duration, ghosts: ghosts}, nil
}

// RecordLeg counts the leg and observes its duration.
func (s *PromSink) RecordLeg(res coremetrics.LegResult) error {
	s.legs.WithLabelValues(res.LocomotiveID, res.RouteID).Inc()
	if d := res.Duration(); d > 0 {
		s.duration.WithLabelValues(res.LocomotiveID).Observe(d.Seconds())
	}
	return nil
}

// RecordGhost counts a ghost detection.
func (s *PromSink) RecordGhost(res coremetrics.GhostResult) error {
	s.ghosts.WithLabelValues(res.BlockID).Inc()
	return nil
}
