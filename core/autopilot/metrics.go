package autopilot

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	stateTransitions *prometheus.CounterVec
	routeAllocations *prometheus.CounterVec
	ghostDetections  prometheus.Counter
	dispatchersGauge prometheus.Gauge
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter, prometheus.Gauge) {
	tr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_state_transitions_total",
			Help: "Number of dispatcher state transitions",
		},
		[]string{"from", "to"},
	)
	alloc := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_route_allocations_total",
			Help: "Route allocation attempts by result",
		},
		[]string{"result"},
	)
	ghost := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autopilot_ghost_detections_total",
			Help: "Number of unexpected sensor activations",
		},
	)
	disp := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autopilot_dispatchers",
			Help: "Number of dispatchers for locomotives on track",
		},
	)
	return tr, alloc, ghost, disp
}

func init() {
	stateTransitions, routeAllocations, ghostDetections, dispatchersGauge = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers autopilot metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(stateTransitions, routeAllocations, ghostDetections, dispatchersGauge)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	stateTransitions, routeAllocations, ghostDetections, dispatchersGauge = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
