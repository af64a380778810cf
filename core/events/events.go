package events

import "time"

// Event is implemented by every event published on the autopilot bus.
type Event interface {
	Kind() string
}

// StateEvent is published once per completed state transition.
type StateEvent struct {
	LocomotiveID string    `json:"locomotive_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	RouteID      string    `json:"route_id,omitempty"`
	Time         time.Time `json:"time"`
}

func (StateEvent) Kind() string { return "state" }

// GhostEvent is published when a sensor fires that no dispatcher expects.
type GhostEvent struct {
	SensorID string    `json:"sensor_id"`
	BlockID  string    `json:"block_id"`
	Time     time.Time `json:"time"`
}

func (GhostEvent) Kind() string { return "ghost" }

// LegEvent is published when a locomotive completes a route.
type LegEvent struct {
	LocomotiveID string        `json:"locomotive_id"`
	RouteID      string        `json:"route_id"`
	FromBlockID  string        `json:"from_block_id"`
	ToBlockID    string        `json:"to_block_id"`
	Duration     time.Duration `json:"duration"`
	Time         time.Time     `json:"time"`
}

func (LegEvent) Kind() string { return "leg" }
