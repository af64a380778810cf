// Package journal records completed legs, ghost detections and dispatcher
// resets so operators can reconstruct what the autopilot did.
package journal

import (
	"context"
	"time"
)

// Kind classifies a journal record.
type Kind string

const (
	KindLeg   Kind = "leg"
	KindGhost Kind = "ghost"
	KindReset Kind = "reset"
)

// Record captures one autopilot occurrence.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Kind         Kind      `json:"kind"`
	LocomotiveID string    `json:"locomotive_id,omitempty"`
	RouteID      string    `json:"route_id,omitempty"`
	FromBlockID  string    `json:"from_block_id,omitempty"`
	ToBlockID    string    `json:"to_block_id,omitempty"`
	SensorID     string    `json:"sensor_id,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
}

// Query defines filters for retrieving records. Zero fields match everything.
type Query struct {
	Start        time.Time
	End          time.Time
	LocomotiveID string
	Kind         Kind
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.LocomotiveID != "" && r.LocomotiveID != q.LocomotiveID {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error          { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
