package model

import "fmt"

// Direction is the travel direction of a locomotive.
type Direction string

const (
	Forwards  Direction = "FORWARDS"
	Backwards Direction = "BACKWARDS"
)

// Toggle returns the opposite direction.
func (d Direction) Toggle() Direction {
	if d == Backwards {
		return Forwards
	}
	return Backwards
}

// ParseDirection accepts the persisted names and a few short aliases.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "FORWARDS", "forwards", "F", "f", "":
		return Forwards, nil
	case "BACKWARDS", "backwards", "B", "b":
		return Backwards, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// DecoderType identifies the decoder protocol of a locomotive or accessory.
type DecoderType string

const (
	DecoderMM  DecoderType = "mm"
	DecoderDCC DecoderType = "dcc"
	DecoderMFX DecoderType = "mfx"
	DecoderSX1 DecoderType = "sx1"
)

// MaxVelocity is the upper bound of Locomotive.Velocity (permille).
const MaxVelocity = 1000

// Locomotive is a decoder-equipped engine that can be dispatched.
type Locomotive struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Address     int         `json:"address"`
	DecoderType DecoderType `json:"decoder_type"`
	Direction   Direction   `json:"direction"`
	// Velocity in permille of the configured maximum speed.
	Velocity int `json:"velocity"`
}

// ClampVelocity bounds v to [0, MaxVelocity].
func ClampVelocity(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxVelocity {
		return MaxVelocity
	}
	return v
}
