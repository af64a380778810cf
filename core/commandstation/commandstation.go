// Package commandstation defines the hardware boundary of the dispatch
// engine: power, locomotive and accessory commands going out, sensor feedback
// coming in.
package commandstation

import (
	"errors"
	"time"

	"github.com/kilianp07/trackpilot/core/model"
)

// ErrNotConnected is returned when the link to the command station is down.
var ErrNotConnected = errors.New("command station not connected")

// SensorEvent is a single physical sensor transition.
type SensorEvent struct {
	DeviceID  int       `json:"device_id"`
	ContactID int       `json:"contact_id"`
	Active    bool      `json:"active"`
	Time      time.Time `json:"time"`
}

// SensorID returns the sensor address of the event.
func (e SensorEvent) SensorID() string { return model.SensorID(e.DeviceID, e.ContactID) }

// SensorEventListener receives sensor events. Listeners are invoked on the
// station's receiver goroutine and must not block.
type SensorEventListener func(SensorEvent)

// CommandStation executes commands on the layout and reports sensor changes.
// Implementations deliver every transition once, in occurrence order per sensor.
type CommandStation interface {
	SwitchPower(on bool) error
	IsPowerOn() bool
	ChangeVelocity(address int, decoder model.DecoderType, velocity int) error
	ChangeDirection(address int, decoder model.DecoderType, direction model.Direction) error
	SwitchAccessory(address int, decoder model.DecoderType, value model.AccessoryValue) error
	// AddSensorEventListener registers l and returns a function removing it.
	AddSensorEventListener(l SensorEventListener) (remove func())
}

// SensorInjector is implemented by stations that can synthesise sensor
// events, e.g. the virtual station used for dry runs.
type SensorInjector interface {
	FireSensorEvent(e SensorEvent)
}
