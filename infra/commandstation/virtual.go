// Package commandstation provides Command Station implementations: an
// in-process virtual station for dry runs and tests, and an MQTT bridge to a
// hardware gateway.
package commandstation

import (
	"sync"
	"time"

	core "github.com/kilianp07/trackpilot/core/commandstation"
	"github.com/kilianp07/trackpilot/core/model"
)

// AccessoryCommand is a recorded SwitchAccessory call.
type AccessoryCommand struct {
	Address     int
	DecoderType model.DecoderType
	Value       model.AccessoryValue
}

type listenerEntry struct {
	id int
	fn core.SensorEventListener
}

// VirtualStation keeps locomotive and accessory state in memory and lets
// callers inject sensor events.
type VirtualStation struct {
	mu          sync.Mutex
	power       bool
	velocities  map[int]int
	directions  map[int]model.Direction
	accessories map[int]model.AccessoryValue
	history     []AccessoryCommand

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    int
}

var (
	_ core.CommandStation = (*VirtualStation)(nil)
	_ core.SensorInjector = (*VirtualStation)(nil)
)

// NewVirtualStation returns a station with power on.
func NewVirtualStation() *VirtualStation {
	return &VirtualStation{
		power:       true,
		velocities:  map[int]int{},
		directions:  map[int]model.Direction{},
		accessories: map[int]model.AccessoryValue{},
	}
}

func (v *VirtualStation) SwitchPower(on bool) error {
	v.mu.Lock()
	v.power = on
	v.mu.Unlock()
	return nil
}

func (v *VirtualStation) IsPowerOn() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.power
}

func (v *VirtualStation) ChangeVelocity(address int, _ model.DecoderType, velocity int) error {
	v.mu.Lock()
	v.velocities[address] = model.ClampVelocity(velocity)
	v.mu.Unlock()
	return nil
}

func (v *VirtualStation) ChangeDirection(address int, _ model.DecoderType, direction model.Direction) error {
	v.mu.Lock()
	v.directions[address] = direction
	v.mu.Unlock()
	return nil
}

func (v *VirtualStation) SwitchAccessory(address int, decoder model.DecoderType, value model.AccessoryValue) error {
	v.mu.Lock()
	v.accessories[address] = value
	v.history = append(v.history, AccessoryCommand{Address: address, DecoderType: decoder, Value: value})
	v.mu.Unlock()
	return nil
}

// Velocity returns the last velocity sent to the decoder at address.
func (v *VirtualStation) Velocity(address int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.velocities[address]
}

// Direction returns the last direction sent to the decoder at address.
func (v *VirtualStation) Direction(address int) model.Direction {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.directions[address]
}

// Accessory returns the last value switched at address.
func (v *VirtualStation) Accessory(address int) (model.AccessoryValue, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.accessories[address]
	return val, ok
}

// AccessoryHistory returns every SwitchAccessory call in order.
func (v *VirtualStation) AccessoryHistory() []AccessoryCommand {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]AccessoryCommand(nil), v.history...)
}

func (v *VirtualStation) AddSensorEventListener(l core.SensorEventListener) (remove func()) {
	v.lmu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners = append(v.listeners, listenerEntry{id: id, fn: l})
	v.lmu.Unlock()
	return func() {
		v.lmu.Lock()
		defer v.lmu.Unlock()
		for i, e := range v.listeners {
			if e.id == id {
				v.listeners = append(v.listeners[:i:i], v.listeners[i+1:]...)
				return
			}
		}
	}
}

// FireSensorEvent notifies every listener synchronously.
func (v *VirtualStation) FireSensorEvent(e core.SensorEvent) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	v.lmu.Lock()
	ls := v.listeners
	v.lmu.Unlock()
	for _, l := range ls {
		l.fn(e)
	}
}

// Toggle fires an activation followed by a deactivation of the sensor at
// the given address.
func (v *VirtualStation) Toggle(deviceID, contactID int) {
	v.FireSensorEvent(core.SensorEvent{DeviceID: deviceID, ContactID: contactID, Active: true})
	v.FireSensorEvent(core.SensorEvent{DeviceID: deviceID, ContactID: contactID, Active: false})
}
