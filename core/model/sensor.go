package model

import (
	"fmt"
	"time"
)

// Sensor is an occupancy/feedback contact reported by the command station.
type Sensor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	DeviceID       int       `json:"device_id"`
	ContactID      int       `json:"contact_id"`
	Active         bool      `json:"active"`
	PreviousActive bool      `json:"previous_active"`
	LastChanged    time.Time `json:"last_changed"`
}

// SensorID formats the physical address of a sensor, e.g. "0-0013".
func SensorID(deviceID, contactID int) string {
	return fmt.Sprintf("%d-%04d", deviceID, contactID)
}

// ParseSensorID reverses SensorID.
func ParseSensorID(id string) (deviceID, contactID int, err error) {
	if _, err := fmt.Sscanf(id, "%d-%d", &deviceID, &contactID); err != nil {
		return 0, 0, fmt.Errorf("malformed sensor id %q: %w", id, err)
	}
	return deviceID, contactID, nil
}
