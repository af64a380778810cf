// Package layout defines the persistence boundary for the track topology and
// the records the dispatch engine reads and writes.
package layout

import (
	"errors"

	"github.com/kilianp07/trackpilot/core/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("layout: not found")

// Store is the Layout Store. Calls are synchronous and return value copies;
// callers persist modified copies explicitly.
type Store interface {
	Blocks() ([]model.Block, error)
	BlockByTileID(id string) (model.Block, error)
	PersistBlock(b model.Block) error

	Routes() ([]model.Route, error)
	Route(id string) (model.Route, error)
	RouteBetween(fromTileID, fromSuffix, toTileID, toSuffix string) (model.Route, error)
	PersistRoute(r model.Route) error

	Sensors() ([]model.Sensor, error)
	Sensor(id string) (model.Sensor, error)
	SensorByAddress(deviceID, contactID int) (model.Sensor, error)
	PersistSensor(s model.Sensor) error

	Locomotives() ([]model.Locomotive, error)
	Locomotive(id string) (model.Locomotive, error)
	PersistLocomotive(l model.Locomotive) error
}

// BlockForSensor returns the block whose boundary sensors include id.
func BlockForSensor(s Store, sensorID string) (model.Block, error) {
	blocks, err := s.Blocks()
	if err != nil {
		return model.Block{}, err
	}
	for _, b := range blocks {
		if b.HasSensor(sensorID) {
			return b, nil
		}
	}
	return model.Block{}, ErrNotFound
}

// BlockOfLocomotive returns the block currently claimed by the locomotive
// with an OCCUPIED state, if any.
func BlockOfLocomotive(s Store, locomotiveID string) (model.Block, error) {
	blocks, err := s.Blocks()
	if err != nil {
		return model.Block{}, err
	}
	for _, b := range blocks {
		if b.LocomotiveID == locomotiveID && b.State == model.BlockOccupied {
			return b, nil
		}
	}
	return model.Block{}, ErrNotFound
}
