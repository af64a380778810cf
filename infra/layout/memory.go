// Package layout provides Layout Store implementations: an in-memory store
// for tests and dry runs, and a SQLite store for persistent layouts.
package layout

import (
	"sort"
	"sync"

	corelayout "github.com/kilianp07/trackpilot/core/layout"
	"github.com/kilianp07/trackpilot/core/model"
)

// MemoryStore keeps the layout in maps guarded by a RWMutex. Records are
// copied on the way in and out.
type MemoryStore struct {
	mu          sync.RWMutex
	blocks      map[string]model.Block
	routes      map[string]model.Route
	sensors     map[string]model.Sensor
	locomotives map[string]model.Locomotive
}

var _ corelayout.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:      map[string]model.Block{},
		routes:      map[string]model.Route{},
		sensors:     map[string]model.Sensor{},
		locomotives: map[string]model.Locomotive{},
	}
}

func (s *MemoryStore) Blocks() ([]model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) BlockByTileID(id string) (model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return model.Block{}, corelayout.ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) PersistBlock(b model.Block) error {
	s.mu.Lock()
	s.blocks[b.ID] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Routes() ([]model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Route, 0, len(s.routes))
	for _, r := range s.routes {
		res = append(res, r.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) Route(id string) (model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	if !ok {
		return model.Route{}, corelayout.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) RouteBetween(fromTileID, fromSuffix, toTileID, toSuffix string) (model.Route, error) {
	return s.Route(model.RouteID(fromTileID, fromSuffix, toTileID, toSuffix))
}

func (s *MemoryStore) PersistRoute(r model.Route) error {
	if r.ID == "" {
		r.ID = model.RouteID(r.FromTileID, r.FromSuffix, r.ToTileID, r.ToSuffix)
	}
	s.mu.Lock()
	s.routes[r.ID] = r.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sensors() ([]model.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Sensor, 0, len(s.sensors))
	for _, se := range s.sensors {
		res = append(res, se)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) Sensor(id string) (model.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	se, ok := s.sensors[id]
	if !ok {
		return model.Sensor{}, corelayout.ErrNotFound
	}
	return se, nil
}

func (s *MemoryStore) SensorByAddress(deviceID, contactID int) (model.Sensor, error) {
	return s.Sensor(model.SensorID(deviceID, contactID))
}

func (s *MemoryStore) PersistSensor(se model.Sensor) error {
	if se.ID == "" {
		se.ID = model.SensorID(se.DeviceID, se.ContactID)
	}
	s.mu.Lock()
	s.sensors[se.ID] = se
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Locomotives() ([]model.Locomotive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Locomotive, 0, len(s.locomotives))
	for _, l := range s.locomotives {
		res = append(res, l)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) Locomotive(id string) (model.Locomotive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locomotives[id]
	if !ok {
		return model.Locomotive{}, corelayout.ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) PersistLocomotive(l model.Locomotive) error {
	s.mu.Lock()
	s.locomotives[l.ID] = l
	s.mu.Unlock()
	return nil
}
