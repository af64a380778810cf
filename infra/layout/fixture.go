package layout

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	corelayout "github.com/kilianp07/trackpilot/core/layout"
	"github.com/kilianp07/trackpilot/core/model"
)

// Fixture is the YAML description of a layout used to seed a store.
type Fixture struct {
	Locomotives []LocomotiveFixture `yaml:"locomotives"`
	Blocks      []BlockFixture      `yaml:"blocks"`
	Sensors     []SensorFixture     `yaml:"sensors"`
	Routes      []RouteFixture      `yaml:"routes"`
}

type LocomotiveFixture struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Address     int    `yaml:"address"`
	DecoderType string `yaml:"decoder"`
	Direction   string `yaml:"direction"`
}

type BlockFixture struct {
	ID             string `yaml:"id"`
	Description    string `yaml:"description"`
	State          string `yaml:"state"`
	LocomotiveID   string `yaml:"locomotive"`
	AlwaysStop     bool   `yaml:"always_stop"`
	ReverseArrival bool   `yaml:"reverse_arrival"`
	PlusSensorID   string `yaml:"plus_sensor"`
	MinSensorID    string `yaml:"min_sensor"`
	MinWaitTime    int    `yaml:"min_wait_time"`
}

type SensorFixture struct {
	Name      string `yaml:"name"`
	DeviceID  int    `yaml:"device"`
	ContactID int    `yaml:"contact"`
}

type RouteFixture struct {
	// ID is a canonical route id such as "[bk-1-]->[bk-4+]".
	ID       string           `yaml:"id"`
	Elements []ElementFixture `yaml:"elements"`
}

type ElementFixture struct {
	TileID  string `yaml:"tile"`
	Address int    `yaml:"address"`
	Decoder string `yaml:"decoder"`
	Value   string `yaml:"value"`
}

// LoadFixture reads a layout fixture from a YAML file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a YAML layout fixture.
func ParseFixture(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	return f, nil
}

// Seed writes every record of f into the store. Blocks without a state are
// FREE; a block listing a locomotive without a state is OCCUPIED.
func Seed(s corelayout.Store, f Fixture) error {
	for _, lf := range f.Locomotives {
		dir, err := model.ParseDirection(lf.Direction)
		if err != nil {
			return fmt.Errorf("locomotive %s: %w", lf.ID, err)
		}
		l := model.Locomotive{
			ID:          lf.ID,
			Name:        lf.Name,
			Address:     lf.Address,
			DecoderType: model.DecoderType(lf.DecoderType),
			Direction:   dir,
		}
		if l.Name == "" {
			l.Name = l.ID
		}
		if err := s.PersistLocomotive(l); err != nil {
			return err
		}
	}
	for _, sf := range f.Sensors {
		se := model.Sensor{Name: sf.Name, DeviceID: sf.DeviceID, ContactID: sf.ContactID}
		if err := s.PersistSensor(se); err != nil {
			return err
		}
	}
	for _, bf := range f.Blocks {
		b := model.Block{
			ID:             bf.ID,
			Description:    bf.Description,
			State:          model.BlockState(bf.State),
			LocomotiveID:   bf.LocomotiveID,
			AlwaysStop:     bf.AlwaysStop,
			ReverseArrival: bf.ReverseArrival,
			PlusSensorID:   bf.PlusSensorID,
			MinSensorID:    bf.MinSensorID,
			MinWaitTime:    bf.MinWaitTime,
		}
		if b.State == "" {
			b.State = model.BlockFree
			if b.LocomotiveID != "" {
				b.State = model.BlockOccupied
			}
		}
		if !b.State.Valid() {
			return fmt.Errorf("block %s: unknown state %q", b.ID, bf.State)
		}
		if err := s.PersistBlock(b); err != nil {
			return err
		}
	}
	for _, rf := range f.Routes {
		from, fromSuffix, to, toSuffix, err := model.ParseRouteID(rf.ID)
		if err != nil {
			return err
		}
		var elems []model.RouteElement
		for i, ef := range rf.Elements {
			elems = append(elems, model.RouteElement{
				TileID:      ef.TileID,
				Address:     ef.Address,
				DecoderType: model.DecoderType(ef.Decoder),
				Value:       model.AccessoryValue(ef.Value),
				Order:       i,
			})
		}
		if err := s.PersistRoute(model.NewRoute(from, fromSuffix, to, toSuffix, elems...)); err != nil {
			return err
		}
	}
	return nil
}
