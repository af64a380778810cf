package layout

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	corelayout "github.com/kilianp07/trackpilot/core/layout"
	"github.com/kilianp07/trackpilot/core/model"
)

// SQLiteStore persists the layout in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ corelayout.Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'FREE',
    locomotive_id TEXT NOT NULL DEFAULT '',
    always_stop INTEGER NOT NULL DEFAULT 0,
    arrival_suffix TEXT NOT NULL DEFAULT '',
    reverse_arrival INTEGER NOT NULL DEFAULT 0,
    plus_sensor_id TEXT NOT NULL DEFAULT '',
    min_sensor_id TEXT NOT NULL DEFAULT '',
    min_wait_time INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS routes (
    id TEXT PRIMARY KEY,
    from_tile_id TEXT NOT NULL,
    from_suffix TEXT NOT NULL,
    to_tile_id TEXT NOT NULL,
    to_suffix TEXT NOT NULL,
    locked INTEGER NOT NULL DEFAULT 0,
    elements TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS sensors (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    device_id INTEGER NOT NULL,
    contact_id INTEGER NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    previous_active INTEGER NOT NULL DEFAULT 0,
    last_changed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS locomotives (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    address INTEGER NOT NULL DEFAULT 0,
    decoder_type TEXT NOT NULL DEFAULT '',
    direction TEXT NOT NULL DEFAULT 'FORWARDS',
    velocity INTEGER NOT NULL DEFAULT 0
);`

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps concurrent dispatchers from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const blockColumns = `id, description, state, locomotive_id, always_stop, arrival_suffix,
    reverse_arrival, plus_sensor_id, min_sensor_id, min_wait_time`

type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(sc scanner) (model.Block, error) {
	var b model.Block
	var state string
	err := sc.Scan(&b.ID, &b.Description, &state, &b.LocomotiveID, &b.AlwaysStop, &b.ArrivalSuffix,
		&b.ReverseArrival, &b.PlusSensorID, &b.MinSensorID, &b.MinWaitTime)
	b.State = model.BlockState(state)
	return b, err
}

func (s *SQLiteStore) Blocks() ([]model.Block, error) {
	rows, err := s.db.Query(`SELECT ` + blockColumns + ` FROM blocks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) BlockByTileID(id string) (model.Block, error) {
	b, err := scanBlock(s.db.QueryRow(`SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Block{}, corelayout.ErrNotFound
	}
	return b, err
}

func (s *SQLiteStore) PersistBlock(b model.Block) error {
	_, err := s.db.Exec(`INSERT INTO blocks (`+blockColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            description = excluded.description,
            state = excluded.state,
            locomotive_id = excluded.locomotive_id,
            always_stop = excluded.always_stop,
            arrival_suffix = excluded.arrival_suffix,
            reverse_arrival = excluded.reverse_arrival,
            plus_sensor_id = excluded.plus_sensor_id,
            min_sensor_id = excluded.min_sensor_id,
            min_wait_time = excluded.min_wait_time`,
		b.ID, b.Description, string(b.State), b.LocomotiveID, b.AlwaysStop, b.ArrivalSuffix,
		b.ReverseArrival, b.PlusSensorID, b.MinSensorID, b.MinWaitTime)
	return err
}

const routeColumns = `id, from_tile_id, from_suffix, to_tile_id, to_suffix, locked, elements`

func scanRoute(sc scanner) (model.Route, error) {
	var r model.Route
	var elements string
	if err := sc.Scan(&r.ID, &r.FromTileID, &r.FromSuffix, &r.ToTileID, &r.ToSuffix, &r.Locked, &elements); err != nil {
		return model.Route{}, err
	}
	if elements != "" {
		if err := json.Unmarshal([]byte(elements), &r.Elements); err != nil {
			return model.Route{}, fmt.Errorf("route %s elements: %w", r.ID, err)
		}
	}
	if len(r.Elements) == 0 {
		r.Elements = nil
	}
	return r, nil
}

func (s *SQLiteStore) Routes() ([]model.Route, error) {
	rows, err := s.db.Query(`SELECT ` + routeColumns + ` FROM routes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) Route(id string) (model.Route, error) {
	r, err := scanRoute(s.db.QueryRow(`SELECT `+routeColumns+` FROM routes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, corelayout.ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) RouteBetween(fromTileID, fromSuffix, toTileID, toSuffix string) (model.Route, error) {
	return s.Route(model.RouteID(fromTileID, fromSuffix, toTileID, toSuffix))
}

func (s *SQLiteStore) PersistRoute(r model.Route) error {
	if r.ID == "" {
		r.ID = model.RouteID(r.FromTileID, r.FromSuffix, r.ToTileID, r.ToSuffix)
	}
	elements := r.Elements
	if elements == nil {
		elements = []model.RouteElement{}
	}
	b, err := json.Marshal(elements)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO routes (`+routeColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            from_tile_id = excluded.from_tile_id,
            from_suffix = excluded.from_suffix,
            to_tile_id = excluded.to_tile_id,
            to_suffix = excluded.to_suffix,
            locked = excluded.locked,
            elements = excluded.elements`,
		r.ID, r.FromTileID, r.FromSuffix, r.ToTileID, r.ToSuffix, r.Locked, string(b))
	return err
}

const sensorColumns = `id, name, device_id, contact_id, active, previous_active, last_changed`

func scanSensor(sc scanner) (model.Sensor, error) {
	var se model.Sensor
	var changed int64
	if err := sc.Scan(&se.ID, &se.Name, &se.DeviceID, &se.ContactID, &se.Active, &se.PreviousActive, &changed); err != nil {
		return model.Sensor{}, err
	}
	if changed != 0 {
		se.LastChanged = time.Unix(0, changed).UTC()
	}
	return se, nil
}

func (s *SQLiteStore) Sensors() ([]model.Sensor, error) {
	rows, err := s.db.Query(`SELECT ` + sensorColumns + ` FROM sensors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Sensor
	for rows.Next() {
		se, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, se)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) Sensor(id string) (model.Sensor, error) {
	se, err := scanSensor(s.db.QueryRow(`SELECT `+sensorColumns+` FROM sensors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Sensor{}, corelayout.ErrNotFound
	}
	return se, err
}

func (s *SQLiteStore) SensorByAddress(deviceID, contactID int) (model.Sensor, error) {
	se, err := scanSensor(s.db.QueryRow(`SELECT `+sensorColumns+` FROM sensors
        WHERE device_id = ? AND contact_id = ?`, deviceID, contactID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Sensor{}, corelayout.ErrNotFound
	}
	return se, err
}

func (s *SQLiteStore) PersistSensor(se model.Sensor) error {
	if se.ID == "" {
		se.ID = model.SensorID(se.DeviceID, se.ContactID)
	}
	var changed int64
	if !se.LastChanged.IsZero() {
		changed = se.LastChanged.UnixNano()
	}
	_, err := s.db.Exec(`INSERT INTO sensors (`+sensorColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            device_id = excluded.device_id,
            contact_id = excluded.contact_id,
            active = excluded.active,
            previous_active = excluded.previous_active,
            last_changed = excluded.last_changed`,
		se.ID, se.Name, se.DeviceID, se.ContactID, se.Active, se.PreviousActive, changed)
	return err
}

const locomotiveColumns = `id, name, address, decoder_type, direction, velocity`

func scanLocomotive(sc scanner) (model.Locomotive, error) {
	var l model.Locomotive
	var decoder, dir string
	if err := sc.Scan(&l.ID, &l.Name, &l.Address, &decoder, &dir, &l.Velocity); err != nil {
		return model.Locomotive{}, err
	}
	l.DecoderType = model.DecoderType(decoder)
	l.Direction = model.Direction(dir)
	return l, nil
}

func (s *SQLiteStore) Locomotives() ([]model.Locomotive, error) {
	rows, err := s.db.Query(`SELECT ` + locomotiveColumns + ` FROM locomotives ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Locomotive
	for rows.Next() {
		l, err := scanLocomotive(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) Locomotive(id string) (model.Locomotive, error) {
	l, err := scanLocomotive(s.db.QueryRow(`SELECT `+locomotiveColumns+` FROM locomotives WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Locomotive{}, corelayout.ErrNotFound
	}
	return l, err
}

func (s *SQLiteStore) PersistLocomotive(l model.Locomotive) error {
	if l.Direction == "" {
		l.Direction = model.Forwards
	}
	_, err := s.db.Exec(`INSERT INTO locomotives (`+locomotiveColumns+`)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            address = excluded.address,
            decoder_type = excluded.decoder_type,
            direction = excluded.direction,
            velocity = excluded.velocity`,
		l.ID, l.Name, l.Address, string(l.DecoderType), string(l.Direction), l.Velocity)
	return err
}
