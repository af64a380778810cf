package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists journal records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS journal (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        kind TEXT NOT NULL,
        locomotive_id TEXT NOT NULL DEFAULT '',
        route_id TEXT NOT NULL DEFAULT '',
        from_block_id TEXT NOT NULL DEFAULT '',
        to_block_id TEXT NOT NULL DEFAULT '',
        sensor_id TEXT NOT NULL DEFAULT '',
        duration_ms INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS journal_ts ON journal (ts);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (ts, kind, locomotive_id, route_id, from_block_id, to_block_id, sensor_id, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), string(rec.Kind), rec.LocomotiveID, rec.RouteID,
		rec.FromBlockID, rec.ToBlockID, rec.SensorID, rec.DurationMS)
	return err
}

// Query returns records matching q in insertion order.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT ts, kind, locomotive_id, route_id, from_block_id, to_block_id, sensor_id, duration_ms
        FROM journal WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}
	if q.LocomotiveID != "" {
		query += ` AND locomotive_id = ?`
		args = append(args, q.LocomotiveID)
	}
	query += ` ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var r Record
		var ts int64
		var kind string
		if err := rows.Scan(&ts, &kind, &r.LocomotiveID, &r.RouteID, &r.FromBlockID, &r.ToBlockID, &r.SensorID, &r.DurationMS); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		r.Kind = Kind(kind)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
