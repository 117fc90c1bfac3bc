package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"iglood/lease"
)

// SQLiteStore persists rooms in SQLite. The record itself is a JSON document;
// the columns needed for queries and the optimistic-concurrency check are
// indexed alongside it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initialises) the room database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Serialised access keeps the CAS update atomic without busy-retry loops.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            rented INTEGER NOT NULL DEFAULT 0,
            rent_due_at INTEGER NOT NULL DEFAULT 0,
            version INTEGER NOT NULL DEFAULT 0,
            record BLOB NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_due ON rooms (rented, rent_due_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init rooms schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeRoom(room *lease.Room) ([]byte, error) {
	return json.Marshal(room)
}

func decodeRoom(record []byte) (*lease.Room, error) {
	room := &lease.Room{}
	if err := json.Unmarshal(record, room); err != nil {
		return nil, fmt.Errorf("decode room record: %w", err)
	}
	return room.Normalize(), nil
}

// CreateRoom inserts a new room. The id must be unused.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *lease.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("storage: room id required")
	}
	record, err := encodeRoom(room)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, rented, rent_due_at, version, record, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		room.ID, boolInt(room.Rented), room.RentDueAt.Unix(), room.Version, record, time.Now().UTC())
	return err
}

// LoadRoom reads the room's JSON record.
func (s *SQLiteStore) LoadRoom(ctx context.Context, id string) (*lease.Room, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM rooms WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lease.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRoom(record)
}

// SaveRoom writes the room back under compare-and-swap on the version column.
// A mismatch means another writer committed since the caller's read and the
// save fails with lease.ErrVersionConflict.
func (s *SQLiteStore) SaveRoom(ctx context.Context, room *lease.Room, expectedVersion uint64) error {
	if room == nil {
		return fmt.Errorf("storage: nil room")
	}
	next := *room
	next.Version = expectedVersion + 1
	record, err := encodeRoom(&next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET rented = ?, rent_due_at = ?, version = ?, record = ?, updated_at = ?
         WHERE id = ? AND version = ?`,
		boolInt(next.Rented), next.RentDueAt.Unix(), next.Version, record, time.Now().UTC(),
		next.ID, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if scanErr := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE id = ?`, next.ID).Scan(&exists); scanErr == nil && exists == 0 {
			return lease.ErrRoomNotFound
		}
		return lease.ErrVersionConflict
	}
	room.Version = next.Version
	return nil
}

// ListRooms returns every room ordered by id.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*lease.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM rooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRooms(rows)
}

// ListRoomsPastDue returns every rented room whose due date precedes now.
func (s *SQLiteStore) ListRoomsPastDue(ctx context.Context, now time.Time) ([]*lease.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM rooms WHERE rented = 1 AND rent_due_at < ? ORDER BY id`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRooms(rows)
}

func scanRooms(rows *sql.Rows) ([]*lease.Room, error) {
	var rooms []*lease.Room
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		room, err := decodeRoom(record)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
