package blobstore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLStore persists blobs in a SQLite database, keeping large payloads out
// of process memory and available across host restarts.
type SQLStore struct {
	mu     sync.Mutex
	db     *sql.DB
	nextID uint64
}

// NewSQLStore opens (creating if necessary) a SQLite-backed store at path.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening blob database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		id INTEGER PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating blobs table: %w", err)
	}

	s := &SQLStore{db: db, nextID: reservedID}

	// Resume id allocation above anything already present.
	var maxID sql.NullInt64
	if err := db.QueryRow("SELECT MAX(id) FROM blobs").Scan(&maxID); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading max blob id: %w", err)
	}
	if maxID.Valid && uint64(maxID.Int64) > s.nextID {
		s.nextID = uint64(maxID.Int64)
	}

	return s, nil
}

// Create stores data under the next id.
func (s *SQLStore) Create(data []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if id != uint64(float64(id)) {
		return 0, ErrIDOverflow
	}

	if _, err := s.db.Exec("INSERT INTO blobs (id, data) VALUES (?, ?)", int64(id), data); err != nil {
		return 0, fmt.Errorf("inserting blob %d: %w", id, err)
	}
	return id, nil
}

// Get returns the blob stored under id.
func (s *SQLStore) Get(id uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM blobs WHERE id = ?", int64(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %d: %w", id, err)
	}
	return data, nil
}

// Destroy removes the blob stored under id, if any.
func (s *SQLStore) Destroy(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Exec("DELETE FROM blobs WHERE id = ?", int64(id))
}

// DestroyAll removes every listed blob.
func (s *SQLStore) DestroyAll(ids []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.db.Exec("DELETE FROM blobs WHERE id = ?", int64(id))
	}
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
