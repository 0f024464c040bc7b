// Package blob stores document bytes (uploads, sanction letters) by opaque
// reference. The in-memory store serves tests and local development; the
// SQLite store gives durable storage next to the conversation table.
package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/lendflow/pkg/api"
)

// ErrBlobNotFound is returned by Get for an unknown reference.
var ErrBlobNotFound = errors.New("blob not found")

// MemoryStore is a goroutine-safe in-memory BlobStore.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ api.BlobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := uuid.NewString()
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.blobs[ref] = cp
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// SQLiteStore is a BlobStore over a blobs table. It expects an *sql.DB
// using a SQLite driver (for example, "modernc.org/sqlite").
type SQLiteStore struct {
	db *sql.DB
}

var _ api.BlobStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the blobs table and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			ref TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);`,
	); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO blobs (ref, data) VALUES (?, ?)`, ref, data)
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (s *SQLiteStore) Get(ctx context.Context, ref string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE ref = ?`, ref)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return nil, err
	}
	return data, nil
}
