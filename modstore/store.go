// Package modstore persists precompiled fern modules in a SQLite database,
// indexed by name and by the SHA-256 of their encoded bytes.
package modstore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
)

// ErrModuleNotFound indicates the requested module doesn't exist.
var ErrModuleNotFound = errors.New("module not found")

var log = commonlog.GetLogger("fern.modstore")

// Store is a module database handle.
type Store struct {
	db   *sql.DB
	path string
}

// Module is one stored module record.
type Module struct {
	ID        string
	Name      string
	Hash      string // hex SHA-256 of Data
	Data      []byte // encoded module (header + symbols + bytecode)
	CreatedAt time.Time
}

// Open opens (creating if necessary) a module store at the given path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hash TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(name)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HashModule computes the content hash a module is indexed under.
func HashModule(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Install stores a module's encoded bytes under a name, replacing any
// previous module with that name. Returns the stored record.
func (s *Store) Install(name string, data []byte) (*Module, error) {
	m := &Module{
		ID:        uuid.New().String(),
		Name:      name,
		Hash:      HashModule(data),
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO modules (id, name, hash, data, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET id=excluded.id, hash=excluded.hash,
		 data=excluded.data, created_at=excluded.created_at`,
		m.ID, m.Name, m.Hash, m.Data, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("installing module %q: %w", name, err)
	}

	log.Infof("installed module %q (%d bytes, %s)", name, len(data), m.Hash[:12])
	return m, nil
}

// Lookup fetches a module by name.
func (s *Store) Lookup(name string) (*Module, error) {
	return s.scanOne(`SELECT id, name, hash, data, created_at FROM modules WHERE name = ?`, name)
}

// LookupByHash fetches a module by its content hash.
func (s *Store) LookupByHash(hash string) (*Module, error) {
	return s.scanOne(`SELECT id, name, hash, data, created_at FROM modules WHERE hash = ?`, hash)
}

func (s *Store) scanOne(query string, arg any) (*Module, error) {
	var m Module
	err := s.db.QueryRow(query, arg).Scan(&m.ID, &m.Name, &m.Hash, &m.Data, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up module: %w", err)
	}
	return &m, nil
}

// Remove deletes a module by name. Removing a missing module is not an
// error.
func (s *Store) Remove(name string) error {
	_, err := s.db.Exec(`DELETE FROM modules WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("removing module %q: %w", name, err)
	}
	return nil
}

// List returns all stored modules, newest first, without their data blobs.
func (s *Store) List() ([]*Module, error) {
	rows, err := s.db.Query(
		`SELECT id, name, hash, created_at FROM modules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var modules []*Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.Name, &m.Hash, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning module row: %w", err)
		}
		modules = append(modules, &m)
	}
	return modules, rows.Err()
}
