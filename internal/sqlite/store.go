// Package sqlite implements the photovault store adapter: a filesystem root
// indexed by a SQLite database that lives inside the root, plus the store's
// operation log.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// File layout under a store root.
const (
	dbFileName = "vault.db"
	trashDir   = "trash"
)

// Store implements types.Store over one filesystem root.
type Store struct {
	mu     sync.Mutex
	name   string
	root   string
	dbPath string
	db     *sql.DB
	// dbFile identifies the index file the handle has open, so a different
	// drive mounted at the same root is not mistaken for this one.
	dbFile os.FileInfo
	closed bool

	// now is overridable in tests.
	now func() time.Time
}

var _ types.Store = (*Store)(nil)

// Open opens (creating if needed) the store described by cfg. The index
// database is kept at <root>/.photovault/vault.db so that the index travels
// with the drive it describes. A root that does not exist is reported as
// ErrStoreUnreachable unless cfg.CreateRoot is set.
func Open(cfg types.StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root := filepath.Clean(cfg.Root)
	if _, err := os.Stat(root); err != nil {
		if !errors.Is(err, os.ErrNotExist) || !cfg.CreateRoot {
			return nil, types.Unreachable(cfg.Name, "open", err)
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, types.Unreachable(cfg.Name, "open", err)
		}
	}

	metaDir := filepath.Join(root, types.ReservedDir)
	if err := os.MkdirAll(filepath.Join(metaDir, trashDir), 0o755); err != nil {
		return nil, types.Unreachable(cfg.Name, "open", err)
	}

	dbPath := filepath.Join(metaDir, dbFileName)
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, types.Unreachable(cfg.Name, "open", err)
	}

	// SQLite has a single writer; one connection keeps pragmas and
	// transactions on the same handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, types.Unreachable(cfg.Name, "open", fmt.Errorf("init schema: %w", err))
	}
	dbFile, err := os.Stat(dbPath)
	if err != nil {
		db.Close()
		return nil, types.Unreachable(cfg.Name, "open", err)
	}

	return &Store{
		name:   cfg.Name,
		root:   root,
		dbPath: dbPath,
		db:     db,
		dbFile: dbFile,
		now:    time.Now,
	}, nil
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	for _, stmt := range indexDDL {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// Ping checks that the root is mounted and the index answers.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reachableLocked(ctx); err != nil {
		return types.Unreachable(s.name, "ping", err)
	}
	return nil
}

// reachableLocked returns nil when the store can be used. The caller must
// hold s.mu.
func (s *Store) reachableLocked(ctx context.Context) error {
	if s.closed {
		return errStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// An unmounted drive leaves the root (or at least the index file)
	// missing even though the open database handle still works. A drive
	// remounted or swapped at the same path carries a different file, and
	// writes through the old handle would never reach it.
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return fmt.Errorf("index not reachable: %w", err)
	}
	if !os.SameFile(info, s.dbFile) {
		return errIndexReplaced
	}
	return s.db.PingContext(ctx)
}

// Close releases the database handle. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var (
	errStoreClosed   = errors.New("store is closed")
	errIndexReplaced = errors.New("index file at the store root was replaced; reopen the store")
)

// abs maps a validated relative mutation path into the store root.
func (s *Store) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// trashPath returns a fresh staging location for a file being deleted.
func (s *Store) trashPath(rel string) string {
	name := uuid.NewString() + "-" + filepath.Base(filepath.FromSlash(rel))
	return filepath.Join(s.root, types.ReservedDir, trashDir, name)
}

// timestamp formats t the way every table stores it.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
