// Package db opens the SQLite metadata store and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"maskflow/internal/domain"
)

// Pool defaults of the metadata store.
const (
	DefaultReadPoolSize = 4
	DefaultBusyTimeout  = 5 * time.Second

	pingTimeout     = 5 * time.Second
	connMaxLifetime = time.Hour
)

// role is the job of one connection pool on the store file.
type role int

const (
	// roleWrite is a single connection taking the write lock at BEGIN, so
	// checkpoint updates from concurrent table workers queue instead of
	// failing with SQLITE_BUSY mid-transaction.
	roleWrite role = iota
	// roleRead serves listings and the trigger API alongside the writer.
	roleRead
)

func (r role) String() string {
	if r == roleWrite {
		return "write"
	}
	return "read"
}

// dsn renders the go-sqlite3 connection string of a pool.
func (r role) dsn(path string, busy time.Duration) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	if r == roleWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}

// Options tune how the metadata store is opened.
type Options struct {
	ReadPoolSize int           // read pool connections; 0 means DefaultReadPoolSize
	BusyTimeout  time.Duration // lock wait before SQLITE_BUSY; 0 means DefaultBusyTimeout
	// Migrate applies pending migrations on open.
	Migrate bool
	// Tables are checked to exist once the store is open. Overridden names are
	// not created by the migrations, so a missing one fails the open.
	Tables domain.MetadataTables
}

func (o Options) withDefaults() Options {
	if o.ReadPoolSize <= 0 {
		o.ReadPoolSize = DefaultReadPoolSize
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	return o
}

// Store is the opened metadata store: a write pool of one connection and a
// read pool on the same WAL file.
type Store struct {
	Path  string
	Write *sql.DB
	Read  *sql.DB
}

// Open opens both pools of the store at path, optionally migrates it, and
// verifies the metadata tables.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	s := &Store{Path: path}
	var err error
	if s.Write, err = openPool(ctx, path, roleWrite, 1, opts.BusyTimeout); err != nil {
		return nil, err
	}
	if s.Read, err = openPool(ctx, path, roleRead, opts.ReadPoolSize, opts.BusyTimeout); err != nil {
		_ = s.Write.Close()
		return nil, err
	}

	if opts.Migrate {
		if err := RunMigrations(s.Write); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate metadata store: %w", err)
		}
	}
	if err := s.checkTables(ctx, opts.Tables); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.Read.Close(), s.Write.Close())
}

// Version returns the applied migration version.
func (s *Store) Version() (int64, error) {
	return MigrationVersion(s.Write)
}

func (s *Store) checkTables(ctx context.Context, tables domain.MetadataTables) error {
	var missing []string
	for _, name := range tables.Names() {
		var n int
		err := s.Read.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
		if err != nil {
			return fmt.Errorf("check metadata table %s: %w", name, err)
		}
		if n == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("metadata store %s lacks tables %s; run migrate or bootstrap overridden names", s.Path, strings.Join(missing, ", "))
	}
	return nil
}

func openPool(ctx context.Context, path string, r role, size int, busy time.Duration) (*sql.DB, error) {
	pool, err := sql.Open("sqlite3", r.dsn(path, busy))
	if err != nil {
		return nil, fmt.Errorf("open metadata store (%s): %w", r, err)
	}
	pool.SetMaxOpenConns(size)
	pool.SetMaxIdleConns(size)
	pool.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping metadata store (%s): %w", r, err)
	}
	return pool, nil
}
