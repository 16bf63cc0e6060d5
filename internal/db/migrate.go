package db

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// gooseMu serializes access to goose's package-level base FS and dialect.
var gooseMu sync.Mutex

func withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	return fn()
}

// RunMigrations applies all pending goose migrations to the metadata store.
// Only the default table names are created here; overridden names must be
// bootstrapped by the operator with the same columns.
func RunMigrations(db *sql.DB) error {
	return withGoose(func() error {
		if err := goose.Up(db, "migrations"); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		return nil
	})
}

// MigrationVersion returns the current schema version of the metadata store.
func MigrationVersion(db *sql.DB) (int64, error) {
	var v int64
	err := withGoose(func() error {
		var err error
		v, err = goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("goose version: %w", err)
		}
		return nil
	})
	return v, err
}
