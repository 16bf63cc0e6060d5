// Package repository implements the metadata store repositories on SQLite.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"maskflow/internal/ddl"
	"maskflow/internal/domain"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &domain.ConflictError{Message: "resource already exists"}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// tableName validates a configured metadata table name and returns it quoted.
func tableName(name, fallback string) (string, error) {
	if name == "" {
		name = fallback
	}
	if err := ddl.ValidateIdentifier(name); err != nil {
		return "", domain.ErrValidation("metadata table %q: %v", name, err)
	}
	return ddl.QuoteIdentifier(name), nil
}

// Repositories bundles the metadata store repositories for one set of table
// names.
type Repositories struct {
	Ruleset     *RulesetRepo
	Mappings    *DataMappingRepo
	TypeMapping *TypeMappingRepo
	Constraints *ConstraintRepo
	EventLog    *EventLogRepo
}

// New builds every repository against db using the given table names.
func New(db *sql.DB, tables domain.MetadataTables) (*Repositories, error) {
	tables = tables.WithDefaults()

	ruleset, err := NewRulesetRepo(db, tables.Ruleset)
	if err != nil {
		return nil, err
	}
	mappings, err := NewDataMappingRepo(db, tables.DataMapping)
	if err != nil {
		return nil, err
	}
	types, err := NewTypeMappingRepo(db, tables.TypeMapping)
	if err != nil {
		return nil, err
	}
	constraints, err := NewConstraintRepo(db, tables.CaptureConstraints)
	if err != nil {
		return nil, err
	}
	events, err := NewEventLogRepo(db, tables.EventLog)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Ruleset:     ruleset,
		Mappings:    mappings,
		TypeMapping: types,
		Constraints: constraints,
		EventLog:    events,
	}, nil
}
