package repository

import (
	"context"
	"database/sql"
	"fmt"

	"maskflow/internal/domain"
)

var _ domain.TypeMappingRepository = (*TypeMappingRepo)(nil)

// TypeMappingRepo implements TypeMappingRepository.
type TypeMappingRepo struct {
	db    *sql.DB
	table string
}

// NewTypeMappingRepo creates a TypeMappingRepo over the named table.
func NewTypeMappingRepo(db *sql.DB, table string) (*TypeMappingRepo, error) {
	name, err := tableName(table, domain.DefaultTypeMappingTable)
	if err != nil {
		return nil, err
	}
	return &TypeMappingRepo{db: db, table: name}, nil
}

// Upsert stores the target type for a (dataset, source type) pair. Source
// types are normalised so VARCHAR(20) and varchar share a row.
func (r *TypeMappingRepo) Upsert(ctx context.Context, m domain.TypeMapping) error {
	if m.Dataset == "" || m.SourceType == "" {
		return domain.ErrValidation("type mapping requires dataset and source type")
	}
	if !domain.IsKnownTargetType(m.TargetType) {
		return domain.ErrValidation("unknown target type %q", m.TargetType)
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (dataset, source_type, target_type) VALUES (?, ?, ?)
		ON CONFLICT (dataset, source_type) DO UPDATE SET target_type = excluded.target_type
	`, r.table), m.Dataset, domain.NormalizeType(m.SourceType), m.TargetType)
	return mapDBError(err)
}

// Load returns the type map of one dataset.
func (r *TypeMappingRepo) Load(ctx context.Context, dataset string) (domain.TypeMap, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT source_type, target_type FROM %s WHERE dataset = ?
	`, r.table), dataset)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	out := domain.TypeMap{}
	for rows.Next() {
		var src, target string
		if err := rows.Scan(&src, &target); err != nil {
			return nil, err
		}
		out[domain.NormalizeType(src)] = target
	}
	return out, rows.Err()
}
