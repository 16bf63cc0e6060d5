package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"maskflow/internal/domain"
)

var _ domain.DataMappingRepository = (*DataMappingRepo)(nil)

const mappingColumns = `id, source_dataset, source_database, source_schema, source_table,
	sink_dataset, sink_database, sink_schema, sink_table, mapping_complete, masked_status, updated_at`

// DataMappingRepo implements DataMappingRepository.
type DataMappingRepo struct {
	db    *sql.DB
	table string
}

// NewDataMappingRepo creates a DataMappingRepo over the named table.
func NewDataMappingRepo(db *sql.DB, table string) (*DataMappingRepo, error) {
	name, err := tableName(table, domain.DefaultDataMappingTable)
	if err != nil {
		return nil, err
	}
	return &DataMappingRepo{db: db, table: name}, nil
}

// Upsert declares a mapping. A sink table has exactly one mapping; declaring
// it again repoints the source and keeps the checkpoint columns.
func (r *DataMappingRepo) Upsert(ctx context.Context, m *domain.DataMapping) (*domain.DataMapping, error) {
	if m == nil {
		return nil, domain.ErrValidation("mapping is required")
	}
	if m.SourceDataset == "" || m.Source.Table == "" || m.SinkDataset == "" || m.Sink.Table == "" {
		return nil, domain.ErrValidation("mapping requires source and sink dataset and table")
	}

	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (source_dataset, source_database, source_schema, source_table,
			sink_dataset, sink_database, sink_schema, sink_table, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sink_dataset, sink_database, sink_schema, sink_table) DO UPDATE SET
			source_dataset = excluded.source_dataset,
			source_database = excluded.source_database,
			source_schema = excluded.source_schema,
			source_table = excluded.source_table,
			updated_at = excluded.updated_at
	`, r.table),
		m.SourceDataset, m.Source.Database, m.Source.Schema, m.Source.Table,
		m.SinkDataset, m.Sink.Database, m.Sink.Schema, m.Sink.Table, formatTime(time.Now()))
	if err != nil {
		return nil, mapDBError(err)
	}

	out, err := r.list(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE sink_dataset = ? AND sink_database = ? AND sink_schema = ? AND sink_table = ?
	`, mappingColumns, r.table), m.SinkDataset, m.Sink.Database, m.Sink.Schema, m.Sink.Table)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound("mapping for sink %s not found", m.Sink)
	}
	return &out[0], nil
}

// List returns the mappings of a scope ordered by id.
func (r *DataMappingRepo) List(ctx context.Context, scope domain.MappingScope) ([]domain.DataMapping, error) {
	where, args := mappingScopeClause(scope)
	return r.list(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY id`, mappingColumns, r.table, where), args...)
}

// ResetMappings clears mapping_complete and masked_status for a scope.
func (r *DataMappingRepo) ResetMappings(ctx context.Context, scope domain.MappingScope) (int64, error) {
	where, args := mappingScopeClause(scope)
	args = append([]any{formatTime(time.Now())}, args...)
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET mapping_complete = 0, masked_status = '', updated_at = ? WHERE %s
	`, r.table, where), args...)
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}

// SetMaskedStatus records progress without touching mapping_complete.
func (r *DataMappingRepo) SetMaskedStatus(ctx context.Context, id int64, status domain.MaskedStatus) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET masked_status = ?, updated_at = ? WHERE id = ?
	`, r.table), status.Encode(), formatTime(time.Now()), id)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "mapping %d not found", id)
}

// MarkComplete sets mapping_complete together with the final masked status.
func (r *DataMappingRepo) MarkComplete(ctx context.Context, id int64, complete bool, status domain.MaskedStatus) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET mapping_complete = ?, masked_status = ?, updated_at = ? WHERE id = ?
	`, r.table), boolToInt(complete), status.Encode(), formatTime(time.Now()), id)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "mapping %d not found", id)
}

func (r *DataMappingRepo) list(ctx context.Context, stmt string, args ...any) ([]domain.DataMapping, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.DataMapping
	for rows.Next() {
		var (
			m               domain.DataMapping
			complete        int64
			status, updated string
		)
		if err := rows.Scan(&m.ID,
			&m.SourceDataset, &m.Source.Database, &m.Source.Schema, &m.Source.Table,
			&m.SinkDataset, &m.Sink.Database, &m.Sink.Schema, &m.Sink.Table,
			&complete, &status, &updated,
		); err != nil {
			return nil, err
		}
		m.MappingComplete = complete != 0
		m.MaskedStatus = domain.DecodeMaskedStatus(status)
		if t, err := parseTime(updated); err == nil {
			m.UpdatedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func mappingScopeClause(s domain.MappingScope) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if s.SourceDataset != "" {
		clauses = append(clauses, "source_dataset = ?")
		args = append(args, s.SourceDataset)
	}
	if s.SinkDataset != "" {
		clauses = append(clauses, "sink_dataset = ?")
		args = append(args, s.SinkDataset)
	}
	if len(clauses) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(clauses, " AND "), args
}
