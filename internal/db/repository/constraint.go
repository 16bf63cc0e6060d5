package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"maskflow/internal/domain"
)

var _ domain.ConstraintRepository = (*ConstraintRepo)(nil)

// ConstraintRepo implements ConstraintRepository.
type ConstraintRepo struct {
	db    *sql.DB
	table string
}

// NewConstraintRepo creates a ConstraintRepo over the named table.
func NewConstraintRepo(db *sql.DB, table string) (*ConstraintRepo, error) {
	name, err := tableName(table, domain.DefaultCaptureConstraintsTable)
	if err != nil {
		return nil, err
	}
	return &ConstraintRepo{db: db, table: name}, nil
}

// Capture records a constraint that is about to be dropped.
func (r *ConstraintRepo) Capture(ctx context.Context, c *domain.CapturedConstraint) (*domain.CapturedConstraint, error) {
	if c == nil {
		return nil, domain.ErrValidation("captured constraint is required")
	}
	if c.RunID == "" || c.SinkDataset == "" || c.ConstraintName == "" || c.Table.Table == "" {
		return nil, domain.ErrValidation("captured constraint requires run id, sink dataset, table and name")
	}
	if c.DropTimestamp.IsZero() {
		c.DropTimestamp = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (run_id, sink_dataset, table_database, table_schema, table_name, constraint_name,
			constraint_definition, pre_drop_status, drop_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.table), c.RunID, c.SinkDataset, c.Table.Database, c.Table.Schema, c.Table.Table, c.ConstraintName,
		c.Definition, c.PreDropStatus, formatTime(c.DropTimestamp))
	if err != nil {
		return nil, mapDBError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	out := *c
	out.ID = id
	return &out, nil
}

// ListPending returns the captured constraints of sinkDataset that have not
// been recreated, across runs, oldest first. An empty sinkDataset lists every
// sink.
func (r *ConstraintRepo) ListPending(ctx context.Context, sinkDataset string) ([]domain.CapturedConstraint, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, run_id, sink_dataset, table_database, table_schema, table_name, constraint_name,
			constraint_definition, pre_drop_status, drop_timestamp,
			post_create_status, create_timestamp, error_message
		FROM %s WHERE create_timestamp IS NULL AND (? = '' OR sink_dataset = ?) ORDER BY id
	`, r.table), sinkDataset, sinkDataset)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.CapturedConstraint
	for rows.Next() {
		var (
			c                          domain.CapturedConstraint
			dropped                    string
			postStatus, created, errMs sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.RunID, &c.SinkDataset, &c.Table.Database, &c.Table.Schema, &c.Table.Table,
			&c.ConstraintName, &c.Definition, &c.PreDropStatus, &dropped,
			&postStatus, &created, &errMs,
		); err != nil {
			return nil, err
		}
		if c.DropTimestamp, err = parseTime(dropped); err != nil {
			return nil, err
		}
		if c.CreateTimestamp, err = parseNullTime(created); err != nil {
			return nil, err
		}
		c.PostCreateStatus = nullString(postStatus)
		c.ErrorMessage = nullString(errMs)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkRecreated records the post-create status and clears any earlier error.
func (r *ConstraintRepo) MarkRecreated(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET post_create_status = ?, create_timestamp = ?, error_message = NULL WHERE id = ?
	`, r.table), status, formatTime(time.Now()), id)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "captured constraint %d not found", id)
}

// MarkRecreateFailed records the error and leaves the row pending so the next
// masking run adopts and retries it.
func (r *ConstraintRepo) MarkRecreateFailed(ctx context.Context, id int64, errMsg string) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET error_message = ? WHERE id = ?
	`, r.table), errMsg, id)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "captured constraint %d not found", id)
}
