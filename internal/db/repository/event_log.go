package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"maskflow/internal/domain"
)

var _ domain.EventLogRepository = (*EventLogRepo)(nil)

// EventLogRepo implements EventLogRepository. Rows are never updated.
type EventLogRepo struct {
	db    *sql.DB
	table string
}

// NewEventLogRepo creates an EventLogRepo over the named table.
func NewEventLogRepo(db *sql.DB, table string) (*EventLogRepo, error) {
	name, err := tableName(table, domain.DefaultEventLogTable)
	if err != nil {
		return nil, err
	}
	return &EventLogRepo{db: db, table: name}, nil
}

// Append inserts an event log entry and sets its ID.
func (r *EventLogRepo) Append(ctx context.Context, e *domain.EventLogEntry) error {
	if e == nil {
		return domain.ErrValidation("event log entry is required")
	}
	params := e.Params
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (start_time, end_time, run_id, operation, params, status, error_message,
			source_dataset, source_schema, table_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.table), formatTime(e.StartTime), formatTime(e.EndTime), e.RunID, e.Operation,
		string(paramsJSON), e.Status, ptrArg(e.ErrorMessage), e.SourceDataset, e.SourceSchema, e.Table)
	if err != nil {
		return mapDBError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// List returns a page of entries matching filter, newest first, and the total
// number of matches.
func (r *EventLogRepo) List(ctx context.Context, filter domain.EventLogFilter) ([]domain.EventLogEntry, int64, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.RunID != nil {
		clauses = append(clauses, "run_id = ?")
		args = append(args, *filter.RunID)
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Table != nil {
		clauses = append(clauses, "table_name = ?")
		args = append(args, *filter.Table)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.table, where), args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	pageArgs := append(append([]any{}, args...), filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, start_time, end_time, run_id, operation, params, status, error_message,
			source_dataset, source_schema, table_name
		FROM %s %s ORDER BY id DESC LIMIT ? OFFSET ?
	`, r.table, where), pageArgs...)
	if err != nil {
		return nil, 0, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.EventLogEntry
	for rows.Next() {
		var (
			e                  domain.EventLogEntry
			start, end, params string
			errMsg             sql.NullString
		)
		if err := rows.Scan(&e.ID, &start, &end, &e.RunID, &e.Operation, &params, &e.Status,
			&errMsg, &e.SourceDataset, &e.SourceSchema, &e.Table); err != nil {
			return nil, 0, err
		}
		if e.StartTime, err = parseTime(start); err != nil {
			return nil, 0, err
		}
		if e.EndTime, err = parseTime(end); err != nil {
			return nil, 0, err
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
				return nil, 0, fmt.Errorf("unmarshal params: %w", err)
			}
		}
		e.ErrorMessage = nullString(errMsg)
		out = append(out, e)
	}
	return out, total, rows.Err()
}
