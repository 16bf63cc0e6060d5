package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"maskflow/internal/domain"
)

var _ domain.RulesetRepository = (*RulesetRepo)(nil)

const rulesetColumns = `dataset, specified_database, specified_schema, identified_table, identified_column,
	identified_column_type, identified_column_max_length, row_count, discovery_completed,
	profiled_domain, profiled_algorithm, confidence_score, assigned_algorithm,
	algorithm_metadata, source_metadata, last_profiled_updated_timestamp`

// RulesetRepo implements RulesetRepository. Every update touches only the
// columns its caller owns.
type RulesetRepo struct {
	db    *sql.DB
	table string
}

// NewRulesetRepo creates a RulesetRepo over the named table.
func NewRulesetRepo(db *sql.DB, table string) (*RulesetRepo, error) {
	name, err := tableName(table, domain.DefaultRulesetTable)
	if err != nil {
		return nil, err
	}
	return &RulesetRepo{db: db, table: name}, nil
}

// ResetDiscovery clears discovery_completed for every row in scope.
func (r *RulesetRepo) ResetDiscovery(ctx context.Context, scope domain.RulesetScope) (int64, error) {
	where, args := scopeClause(scope)
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET discovery_completed = 0 WHERE %s`, r.table, where), args...)
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}

// InsertNewColumns inserts entries that do not exist yet. Existing rows keep
// all of their metadata. It returns the number of inserted rows.
func (r *RulesetRepo) InsertNewColumns(ctx context.Context, entries []domain.RulesetEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (dataset, specified_database, specified_schema, identified_table, identified_column,
			identified_column_type, identified_column_max_length, row_count, source_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset, specified_database, specified_schema, identified_table, identified_column) DO NOTHING
	`, r.table))
	if err != nil {
		return 0, mapDBError(err)
	}
	defer stmt.Close() //nolint:errcheck

	var inserted int64
	for _, e := range entries {
		if e.Dataset == "" || e.Table == "" || e.Column == "" {
			return 0, domain.ErrValidation("ruleset entry requires dataset, table and column")
		}
		res, err := stmt.ExecContext(ctx, e.Dataset, e.Database, e.Schema, e.Table, e.Column,
			e.IdentifiedColumnType, e.IdentifiedColumnMaxLength, e.RowCount, e.SourceMetadata)
		if err != nil {
			return 0, mapDBError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ListByTable returns every ruleset row of a table in insertion order.
func (r *RulesetRepo) ListByTable(ctx context.Context, dataset string, table domain.TableRef) ([]domain.RulesetEntry, error) {
	return r.list(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE dataset = ? AND specified_database = ? AND specified_schema = ? AND identified_table = ?
		ORDER BY rowid
	`, rulesetColumns, r.table), dataset, table.Database, table.Schema, table.Table)
}

// ListPending returns the rows of a table still awaiting discovery.
func (r *RulesetRepo) ListPending(ctx context.Context, dataset string, table domain.TableRef) ([]domain.RulesetEntry, error) {
	return r.list(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE dataset = ? AND specified_database = ? AND specified_schema = ? AND identified_table = ?
		  AND discovery_completed = 0
		ORDER BY rowid
	`, rulesetColumns, r.table), dataset, table.Database, table.Schema, table.Table)
}

// ListTables returns the distinct tables recorded for a scope.
func (r *RulesetRepo) ListTables(ctx context.Context, scope domain.RulesetScope) ([]domain.TableRef, error) {
	where, args := scopeClause(scope)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT specified_database, specified_schema, identified_table
		FROM %s WHERE %s
		ORDER BY specified_database, specified_schema, identified_table
	`, r.table, where), args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.TableRef
	for rows.Next() {
		var t domain.TableRef
		if err := rows.Scan(&t.Database, &t.Schema, &t.Table); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ApplyProfile marks a column discovered and writes only those profile fields
// whose value differs from the stored one. The profile timestamp moves only
// when at least one field changed.
func (r *RulesetRepo) ApplyProfile(ctx context.Context, key domain.RulesetKey, u domain.ProfileUpdate) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		domainName, algorithm string
		confidence            float64
		rowCount              int64
	)
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT profiled_domain, profiled_algorithm, confidence_score, row_count
		FROM %s WHERE %s
	`, r.table, keyClause), keyArgs(key)...).Scan(&domainName, &algorithm, &confidence, &rowCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrNotFound("ruleset column %s.%s not found", key.TableRef(), key.Column)
		}
		return false, mapDBError(err)
	}

	sets := []string{"discovery_completed = 1"}
	var args []any
	if domainName != u.Domain {
		sets = append(sets, "profiled_domain = ?")
		args = append(args, u.Domain)
	}
	if algorithm != u.Algorithm {
		sets = append(sets, "profiled_algorithm = ?")
		args = append(args, u.Algorithm)
	}
	if confidence != u.Confidence {
		sets = append(sets, "confidence_score = ?")
		args = append(args, u.Confidence)
	}
	if rowCount != u.RowCount {
		sets = append(sets, "row_count = ?")
		args = append(args, u.RowCount)
	}
	changed := len(sets) > 1
	if changed {
		sets = append(sets, "last_profiled_updated_timestamp = ?")
		args = append(args, formatTime(time.Now()))
	}
	args = append(args, keyArgs(key)...)

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE %s`,
		r.table, strings.Join(sets, ", "), keyClause), args...); err != nil {
		return false, mapDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

// MarkDiscovered sets discovery_completed and row_count without touching the
// profile fields. Used for empty tables.
func (r *RulesetRepo) MarkDiscovered(ctx context.Context, key domain.RulesetKey, rowCount int64) error {
	args := append([]any{rowCount}, keyArgs(key)...)
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET discovery_completed = 1, row_count = ? WHERE %s
	`, r.table, keyClause), args...)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "ruleset column %s.%s not found", key.TableRef(), key.Column)
}

// SetAssignment sets the user-owned assigned_algorithm and algorithm_metadata.
func (r *RulesetRepo) SetAssignment(ctx context.Context, key domain.RulesetKey, assigned, metadata string) error {
	args := append([]any{assigned, metadata}, keyArgs(key)...)
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET assigned_algorithm = ?, algorithm_metadata = ? WHERE %s
	`, r.table, keyClause), args...)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "ruleset column %s.%s not found", key.TableRef(), key.Column)
}

func (r *RulesetRepo) list(ctx context.Context, stmt string, args ...any) ([]domain.RulesetEntry, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.RulesetEntry
	for rows.Next() {
		var (
			e         domain.RulesetEntry
			completed int64
			profiled  sql.NullString
		)
		if err := rows.Scan(
			&e.Dataset, &e.Database, &e.Schema, &e.Table, &e.Column,
			&e.IdentifiedColumnType, &e.IdentifiedColumnMaxLength, &e.RowCount, &completed,
			&e.ProfiledDomain, &e.ProfiledAlgorithm, &e.ConfidenceScore, &e.AssignedAlgorithm,
			&e.AlgorithmMetadata, &e.SourceMetadata, &profiled,
		); err != nil {
			return nil, err
		}
		e.DiscoveryCompleted = completed != 0
		ts, err := parseNullTime(profiled)
		if err != nil {
			return nil, err
		}
		e.LastProfiledUpdatedTimestamp = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

const keyClause = `dataset = ? AND specified_database = ? AND specified_schema = ?
	AND identified_table = ? AND identified_column = ?`

func keyArgs(k domain.RulesetKey) []any {
	return []any{k.Dataset, k.Database, k.Schema, k.Table, k.Column}
}

func scopeClause(s domain.RulesetScope) (string, []any) {
	clauses := []string{"dataset = ?"}
	args := []any{s.Dataset}
	if s.Database != "" {
		clauses = append(clauses, "specified_database = ?")
		args = append(args, s.Database)
	}
	if s.Schema != "" {
		clauses = append(clauses, "specified_schema = ?")
		args = append(args, s.Schema)
	}
	return strings.Join(clauses, " AND "), args
}

func requireAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound(format, args...)
	}
	return nil
}
