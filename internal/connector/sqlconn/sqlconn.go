// Package sqlconn implements source and sink connectors for relational
// systems reachable through database/sql: SQLite, DuckDB and PostgreSQL.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"maskflow/internal/ddl"
	"maskflow/internal/domain"
)

var (
	_ domain.Connector  = (*Conn)(nil)
	_ domain.RowScanner = (*Conn)(nil)
)

// Conn is a relational source or sink.
type Conn struct {
	db      *sql.DB
	dataset string
	schema  string
	dialect dialect
	logger  *slog.Logger
}

// Open connects to the system described by spec.
func Open(ctx context.Context, spec domain.ConnectionSpec, logger *slog.Logger) (*Conn, error) {
	d, ok := dialects[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported sql connector kind %q", spec.Kind)
	}
	db, err := sql.Open(d.driver, spec.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", spec.Kind, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping %s: %w", spec.Kind, err)
	}
	return New(db, spec, logger)
}

// New wraps an open database handle.
func New(db *sql.DB, spec domain.ConnectionSpec, logger *slog.Logger) (*Conn, error) {
	d, ok := dialects[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported sql connector kind %q", spec.Kind)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	schema := spec.Schema
	if schema == "" && d.name == domain.ConnectorPostgres {
		schema = "public"
	}
	if schema == "" && d.name == domain.ConnectorDuckDB {
		schema = "main"
	}
	return &Conn{
		db:      db,
		dataset: spec.DatasetName(),
		schema:  schema,
		dialect: d,
		logger:  logger.With("connector", spec.Kind, "dataset", spec.DatasetName()),
	}, nil
}

// DB exposes the underlying handle.
func (c *Conn) DB() *sql.DB { return c.db }

// Dataset returns the dataset name recorded in the metadata store.
func (c *Conn) Dataset() string { return c.dataset }

// Close closes the database handle.
func (c *Conn) Close() error { return c.db.Close() }

func (c *Conn) qualified(t domain.TableRef) string {
	if c.dialect.name == domain.ConnectorSQLite {
		return ddl.QuoteIdentifier(t.Table)
	}
	schema := t.Schema
	if schema == "" {
		schema = c.schema
	}
	return ddl.QualifiedName(schema, t.Table)
}

// ListTables lists the base tables of the configured schema.
func (c *Conn) ListTables(ctx context.Context) ([]domain.TableRef, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if c.dialect.catalog == "sqlite" {
		rows, err = c.db.QueryContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	} else {
		query := fmt.Sprintf(`SELECT table_name FROM information_schema.tables
			WHERE table_schema = %s AND table_type = 'BASE TABLE' ORDER BY table_name`, c.dialect.placeholder(1))
		rows, err = c.db.QueryContext(ctx, query, c.schema)
	}
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.TableRef
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		out = append(out, domain.TableRef{Schema: c.schemaName(), Table: name})
	}
	return out, rows.Err()
}

func (c *Conn) schemaName() string {
	if c.dialect.name == domain.ConnectorSQLite {
		return ""
	}
	return c.schema
}

// ListColumns returns the columns of a table in ordinal order.
func (c *Conn) ListColumns(ctx context.Context, t domain.TableRef) ([]domain.ColumnInfo, error) {
	if c.dialect.catalog == "sqlite" {
		return c.listSQLiteColumns(ctx, t)
	}
	schema := t.Schema
	if schema == "" {
		schema = c.schema
	}
	query := fmt.Sprintf(`SELECT column_name, data_type, character_maximum_length, is_nullable, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position`, c.dialect.placeholder(1), c.dialect.placeholder(2))
	rows, err := c.db.QueryContext(ctx, query, schema, t.Table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", t, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.ColumnInfo
	for rows.Next() {
		var (
			col      domain.ColumnInfo
			maxLen   sql.NullInt64
			nullable string
		)
		if err := rows.Scan(&col.Name, &col.Type, &maxLen, &nullable, &col.Ordinal); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.MaxLength = -1
		if maxLen.Valid {
			col.MaxLength = maxLen.Int64
		} else if n := parseMaxLength(col.Type); n >= 0 {
			col.MaxLength = n
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound("table %s not found", t)
	}
	return out, nil
}

func (c *Conn) listSQLiteColumns(ctx context.Context, t domain.TableRef) ([]domain.ColumnInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT cid, name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`, t.Table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", t, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.ColumnInfo
	for rows.Next() {
		var (
			col     domain.ColumnInfo
			notNull int
		)
		if err := rows.Scan(&col.Ordinal, &col.Name, &col.Type, &notNull); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.Ordinal++
		col.Nullable = notNull == 0
		col.MaxLength = parseMaxLength(col.Type)
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound("table %s not found", t)
	}
	return out, nil
}

// RowCount returns an exact count.
func (c *Conn) RowCount(ctx context.Context, t domain.TableRef) (domain.RowCount, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM "+c.qualified(t)).Scan(&n); err != nil {
		return domain.RowCount{}, fmt.Errorf("count %s: %w", t, err)
	}
	return domain.RowCount{N: n, Exact: true}, nil
}

// ReadRows reads the named columns (all columns when empty) of a table.
func (c *Conn) ReadRows(ctx context.Context, t domain.TableRef, columns []string) (*domain.RowSet, error) {
	set := &domain.RowSet{}
	err := c.scan(ctx, t, columns, func(cols []string) { set.Columns = cols }, func(row []any) error {
		set.Rows = append(set.Rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ScanRows streams the named columns (all columns when empty) of a table
// without holding the result in memory.
func (c *Conn) ScanRows(ctx context.Context, t domain.TableRef, columns []string, fn func(row []any) error) error {
	return c.scan(ctx, t, columns, nil, fn)
}

func (c *Conn) scan(ctx context.Context, t domain.TableRef, columns []string, header func([]string), fn func(row []any) error) error {
	cols, err := c.ListColumns(ctx, t)
	if err != nil {
		return err
	}
	types := make(map[string]string, len(cols))
	for _, col := range cols {
		types[col.Name] = col.Type
	}
	if len(columns) == 0 {
		for _, col := range cols {
			columns = append(columns, col.Name)
		}
	}
	if header != nil {
		header(columns)
	}

	rows, err := c.db.QueryContext(ctx, ddl.SelectColumns(c.qualified(t), columns))
	if err != nil {
		return fmt.Errorf("read %s: %w", t, err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan %s: %w", t, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok && !isBinaryType(types[columns[i]]) {
				vals[i] = string(b)
			}
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read %s: %w", t, err)
	}
	return nil
}

// Truncate removes every row of a sink table.
func (c *Conn) Truncate(ctx context.Context, t domain.TableRef) error {
	if _, err := c.db.ExecContext(ctx, c.dialect.truncate(c.qualified(t))); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

// WriteRows inserts rows in one transaction using multi-row INSERT statements
// sized to the dialect's bind parameter limit.
func (c *Conn) WriteRows(ctx context.Context, t domain.TableRef, set *domain.RowSet) error {
	if set.Len() == 0 {
		return nil
	}
	perStmt := c.dialect.maxParams / len(set.Columns)
	if perStmt > 500 {
		perStmt = 500
	}
	if perStmt < 1 {
		return fmt.Errorf("write %s: too many columns (%d)", t, len(set.Columns))
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", t, err)
	}
	defer tx.Rollback() //nolint:errcheck

	table := c.qualified(t)
	for start := 0; start < len(set.Rows); start += perStmt {
		end := min(start+perStmt, len(set.Rows))
		chunk := set.Rows[start:end]
		stmt, err := ddl.InsertRows(table, set.Columns, len(chunk), c.dialect.placeholder)
		if err != nil {
			return err
		}
		args := make([]any, 0, len(chunk)*len(set.Columns))
		for _, row := range chunk {
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("write %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write %s: %w", t, err)
	}
	c.logger.Debug("rows written", "table", t.String(), "rows", set.Len())
	return nil
}
