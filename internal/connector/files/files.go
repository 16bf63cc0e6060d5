// Package files implements a source and sink over delimited or parquet files
// on local disk or object storage, read and written through DuckDB.
package files

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"maskflow/internal/config"
	"maskflow/internal/connector/objstore"
	"maskflow/internal/ddl"
	"maskflow/internal/domain"
)

var (
	_ domain.Connector   = (*Conn)(nil)
	_ domain.OrderedSink = (*Conn)(nil)
)

// Conn treats every top-level directory (or top-level file) below a storage
// root as one table.
type Conn struct {
	db        *sql.DB
	store     objstore.Store
	dataset   string
	format    ddl.FileFormat
	delimiter string
	ext       string
	logger    *slog.Logger

	// mu serialises writes: each write stages rows in a temp table on a
	// dedicated DuckDB connection.
	mu  sync.Mutex
	seq map[string]int
}

// Open creates a file connector. spec.DSN is the storage root; options
// "format" (csv or parquet), "delimiter" and "extension" tune the layout.
func Open(ctx context.Context, spec domain.ConnectionSpec, storage config.StorageConfig, logger *slog.Logger) (*Conn, error) {
	format, err := ddl.ParseFileFormat(spec.Option("format", "parquet"))
	if err != nil {
		return nil, err
	}
	loc, err := objstore.ParseLocation(spec.DSN)
	if err != nil {
		return nil, err
	}
	store, err := objstore.Open(ctx, spec.DSN, storage)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := configureSecrets(ctx, db, loc, storage); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return New(db, store, spec, format, logger), nil
}

// New builds a Conn from an open DuckDB handle and a store.
func New(db *sql.DB, store objstore.Store, spec domain.ConnectionSpec, format ddl.FileFormat, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ext := spec.Option("extension", string(format))
	return &Conn{
		db:        db,
		store:     store,
		dataset:   spec.DatasetName(),
		format:    format,
		delimiter: spec.Option("delimiter", ""),
		ext:       "." + strings.TrimPrefix(ext, "."),
		logger:    logger.With("connector", domain.ConnectorFiles, "dataset", spec.DatasetName()),
		seq:       map[string]int{},
	}
}

// Dataset returns the dataset name recorded in the metadata store.
func (c *Conn) Dataset() string { return c.dataset }

// PreservesRowOrder is true: the row order of a written file is observable.
func (c *Conn) PreservesRowOrder() bool { return true }

// Close closes the DuckDB handle.
func (c *Conn) Close() error { return c.db.Close() }

// tableOf maps an object key to its table name.
func (c *Conn) tableOf(key string) (string, bool) {
	if !strings.HasSuffix(strings.ToLower(key), c.ext) {
		return "", false
	}
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], true
	}
	return key[:len(key)-len(c.ext)], true
}

// ListTables lists the tables found below the root.
func (c *Conn) ListTables(ctx context.Context) ([]domain.TableRef, error) {
	objs, err := c.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []domain.TableRef
	for _, o := range objs {
		name, ok := c.tableOf(o.Key)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, domain.TableRef{Table: name})
	}
	return out, nil
}

func (c *Conn) tableFiles(ctx context.Context, t domain.TableRef) ([]objstore.Object, error) {
	objs, err := c.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []objstore.Object
	for _, o := range objs {
		if name, ok := c.tableOf(o.Key); ok && name == t.Table {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *Conn) scan(ctx context.Context, t domain.TableRef) (string, error) {
	objs, err := c.tableFiles(ctx, t)
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", domain.ErrNotFound("no %s files for table %s", c.format, t)
	}
	paths := make([]string, len(objs))
	for i, o := range objs {
		paths[i] = o.URI
	}
	return ddl.ScanFiles(paths, c.format, c.delimiter)
}

// ListColumns describes the columns DuckDB infers for the table's files.
func (c *Conn) ListColumns(ctx context.Context, t domain.TableRef) ([]domain.ColumnInfo, error) {
	scan, err := c.scan(ctx, t)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, ddl.DescribeFiles(scan))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", t, err)
	}
	defer rows.Close() //nolint:errcheck

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []domain.ColumnInfo
	for rows.Next() {
		vals := make([]sql.NullString, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan describe %s: %w", t, err)
		}
		// column_name, column_type, null, ...
		out = append(out, domain.ColumnInfo{
			Name:      vals[0].String,
			Type:      vals[1].String,
			MaxLength: -1,
			Nullable:  len(vals) < 3 || !strings.EqualFold(vals[2].String, "NO"),
			Ordinal:   len(out) + 1,
		})
	}
	return out, rows.Err()
}

// RowCount counts the rows currently in the table's files. File sets are not
// snapshotted between the count and the read, so the count is inexact.
func (c *Conn) RowCount(ctx context.Context, t domain.TableRef) (domain.RowCount, error) {
	scan, err := c.scan(ctx, t)
	if err != nil {
		return domain.RowCount{}, err
	}
	var n int64
	if err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM "+scan).Scan(&n); err != nil {
		return domain.RowCount{}, fmt.Errorf("count %s: %w", t, err)
	}
	return domain.RowCount{N: n, Exact: false}, nil
}

// ReadRows reads the table's files in file order.
func (c *Conn) ReadRows(ctx context.Context, t domain.TableRef, columns []string) (*domain.RowSet, error) {
	scan, err := c.scan(ctx, t)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, ddl.SelectColumns(scan, columns))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t, err)
	}
	defer rows.Close() //nolint:errcheck

	if len(columns) == 0 {
		if columns, err = rows.Columns(); err != nil {
			return nil, err
		}
	}
	set := &domain.RowSet{Columns: columns}
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t, err)
		}
		set.Rows = append(set.Rows, vals)
	}
	return set, rows.Err()
}

// Truncate deletes every file of the table.
func (c *Conn) Truncate(ctx context.Context, t domain.TableRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	objs, err := c.tableFiles(ctx, t)
	if err != nil {
		return err
	}
	for _, o := range objs {
		if err := c.store.Delete(ctx, o.Key); err != nil {
			return err
		}
	}
	delete(c.seq, t.Table)
	return nil
}

// WriteRows writes rows as a new part file of the table, keeping their order.
func (c *Conn) WriteRows(ctx context.Context, t domain.TableRef, set *domain.RowSet) error {
	if set.Len() == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.nextPartKey(ctx, t)
	if err != nil {
		return err
	}
	if local, ok := c.store.(*objstore.Local); ok {
		if err := local.EnsureDir(key); err != nil {
			return fmt.Errorf("create directory for %s: %w", key, err)
		}
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("duckdb connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	staging := ddl.QuoteIdentifier(fmt.Sprintf("stage_%d", time.Now().UnixNano()))
	create, err := ddl.CreateTable(staging, columnDefs(set), true)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	defer conn.ExecContext(context.Background(), ddl.DropTable(staging)) //nolint:errcheck

	const perStmt = 500
	for start := 0; start < len(set.Rows); start += perStmt {
		chunk := set.Rows[start:min(start+perStmt, len(set.Rows))]
		stmt, err := ddl.InsertRows(staging, set.Columns, len(chunk), ddl.QuestionPlaceholder)
		if err != nil {
			return err
		}
		args := make([]any, 0, len(chunk)*len(set.Columns))
		for _, row := range chunk {
			for _, v := range row {
				args = append(args, bindValue(v))
			}
		}
		if _, err := conn.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("stage rows for %s: %w", t, err)
		}
	}

	// rowid keeps insertion order in the exported file.
	query := ddl.SelectColumns(staging, set.Columns) + " ORDER BY rowid"
	copyStmt, err := ddl.CopyToFile(query, c.store.URI(key), c.format, c.delimiter)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, copyStmt); err != nil {
		return fmt.Errorf("write %s: %w", c.store.URI(key), err)
	}
	c.logger.Debug("part file written", "table", t.String(), "key", key, "rows", set.Len())
	return nil
}

// nextPartKey returns <table>/part-NNNNN<ext>, skipping numbers already used.
func (c *Conn) nextPartKey(ctx context.Context, t domain.TableRef) (string, error) {
	n, ok := c.seq[t.Table]
	if !ok {
		objs, err := c.tableFiles(ctx, t)
		if err != nil {
			return "", err
		}
		n = len(objs)
	}
	c.seq[t.Table] = n + 1
	return path.Join(t.Table, fmt.Sprintf("part-%05d%s", n, c.ext)), nil
}

// columnDefs infers DuckDB column types from the first non-nil value of each
// column; all-nil columns are VARCHAR.
func columnDefs(set *domain.RowSet) []ddl.ColumnDef {
	defs := make([]ddl.ColumnDef, len(set.Columns))
	for i, name := range set.Columns {
		defs[i] = ddl.ColumnDef{Name: name, Type: "VARCHAR"}
		for _, row := range set.Rows {
			if row[i] == nil {
				continue
			}
			defs[i].Type = duckType(row[i])
			break
		}
	}
	return defs
}

func duckType(v any) string {
	switch v.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return "BIGINT"
	case uint, uint64:
		return "UBIGINT"
	case float32, float64:
		return "DOUBLE"
	case time.Time:
		return "TIMESTAMP"
	case []byte:
		return "BLOB"
	default:
		return "VARCHAR"
	}
}

// bindValue passes driver-native values through and renders anything else
// (documents, arrays, driver-specific types) as text for a VARCHAR column.
func bindValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, []byte, time.Time,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
