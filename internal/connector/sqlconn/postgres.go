package sqlconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"maskflow/internal/ddl"
	"maskflow/internal/domain"
)

var (
	_ domain.Connector       = (*Postgres)(nil)
	_ domain.BulkWriter      = (*Postgres)(nil)
	_ domain.ConstraintStore = (*Postgres)(nil)
)

// Postgres adds foreign key management and COPY-based bulk loading to Conn.
type Postgres struct {
	*Conn
	x *sqlx.DB
}

// OpenPostgres connects to a PostgreSQL database.
func OpenPostgres(ctx context.Context, spec domain.ConnectionSpec, logger *slog.Logger) (*Postgres, error) {
	spec.Kind = domain.ConnectorPostgres
	x, err := sqlx.ConnectContext(ctx, "postgres", spec.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	conn, err := New(x.DB, spec, logger)
	if err != nil {
		x.Close() //nolint:errcheck
		return nil, err
	}
	return &Postgres{Conn: conn, x: x}, nil
}

type fkRow struct {
	Schema     string `db:"schema_name"`
	Table      string `db:"table_name"`
	Name       string `db:"constraint_name"`
	Definition string `db:"definition"`
	Validated  bool   `db:"validated"`
}

const listForeignKeysQuery = `
SELECT n.nspname AS schema_name,
       c.relname AS table_name,
       con.conname AS constraint_name,
       pg_get_constraintdef(con.oid) AS definition,
       con.convalidated AS validated
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE con.contype = 'f' AND n.nspname = $1 AND c.relname = ANY($2)
ORDER BY c.relname, con.conname`

// ListForeignKeys returns the foreign keys declared on the given tables.
func (p *Postgres) ListForeignKeys(ctx context.Context, tables []domain.TableRef) ([]domain.ForeignKey, error) {
	bySchema := map[string][]string{}
	for _, t := range tables {
		schema := t.Schema
		if schema == "" {
			schema = p.schema
		}
		bySchema[schema] = append(bySchema[schema], t.Table)
	}

	var out []domain.ForeignKey
	for schema, names := range bySchema {
		var rows []fkRow
		if err := p.x.SelectContext(ctx, &rows, listForeignKeysQuery, schema, pq.Array(names)); err != nil {
			return nil, fmt.Errorf("list foreign keys in %s: %w", schema, err)
		}
		for _, r := range rows {
			status := domain.ConstraintEnabled
			if !r.Validated {
				status = domain.ConstraintDisabled
			}
			out = append(out, domain.ForeignKey{
				Table:      domain.TableRef{Schema: r.Schema, Table: r.Table},
				Name:       r.Name,
				Definition: r.Definition,
				Status:     status,
			})
		}
	}
	return out, nil
}

// DropForeignKey drops a constraint.
func (p *Postgres) DropForeignKey(ctx context.Context, fk domain.ForeignKey) error {
	if _, err := p.x.ExecContext(ctx, ddl.DropForeignKey(p.qualified(fk.Table), fk.Name)); err != nil {
		return fmt.Errorf("drop %s on %s: %w", fk.Name, fk.Table, describePQ(err))
	}
	return nil
}

// CreateForeignKey recreates a constraint. A constraint captured as DISABLED
// is recreated NOT VALID so existing rows are not rechecked.
func (p *Postgres) CreateForeignKey(ctx context.Context, fk domain.ForeignKey) (string, error) {
	notValid := fk.Status == domain.ConstraintDisabled
	stmt, err := ddl.AddForeignKey(p.qualified(fk.Table), fk.Name, fk.Definition, notValid)
	if err != nil {
		return "", err
	}
	if _, err := p.x.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("create %s on %s: %w", fk.Name, fk.Table, describePQ(err))
	}
	if notValid {
		return domain.ConstraintDisabled, nil
	}
	return domain.ConstraintEnabled, nil
}

// BulkWrite loads rows with COPY FROM STDIN in a single transaction.
func (p *Postgres) BulkWrite(ctx context.Context, t domain.TableRef, set *domain.RowSet) error {
	if set.Len() == 0 {
		return nil
	}
	tx, err := p.x.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin copy %s: %w", t, err)
	}
	defer tx.Rollback() //nolint:errcheck

	schema := t.Schema
	if schema == "" {
		schema = p.schema
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, t.Table, set.Columns...))
	if err != nil {
		return fmt.Errorf("prepare copy %s: %w", t, describePQ(err))
	}
	for _, row := range set.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close() //nolint:errcheck
			return fmt.Errorf("copy row into %s: %w", t, describePQ(err))
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close() //nolint:errcheck
		return fmt.Errorf("flush copy %s: %w", t, describePQ(err))
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy %s: %w", t, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit copy %s: %w", t, err)
	}
	p.logger.Debug("rows copied", "table", t.String(), "rows", set.Len())
	return nil
}

// describePQ adds the SQLSTATE and detail of a server error to its message.
func describePQ(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	if pqErr.Detail != "" {
		return fmt.Errorf("%w (sqlstate %s: %s)", err, pqErr.Code, pqErr.Detail)
	}
	return fmt.Errorf("%w (sqlstate %s)", err, pqErr.Code)
}
