package domain

import "strings"

// TableRef identifies a table (or collection, or file set) inside a source or
// sink. Database and Schema may be empty for systems that lack them.
type TableRef struct {
	Database string
	Schema   string
	Table    string
}

// String renders the reference as a dotted path, skipping empty parts.
func (t TableRef) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Database, t.Schema, t.Table} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// ColumnInfo describes one column as reported by a connector's schema catalog.
type ColumnInfo struct {
	Name      string
	Type      string
	MaxLength int64 // -1 when indeterminate
	Nullable  bool
	Ordinal   int
}

// RowCount is a connector's answer to "how many rows": Exact is false for
// sources that only estimate (file-based, document stores with estimates).
type RowCount struct {
	N     int64
	Exact bool
}

// RowSet is an in-memory batch of rows with a fixed column order.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ColumnIndex returns the position of the named column or -1.
func (r *RowSet) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Subset returns a RowSet sharing column order with r holding only the rows at
// the given positions.
func (r *RowSet) Subset(positions []int) *RowSet {
	out := &RowSet{Columns: r.Columns, Rows: make([][]any, 0, len(positions))}
	for _, p := range positions {
		out.Rows = append(out.Rows, r.Rows[p])
	}
	return out
}
