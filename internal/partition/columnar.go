package partition

import (
	"fmt"

	"maskflow/internal/domain"
)

// Columnar wraps the named columns of a batch into per-column value lists in
// surrogate-id order. Values are passed through as-is: a nil stays nil and an
// empty list stays an empty list.
func Columnar(set *domain.RowSet, batch Batch, columns []string) (map[string][]any, error) {
	out := make(map[string][]any, len(columns))
	for _, col := range columns {
		ci := set.ColumnIndex(col)
		if ci < 0 {
			return nil, fmt.Errorf("column %q not in row set", col)
		}
		values := make([]any, len(batch.Members))
		for i, m := range batch.Members {
			values[i] = set.Rows[m.Position][ci]
		}
		out[col] = values
	}
	return out, nil
}

// Rejoin writes masked column values back into dst (a copy of the input rows
// sharing its column order) at each member's position. Every masked column
// must hold exactly one value per batch member.
func Rejoin(dst *domain.RowSet, batch Batch, masked map[string][]any) error {
	for col, values := range masked {
		ci := dst.ColumnIndex(col)
		if ci < 0 {
			return fmt.Errorf("masked column %q not in row set", col)
		}
		if len(values) != len(batch.Members) {
			return fmt.Errorf("masked column %q: got %d values for %d rows", col, len(values), len(batch.Members))
		}
		for i, m := range batch.Members {
			dst.Rows[m.Position][ci] = values[i]
		}
	}
	return nil
}

// Clone deep-copies the row slices of set so Rejoin can write into it without
// touching the source rows.
func Clone(set *domain.RowSet) *domain.RowSet {
	out := &domain.RowSet{Columns: set.Columns, Rows: make([][]any, len(set.Rows))}
	for i, r := range set.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}
