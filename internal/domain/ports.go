package domain

import "context"

// SourceConnector reads schema, counts and rows from a source system.
type SourceConnector interface {
	Dataset() string
	ListTables(ctx context.Context) ([]TableRef, error)
	ListColumns(ctx context.Context, table TableRef) ([]ColumnInfo, error)
	RowCount(ctx context.Context, table TableRef) (RowCount, error)
	ReadRows(ctx context.Context, table TableRef, columns []string) (*RowSet, error)
	Close() error
}

// SinkConnector writes rows to a sink system.
type SinkConnector interface {
	Dataset() string
	ListColumns(ctx context.Context, table TableRef) ([]ColumnInfo, error)
	Truncate(ctx context.Context, table TableRef) error
	WriteRows(ctx context.Context, table TableRef, rows *RowSet) error
	Close() error
}

// Connector is a system that is both a source and a sink.
type Connector interface {
	SourceConnector
	SinkConnector
}

// RowScanner is implemented by sources that can stream a table row by row.
// fn receives a fresh slice per row and may retain it. A non-nil error from
// fn stops the scan and is returned.
type RowScanner interface {
	ScanRows(ctx context.Context, table TableRef, columns []string, fn func(row []any) error) error
}

// BulkWriter is implemented by sinks with a native bulk load path.
type BulkWriter interface {
	BulkWrite(ctx context.Context, table TableRef, rows *RowSet) error
}

// OrderedSink is implemented by sinks whose output order is observable
// (files), so rows must reach them in source order.
type OrderedSink interface {
	PreservesRowOrder() bool
}

// ConstraintStore is implemented by RDBMS sinks that can enumerate, drop and
// recreate foreign keys.
type ConstraintStore interface {
	ListForeignKeys(ctx context.Context, tables []TableRef) ([]ForeignKey, error)
	DropForeignKey(ctx context.Context, fk ForeignKey) error
	CreateForeignKey(ctx context.Context, fk ForeignKey) (status string, err error)
}

// ColumnProfile is the discovery API's classification of one column.
type ColumnProfile struct {
	Domain         string  `json:"domain"`
	Algorithm      string  `json:"algorithm"`
	Confidence     float64 `json:"confidence"`
	RowsConsidered int64   `json:"rowsConsidered"`
}

// ProfilingService classifies sampled column values.
type ProfilingService interface {
	Profile(ctx context.Context, columns map[string][]any) (map[string]ColumnProfile, error)
}

// MaskRequest is one batch sent to the masking API.
type MaskRequest struct {
	RunID               string
	Columns             map[string][]any
	FieldAlgorithms     map[string]string
	FieldDateFormats    map[string]string
	FailOnNonConformant bool
}

// MaskingService masks column-shaped batches.
type MaskingService interface {
	Mask(ctx context.Context, req MaskRequest) (map[string][]any, error)
}
