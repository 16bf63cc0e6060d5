package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRequest(t *testing.T) {
	tests := []struct {
		name       string
		req        PageRequest
		wantOffset int
		wantLimit  int
	}{
		{"zero_value", PageRequest{}, 0, DefaultMaxResults},
		{"token_round_trip", PageRequest{MaxResults: 5, PageToken: EncodePageToken(40)}, 40, 5},
		{"garbage_token", PageRequest{PageToken: "!!!"}, 0, DefaultMaxResults},
		{"clamped_limit", PageRequest{MaxResults: 5000}, 0, MaxMaxResults},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOffset, tt.req.Offset())
			assert.Equal(t, tt.wantLimit, tt.req.Limit())
		})
	}
}

func TestNextPageToken(t *testing.T) {
	assert.Empty(t, EncodePageToken(0))
	assert.Empty(t, NextPageToken(0, 10, 10))
	next := NextPageToken(0, 10, 11)
	require.NotEmpty(t, next)
	assert.NotContains(t, next, "=", "tokens travel unescaped in query strings")
	assert.Equal(t, 10, PageRequest{PageToken: next}.Offset())
}

func TestMaskedStatus(t *testing.T) {
	s := MaskedStatus{State: MaskedStatePartial, Aliases: map[string]string{"us": AliasStatusSuccess, "eu": AliasStatusFailed}}
	assert.Equal(t, "PARTIAL [eu=FAILED us=SUCCESS]", s.String())
	assert.True(t, s.AliasSucceeded("us"))
	assert.False(t, s.AliasSucceeded("eu"))

	assert.Equal(t, s, DecodeMaskedStatus(s.Encode()))
	assert.Equal(t, MaskedStatus{State: "MASKED"}, DecodeMaskedStatus(" MASKED "))
	assert.Equal(t, MaskedStatus{}, DecodeMaskedStatus(""))
	assert.Empty(t, MaskedStatus{}.Encode())
}

func TestRunContext_Result(t *testing.T) {
	rc := NewRunContext(DefaultRunParams())
	rc.Record(TableOutcome{Table: TableRef{Table: "a"}, Status: TableStatusSucceeded})
	rc.Record(TableOutcome{Table: TableRef{Table: "b"}, Status: TableStatusSkipped})
	assert.False(t, rc.Failed())
	assert.True(t, rc.Result(nil).Succeeded())

	rc.Record(TableOutcome{Table: TableRef{Table: "c"}, Status: TableStatusFailed, Error: "boom"})
	res := rc.Result([]error{errors.New("fk")})
	assert.True(t, rc.Failed())
	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Equal(t, rc.RunID, res.RunID)
	assert.Len(t, res.ConstraintErrors, 1)

	o, ok := res.Outcome(TableRef{Table: "c"})
	require.True(t, ok)
	assert.Equal(t, "boom", o.Error)
	_, ok = res.Outcome(TableRef{Table: "zzz"})
	assert.False(t, ok)
}

func TestRunParams_WithDefaults(t *testing.T) {
	p := RunParams{Rediscover: true, BatchMaxRows: 7}.WithDefaults()
	assert.True(t, p.Rediscover)
	assert.False(t, p.TruncateBeforeWrite, "booleans are left as given")
	assert.Equal(t, 7, p.BatchMaxRows)
	assert.Equal(t, DefaultRunParams().SampleRowCap, p.SampleRowCap)
	assert.Equal(t, "true", p.AsMap()["rediscover"])
}

func TestAlgorithmMetadata(t *testing.T) {
	e := RulesetEntry{
		RulesetKey:        RulesetKey{Dataset: "erp", Schema: "dbo", Table: "people", Column: "dob"},
		AlgorithmMetadata: `{"date_format":"yyyy-MM-dd","conditional_date_formats":{"eu":"dd/MM/yyyy"}}`,
	}
	m, err := e.ParseAlgorithmMetadata()
	require.NoError(t, err)
	assert.Equal(t, "dd/MM/yyyy", m.DateFormatFor("eu"))
	assert.Equal(t, "yyyy-MM-dd", m.DateFormatFor("us"))

	e.AlgorithmMetadata = "{broken"
	_, err = e.ParseAlgorithmMetadata()
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "dbo.people", cfgErr.Table)
}

func TestErrors(t *testing.T) {
	inner := errors.New("permission denied")
	cerr := &ConstraintError{Table: "orders", Constraint: "fk_customer", Op: "recreate", Err: inner}
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", cerr), inner)
	assert.Equal(t, "recreate constraint fk_customer on orders: permission denied", cerr.Error())

	assert.Equal(t, "configuration error: no type map", ErrConfiguration("", "no type map").Error())
	assert.Equal(t, "configuration error on t: x 1", ErrConfiguration("t", "x %d", 1).Error())
}

func TestMetadataTablesAndSpecs(t *testing.T) {
	tables := MetadataTables{EventLog: "audit"}.WithDefaults()
	assert.Equal(t, "audit", tables.EventLog)
	assert.Equal(t, DefaultRulesetTable, tables.Ruleset)

	spec := ConnectionSpec{Kind: ConnectorPostgres, Options: map[string]string{"sslmode": ""}}
	assert.Equal(t, ConnectorPostgres, spec.DatasetName())
	assert.Equal(t, "disable", spec.Option("sslmode", "disable"))

	assert.Equal(t, "db.table", TableRef{Database: "db", Table: "table"}.String())
	rows := &RowSet{Columns: []string{"a", "b"}, Rows: [][]any{{1, 2}, {3, 4}, {5, 6}}}
	assert.Equal(t, 1, rows.ColumnIndex("b"))
	assert.Equal(t, -1, rows.ColumnIndex("z"))
	assert.Equal(t, [][]any{{5, 6}, {1, 2}}, rows.Subset([]int{2, 0}).Rows)
	assert.Equal(t, 0, (*RowSet)(nil).Len())
}
