package masking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/domain"
)

func TestGoLayout(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    string
		wantErr bool
	}{
		{"iso_date", "yyyy-MM-dd", "2006-01-02", false},
		{"quoted_t", "yyyy-MM-dd'T'HH:mm:ss", "2006-01-02T15:04:05", false},
		{"millis_and_zone", "yyyy-MM-dd HH:mm:ss.SSSXXX", "2006-01-02 15:04:05.000Z07:00", false},
		{"us_short", "MM/dd/yy hh:mm a", "01/02/06 03:04 PM", false},
		{"escaped_quote", "dd''MM", "02'01", false},
		{"unterminated_quote", "yyyy'T", "", true},
		{"unsupported_field", "yyyy-ww", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := goLayout(tt.pattern)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		in      any
		target  string
		layout  string
		want    any
		wantErr bool
	}{
		{"nil_stays_nil", nil, domain.TargetLong, "", nil, false},
		{"float_to_long", float64(42), domain.TargetLong, "", int64(42), false},
		{"fractional_to_long", 4.5, domain.TargetInteger, "", nil, true},
		{"string_to_long", " 7 ", domain.TargetLong, "", int64(7), false},
		{"string_to_double", "2.25", domain.TargetDouble, "", 2.25, false},
		{"number_to_string", float64(1234567), domain.TargetString, "", "1234567", false},
		{"decimal_keeps_text", "10.50", domain.TargetDecimal, "", "10.50", false},
		{"string_to_bool", "true", domain.TargetBoolean, "", true, false},
		{"bad_bool", "maybe", domain.TargetBoolean, "", nil, true},
		{"date_with_layout", "09/03/2024", domain.TargetDate, "02/01/2006", ts, false},
		{"date_fallback", "2024-03-09", domain.TargetDate, "", ts, false},
		{"bad_date", "yesterday", domain.TargetTimestamp, "", nil, true},
		{"string_to_binary", "ab", domain.TargetBinary, "", []byte("ab"), false},
		{"unknown_target", "x", "geometry", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.in, tt.target, tt.layout)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnPlan_OutboundAndInbound(t *testing.T) {
	ts := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	dated := columnPlan{Name: "dob", TargetType: domain.TargetDate, DateFormat: "dd/MM/yyyy", layout: "02/01/2006"}
	assert.Equal(t, "09/03/2024", dated.outbound(ts))
	back, err := dated.inbound("10/03/2024")
	require.NoError(t, err)
	assert.Equal(t, ts.AddDate(0, 0, 1), back)

	asString := columnPlan{Name: "zip", TargetType: domain.TargetLong, TreatAsString: true}
	assert.Equal(t, "1012", asString.outbound(int64(1012)))
	assert.Nil(t, asString.outbound(nil))

	narrow := columnPlan{Name: "name", TargetType: domain.TargetString, Width: 4}
	got, err := narrow.inbound("Zoë Washburne")
	require.NoError(t, err)
	assert.Equal(t, "Zoë ", got)

	_, err = columnPlan{Name: "n", TargetType: domain.TargetLong}.inbound("abc")
	require.ErrorContains(t, err, "column n")
}

func TestMergeByPosition(t *testing.T) {
	cols := []string{"id"}
	merged := mergeByPosition([]aliasOutput{
		{alias: "us", positions: []int{0, 3}, rows: &domain.RowSet{Columns: cols, Rows: [][]any{{"a"}, {"d"}}}},
		{alias: "eu", positions: []int{1, 2}, rows: &domain.RowSet{Columns: cols, Rows: [][]any{{"b"}, {"c"}}}},
	})
	assert.Equal(t, [][]any{{"a"}, {"b"}, {"c"}, {"d"}}, merged.Rows)
}

func TestProject(t *testing.T) {
	rows := &domain.RowSet{Columns: []string{"id", "ssn", "country"}, Rows: [][]any{{1, "x", "US"}}}
	out := project(rows, []string{"id", "ssn"})
	assert.Equal(t, []string{"id", "ssn"}, out.Columns)
	assert.Equal(t, [][]any{{1, "x"}}, out.Rows)
	assert.Same(t, rows, project(rows, []string{"id", "ssn", "country"}))
}
