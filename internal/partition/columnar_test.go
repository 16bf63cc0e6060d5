package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/domain"
)

func TestColumnarAndRejoin(t *testing.T) {
	set := &domain.RowSet{
		Columns: []string{"id", "tags", "email"},
		Rows: [][]any{
			{int64(1), []any{}, "a@example.com"},
			{int64(2), nil, nil},
			{int64(3), []any{"x"}, "c@example.com"},
		},
	}
	batches := Partition(set, nil, Plan{Mode: ModeModulo, NumBatches: 1})
	require.Len(t, batches, 1)
	batch := batches[0]

	cols, err := Columnar(set, batch, []string{"tags", "email"})
	require.NoError(t, err)
	require.Len(t, cols["tags"], 3)

	for i, m := range batch.Members {
		switch m.Position {
		case 0:
			assert.NotNil(t, cols["tags"][i], "empty collection must not become nil")
			assert.Equal(t, []any{}, cols["tags"][i])
		case 1:
			assert.Nil(t, cols["tags"][i])
			assert.Nil(t, cols["email"][i])
		}
	}

	masked := map[string][]any{"email": make([]any, len(batch.Members))}
	for i, v := range cols["email"] {
		if v == nil {
			continue
		}
		masked["email"][i] = "masked-" + v.(string)
	}

	out := Clone(set)
	require.NoError(t, Rejoin(out, batch, masked))

	assert.Equal(t, "masked-a@example.com", out.Rows[0][2])
	assert.Nil(t, out.Rows[1][2])
	assert.Equal(t, "masked-c@example.com", out.Rows[2][2])
	assert.Equal(t, int64(3), out.Rows[2][0], "untouched columns keep their values")
	assert.Equal(t, "a@example.com", set.Rows[0][2], "source rows are not modified")
}

func TestColumnar_UnknownColumn(t *testing.T) {
	set := &domain.RowSet{Columns: []string{"id"}, Rows: [][]any{{1}}}
	_, err := Columnar(set, Batch{Members: []Member{{Position: 0}}}, []string{"nope"})
	require.Error(t, err)
}

func TestRejoin_LengthMismatch(t *testing.T) {
	set := &domain.RowSet{Columns: []string{"id"}, Rows: [][]any{{1}, {2}}}
	batch := Batch{Members: []Member{{Surrogate: 0, Position: 0}, {Surrogate: 1, Position: 1}}}

	err := Rejoin(set, batch, map[string][]any{"id": {9}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 values for 2 rows")

	err = Rejoin(set, batch, map[string][]any{"other": {1, 2}})
	require.Error(t, err)
}
