// Package partition implements the two row-partitioning algorithms of the
// engine: randomised sampling for discovery and content-keyed batching for
// masking.
//
// Both follow the same shape: give every row a sort key, sort, number the rows
// with a sequential surrogate id, then select (sampling) or bucket (batching)
// by surrogate id. Surrogate ids are how masked values find their way back to
// the untouched columns of the same row.
package partition

import (
	"slices"

	"github.com/cespare/xxhash/v2"

	"maskflow/internal/domain"
)

// Mode selects how surrogate ids are bucketed.
type Mode int

const (
	// ModeModulo buckets by surrogate_id mod num_batches. Used when the row
	// count is exact.
	ModeModulo Mode = iota
	// ModeDivide buckets by surrogate_id div rows_per_batch. Used when the row
	// count is an estimate.
	ModeDivide
)

func (m Mode) String() string {
	if m == ModeDivide {
		return "divide"
	}
	return "modulo"
}

// Plan is the bucketing decision for one table or alias subset.
type Plan struct {
	Mode         Mode
	NumBatches   int // ModeModulo
	RowsPerBatch int // ModeDivide
}

// Budget bounds the size of one masking request.
type Budget struct {
	TargetBytes int64
	MaxRows     int
}

// NewPlan picks the bucketing mode from the row count's exactness and sizes
// the buckets so each stays within budget.
func NewPlan(count domain.RowCount, rowWidth int64, budget Budget) Plan {
	if rowWidth <= 0 {
		rowWidth = 1
	}
	if budget.TargetBytes <= 0 {
		budget.TargetBytes = rowWidth
	}

	rowsPerBatch := int(budget.TargetBytes / rowWidth)
	if rowsPerBatch < 1 {
		rowsPerBatch = 1
	}
	if budget.MaxRows > 0 && rowsPerBatch > budget.MaxRows {
		rowsPerBatch = budget.MaxRows
	}

	if !count.Exact {
		return Plan{Mode: ModeDivide, RowsPerBatch: rowsPerBatch}
	}

	n := count.N
	if n < 1 {
		n = 1
	}
	batches := int((n + int64(rowsPerBatch) - 1) / int64(rowsPerBatch))
	if batches < 1 {
		batches = 1
	}
	return Plan{Mode: ModeModulo, NumBatches: batches}
}

// bucket returns the batch index of a 0-based surrogate id.
func (p Plan) bucket(id int) int {
	switch p.Mode {
	case ModeDivide:
		if p.RowsPerBatch <= 0 {
			return 0
		}
		return id / p.RowsPerBatch
	default:
		if p.NumBatches <= 1 {
			return 0
		}
		return id % p.NumBatches
	}
}

// Member is one row of a batch: its surrogate id and its position in the
// input RowSet, which doubles as the original row-order key.
type Member struct {
	Surrogate int
	Position  int
}

// Batch is one bucket of rows, ordered by surrogate id.
type Batch struct {
	Index   int
	Members []Member
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int { return len(b.Members) }

// Positions returns the input positions of the batch rows.
func (b Batch) Positions() []int {
	out := make([]int, len(b.Members))
	for i, m := range b.Members {
		out[i] = m.Position
	}
	return out
}

// Sample returns the input positions of at most n rows chosen by a seeded
// random key. The same seed over the same number of rows yields the same
// positions; the result is in surrogate-id order.
func Sample(rowCount, n int, seed uint64) []int {
	if rowCount <= 0 || n <= 0 {
		return nil
	}
	r := NewReservoir(n, seed)
	for range rowCount {
		r.Add(nil)
	}
	return r.Positions()
}

// Partition buckets the rows at positions (all rows of set when positions is
// nil) by content hash. Equal rows are ordered by position, so the result is
// deterministic for a fixed input ordering. Empty buckets are omitted.
func Partition(set *domain.RowSet, positions []int, plan Plan) []Batch {
	if positions == nil {
		positions = make([]int, set.Len())
		for i := range positions {
			positions[i] = i
		}
	}
	if len(positions) == 0 {
		return nil
	}

	type keyed struct {
		hash uint64
		pos  int
	}
	rows := make([]keyed, len(positions))
	var buf []byte
	for i, p := range positions {
		buf = encodeRow(buf[:0], set.Rows[p])
		rows[i] = keyed{hash: xxhash.Sum64(buf), pos: p}
	}
	slices.SortFunc(rows, func(a, b keyed) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		}
		return a.pos - b.pos
	})

	byIndex := map[int]*Batch{}
	var order []int
	for id, r := range rows {
		idx := plan.bucket(id)
		b, ok := byIndex[idx]
		if !ok {
			b = &Batch{Index: idx}
			byIndex[idx] = b
			order = append(order, idx)
		}
		b.Members = append(b.Members, Member{Surrogate: id, Position: r.pos})
	}

	slices.Sort(order)
	out := make([]Batch, 0, len(order))
	for _, idx := range order {
		out = append(out, *byIndex[idx])
	}
	return out
}

// EstimateRowWidth returns the mean encoded size of up to the first 1000 rows,
// at least 1.
func EstimateRowWidth(set *domain.RowSet) int64 {
	n := set.Len()
	if n == 0 {
		return 1
	}
	if n > 1000 {
		n = 1000
	}
	var (
		total int64
		buf   []byte
	)
	for i := 0; i < n; i++ {
		buf = encodeRow(buf[:0], set.Rows[i])
		total += int64(len(buf))
	}
	if w := total / int64(n); w > 0 {
		return w
	}
	return 1
}

// AsBatch wraps positions (in surrogate-id order, as returned by Sample) as a
// single batch.
func AsBatch(positions []int) Batch {
	b := Batch{Members: make([]Member, len(positions))}
	for i, p := range positions {
		b.Members[i] = Member{Surrogate: i, Position: p}
	}
	return b
}
