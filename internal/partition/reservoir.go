package partition

import (
	"container/heap"
	"math/rand/v2"
	"slices"

	"maskflow/internal/domain"
)

// Reservoir keeps the n rows with the smallest seeded random keys of a row
// stream. Rows are keyed in arrival order from the same generator Sample
// uses, so streaming a table selects the same rows as sampling it in memory.
// Memory is bounded by n.
type Reservoir struct {
	n    int
	rng  *rand.Rand
	seen int
	kept keyedHeap
}

// NewReservoir returns a reservoir holding at most n rows.
func NewReservoir(n int, seed uint64) *Reservoir {
	return &Reservoir{n: n, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Add offers the next row of the stream. The reservoir retains row when it is
// selected; callers must not reuse the slice.
func (r *Reservoir) Add(row []any) {
	k := keyedRow{key: r.rng.Uint64(), pos: r.seen, row: row}
	r.seen++
	if r.n <= 0 {
		return
	}
	if len(r.kept) < r.n {
		heap.Push(&r.kept, k)
		return
	}
	if k.less(r.kept[0]) {
		r.kept[0] = k
		heap.Fix(&r.kept, 0)
	}
}

// Seen returns the number of rows offered so far.
func (r *Reservoir) Seen() int { return r.seen }

// Positions returns the stream positions of the kept rows in key order.
func (r *Reservoir) Positions() []int {
	sorted := r.sorted()
	if len(sorted) == 0 {
		return nil
	}
	out := make([]int, len(sorted))
	for i, k := range sorted {
		out[i] = k.pos
	}
	return out
}

// RowSet returns the kept rows in key order.
func (r *Reservoir) RowSet(columns []string) *domain.RowSet {
	sorted := r.sorted()
	set := &domain.RowSet{Columns: columns, Rows: make([][]any, len(sorted))}
	for i, k := range sorted {
		set.Rows[i] = k.row
	}
	return set
}

func (r *Reservoir) sorted() []keyedRow {
	out := slices.Clone(r.kept)
	slices.SortFunc(out, func(a, b keyedRow) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		}
		return 0
	})
	return out
}

type keyedRow struct {
	key uint64
	pos int
	row []any
}

// less orders by key, then by stream position.
func (k keyedRow) less(o keyedRow) bool {
	if k.key != o.key {
		return k.key < o.key
	}
	return k.pos < o.pos
}

// keyedHeap is a max-heap so the largest kept key is evicted first.
type keyedHeap []keyedRow

func (h keyedHeap) Len() int           { return len(h) }
func (h keyedHeap) Less(i, j int) bool { return h[j].less(h[i]) }
func (h keyedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *keyedHeap) Push(x any)        { *h = append(*h, x.(keyedRow)) }
func (h *keyedHeap) Pop() any {
	old := *h
	k := old[len(old)-1]
	*h = old[:len(old)-1]
	return k
}
