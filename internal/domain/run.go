package domain

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Run statuses.
const (
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"

	TableStatusSucceeded = "SUCCEEDED"
	TableStatusFailed    = "FAILED"
	TableStatusSkipped   = "SKIPPED"
)

// RunParams are the pipeline-level flags and tunables recognised by the
// discovery and masking orchestrators.
type RunParams struct {
	Rediscover              bool  `yaml:"rediscover" json:"rediscover"`
	TruncateBeforeWrite     bool  `yaml:"truncate_before_write" json:"truncate_before_write"`
	CopyUnmaskedTables      bool  `yaml:"copy_unmasked_tables" json:"copy_unmasked_tables"`
	CopyUseDataflow         bool  `yaml:"copy_use_dataflow" json:"copy_use_dataflow"`
	FailOnNonConformantData bool  `yaml:"fail_on_nonconformant_data" json:"fail_on_nonconformant_data"`
	ReapplyMapping          bool  `yaml:"reapply_mapping" json:"reapply_mapping"`
	EmptyTablesDiscovered   bool  `yaml:"empty_tables_discovered" json:"empty_tables_discovered"`
	SampleRowCap            int   `yaml:"sample_row_cap" json:"sample_row_cap"`
	SampleSeed              int64 `yaml:"sample_seed" json:"sample_seed"`
	BatchTargetBytes        int64 `yaml:"batch_target_bytes" json:"batch_target_bytes"`
	BatchMaxRows            int   `yaml:"batch_max_rows" json:"batch_max_rows"`
	MaxConcurrency          int   `yaml:"max_concurrency" json:"max_concurrency"`
}

// DefaultRunParams returns the flag values used when a caller supplies none.
func DefaultRunParams() RunParams {
	return RunParams{
		TruncateBeforeWrite:     true,
		FailOnNonConformantData: true,
		EmptyTablesDiscovered:   true,
		SampleRowCap:            1000,
		BatchTargetBytes:        2 << 20,
		BatchMaxRows:            10000,
		MaxConcurrency:          2,
	}
}

// WithDefaults fills zero-valued tunables from DefaultRunParams. Boolean flags
// are left as given.
func (p RunParams) WithDefaults() RunParams {
	d := DefaultRunParams()
	if p.SampleRowCap <= 0 {
		p.SampleRowCap = d.SampleRowCap
	}
	if p.BatchTargetBytes <= 0 {
		p.BatchTargetBytes = d.BatchTargetBytes
	}
	if p.BatchMaxRows <= 0 {
		p.BatchMaxRows = d.BatchMaxRows
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = d.MaxConcurrency
	}
	return p
}

// AsMap flattens the parameters for the event log.
func (p RunParams) AsMap() map[string]string {
	return map[string]string{
		"rediscover":                 strconv.FormatBool(p.Rediscover),
		"truncate_before_write":      strconv.FormatBool(p.TruncateBeforeWrite),
		"copy_unmasked_tables":       strconv.FormatBool(p.CopyUnmaskedTables),
		"copy_use_dataflow":          strconv.FormatBool(p.CopyUseDataflow),
		"fail_on_nonconformant_data": strconv.FormatBool(p.FailOnNonConformantData),
		"reapply_mapping":            strconv.FormatBool(p.ReapplyMapping),
		"empty_tables_discovered":    strconv.FormatBool(p.EmptyTablesDiscovered),
		"sample_row_cap":             strconv.Itoa(p.SampleRowCap),
		"batch_target_bytes":         strconv.FormatInt(p.BatchTargetBytes, 10),
		"batch_max_rows":             strconv.Itoa(p.BatchMaxRows),
		"max_concurrency":            strconv.Itoa(p.MaxConcurrency),
	}
}

// RunContext carries the mutable, run-scoped state of one orchestrator run.
// It replaces pipeline-global variables so concurrent runs stay isolated.
type RunContext struct {
	RunID     string
	Params    RunParams
	StartedAt time.Time

	failed atomic.Bool

	mu           sync.Mutex
	unprofilable []TableRef
	outcomes     []TableOutcome
}

// NewRunContext starts a run with a fresh run id.
func NewRunContext(params RunParams) *RunContext {
	return &RunContext{RunID: NewRunID(), Params: params, StartedAt: time.Now().UTC()}
}

// MarkFailed sets the run-level failure flag.
func (r *RunContext) MarkFailed() { r.failed.Store(true) }

// Failed reports whether any table failed so far. Masking checks it before
// copying unmasked tables.
func (r *RunContext) Failed() bool { return r.failed.Load() }

// AddUnprofilable records a table that could not be sampled or profiled.
func (r *RunContext) AddUnprofilable(t TableRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unprofilable = append(r.unprofilable, t)
}

// Unprofilable returns a copy of the unprofilable-table accumulator.
func (r *RunContext) Unprofilable() []TableRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TableRef(nil), r.unprofilable...)
}

// Record stores a table outcome and raises the failure flag on failure.
func (r *RunContext) Record(o TableOutcome) {
	if o.Status == TableStatusFailed {
		r.MarkFailed()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Result builds the run result from the recorded outcomes. Status is the
// conjunction of table outcomes; constraint errors do not affect it.
func (r *RunContext) Result(constraintErrs []error) *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := &RunResult{
		RunID:            r.RunID,
		Status:           RunStatusSucceeded,
		Tables:           append([]TableOutcome(nil), r.outcomes...),
		ConstraintErrors: constraintErrs,
		StartedAt:        r.StartedAt,
		FinishedAt:       time.Now().UTC(),
	}
	for _, o := range res.Tables {
		if o.Status == TableStatusFailed {
			res.Status = RunStatusFailed
			break
		}
	}
	return res
}

// TableOutcome is the result of processing one table in a run.
type TableOutcome struct {
	Table   TableRef
	Status  string
	Error   string
	Details map[string]string
}

// RunResult summarises a discovery or masking run.
type RunResult struct {
	RunID            string
	Status           string
	Tables           []TableOutcome
	ConstraintErrors []error
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Succeeded reports whether every table outcome succeeded or was skipped.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == RunStatusSucceeded
}

// Outcome returns the outcome recorded for a table, if any.
func (r *RunResult) Outcome(t TableRef) (TableOutcome, bool) {
	for _, o := range r.Tables {
		if o.Table == t {
			return o, true
		}
	}
	return TableOutcome{}, false
}
