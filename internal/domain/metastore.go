package domain

import "context"

// RulesetRepository gives column-scoped access to discovered_ruleset.
type RulesetRepository interface {
	ResetDiscovery(ctx context.Context, scope RulesetScope) (int64, error)
	InsertNewColumns(ctx context.Context, entries []RulesetEntry) (int64, error)
	ListByTable(ctx context.Context, dataset string, table TableRef) ([]RulesetEntry, error)
	ListPending(ctx context.Context, dataset string, table TableRef) ([]RulesetEntry, error)
	ListTables(ctx context.Context, scope RulesetScope) ([]TableRef, error)
	ApplyProfile(ctx context.Context, key RulesetKey, u ProfileUpdate) (changed bool, err error)
	MarkDiscovered(ctx context.Context, key RulesetKey, rowCount int64) error
	SetAssignment(ctx context.Context, key RulesetKey, assigned, metadata string) error
}

// DataMappingRepository gives column-scoped access to adf_data_mapping.
type DataMappingRepository interface {
	Upsert(ctx context.Context, m *DataMapping) (*DataMapping, error)
	List(ctx context.Context, scope MappingScope) ([]DataMapping, error)
	ResetMappings(ctx context.Context, scope MappingScope) (int64, error)
	SetMaskedStatus(ctx context.Context, id int64, status MaskedStatus) error
	MarkComplete(ctx context.Context, id int64, complete bool, status MaskedStatus) error
}

// TypeMappingRepository reads and seeds adf_type_mapping.
type TypeMappingRepository interface {
	Upsert(ctx context.Context, m TypeMapping) error
	Load(ctx context.Context, dataset string) (TypeMap, error)
}

// ConstraintRepository persists captured constraints. ListPending with an
// empty sinkDataset returns the pending constraints of every sink.
type ConstraintRepository interface {
	Capture(ctx context.Context, c *CapturedConstraint) (*CapturedConstraint, error)
	ListPending(ctx context.Context, sinkDataset string) ([]CapturedConstraint, error)
	MarkRecreated(ctx context.Context, id int64, status string) error
	MarkRecreateFailed(ctx context.Context, id int64, errMsg string) error
}

// EventLogRepository appends to and reads adf_event_log.
type EventLogRepository interface {
	Append(ctx context.Context, e *EventLogEntry) error
	List(ctx context.Context, filter EventLogFilter) ([]EventLogEntry, int64, error)
}

// MetadataTables names the metadata store tables; zero fields fall back to
// the defaults.
type MetadataTables struct {
	Ruleset            string `yaml:"ruleset"`
	DataMapping        string `yaml:"data_mapping"`
	TypeMapping        string `yaml:"type_mapping"`
	CaptureConstraints string `yaml:"capture_constraints"`
	EventLog           string `yaml:"event_log"`
}

// Default metadata table names.
const (
	DefaultRulesetTable            = "discovered_ruleset"
	DefaultDataMappingTable        = "adf_data_mapping"
	DefaultTypeMappingTable        = "adf_type_mapping"
	DefaultCaptureConstraintsTable = "capture_constraints"
	DefaultEventLogTable           = "adf_event_log"
)

// WithDefaults fills empty names with the default table names.
func (t MetadataTables) WithDefaults() MetadataTables {
	if t.Ruleset == "" {
		t.Ruleset = DefaultRulesetTable
	}
	if t.DataMapping == "" {
		t.DataMapping = DefaultDataMappingTable
	}
	if t.TypeMapping == "" {
		t.TypeMapping = DefaultTypeMappingTable
	}
	if t.CaptureConstraints == "" {
		t.CaptureConstraints = DefaultCaptureConstraintsTable
	}
	if t.EventLog == "" {
		t.EventLog = DefaultEventLogTable
	}
	return t
}

// Names returns the five table names with defaults applied.
func (t MetadataTables) Names() []string {
	t = t.WithDefaults()
	return []string{t.Ruleset, t.DataMapping, t.TypeMapping, t.CaptureConstraints, t.EventLog}
}
