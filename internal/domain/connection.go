package domain

// Connector kinds understood by the connector registry.
const (
	ConnectorSQLite   = "sqlite"
	ConnectorDuckDB   = "duckdb"
	ConnectorPostgres = "postgres"
	ConnectorFiles    = "files"
	ConnectorMongo    = "mongo"
)

// ConnectionSpec describes how to reach a source or sink. Dataset names the
// system in the metadata store and defaults to Kind.
type ConnectionSpec struct {
	Kind     string            `yaml:"kind" json:"kind"`
	DSN      string            `yaml:"dsn" json:"dsn"`
	Dataset  string            `yaml:"dataset" json:"dataset"`
	Database string            `yaml:"database" json:"database"`
	Schema   string            `yaml:"schema" json:"schema"`
	Options  map[string]string `yaml:"options" json:"options,omitempty"`
}

// DatasetName returns Dataset, falling back to Kind.
func (s ConnectionSpec) DatasetName() string {
	if s.Dataset != "" {
		return s.Dataset
	}
	return s.Kind
}

// Option returns a connector option or def when unset.
func (s ConnectionSpec) Option(key, def string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return def
}
