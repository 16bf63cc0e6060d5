package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"maskflow/internal/domain"
)

// RunFile is the YAML description of a discovery or masking run:
//
//	source: {kind: sqlite, dsn: crm.db, dataset: crm}
//	sink:   {kind: postgres, dsn: postgres://..., dataset: crm_masked, schema: public}
//	params: {truncate_before_write: true, copy_unmasked_tables: true}
//	tables: {event_log: my_event_log}
type RunFile struct {
	Source domain.ConnectionSpec  `yaml:"source"`
	Sink   *domain.ConnectionSpec `yaml:"sink"`
	Params *domain.RunParams      `yaml:"params"`
	Tables domain.MetadataTables  `yaml:"tables"`
}

// LoadRunFile reads a run description. Params absent from the file take the
// values of defaults.
func LoadRunFile(path string, defaults domain.RunParams) (*RunFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	return ParseRunFile(data, defaults)
}

// ParseRunFile decodes a run description from YAML.
func ParseRunFile(data []byte, defaults domain.RunParams) (*RunFile, error) {
	rf := &RunFile{Params: &defaults}
	if err := yaml.Unmarshal(data, rf); err != nil {
		return nil, fmt.Errorf("parse run file: %w", err)
	}
	if rf.Params == nil {
		rf.Params = &defaults
	}
	p := rf.Params.WithDefaults()
	rf.Params = &p

	if rf.Source.Kind == "" {
		return nil, domain.ErrValidation("run file: source.kind is required")
	}
	if rf.Sink != nil && rf.Sink.Kind == "" {
		return nil, domain.ErrValidation("run file: sink.kind is required")
	}
	return rf, nil
}

// TypeMappingFile is the YAML form accepted by `maskflow typemap load`:
//
//	dataset: crm
//	mappings:
//	  varchar: string
//	  int: integer
type TypeMappingFile struct {
	Dataset  string            `yaml:"dataset"`
	Mappings map[string]string `yaml:"mappings"`
}

// LoadTypeMappingFile reads and validates a type mapping file.
func LoadTypeMappingFile(path string) ([]domain.TypeMapping, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read type mapping file: %w", err)
	}
	var f TypeMappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse type mapping file: %w", err)
	}
	if f.Dataset == "" {
		return nil, domain.ErrValidation("type mapping file: dataset is required")
	}
	out := make([]domain.TypeMapping, 0, len(f.Mappings))
	for src, target := range f.Mappings {
		if !domain.IsKnownTargetType(target) {
			return nil, domain.ErrValidation("type mapping file: unknown target type %q for %q", target, src)
		}
		out = append(out, domain.TypeMapping{Dataset: f.Dataset, SourceType: src, TargetType: target})
	}
	return out, nil
}
