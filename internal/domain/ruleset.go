package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// RulesetKey uniquely identifies a ruleset row.
type RulesetKey struct {
	Dataset  string
	Database string
	Schema   string
	Table    string
	Column   string
}

// TableRef returns the table part of the key.
func (k RulesetKey) TableRef() TableRef {
	return TableRef{Database: k.Database, Schema: k.Schema, Table: k.Table}
}

// RulesetScope selects the ruleset rows of one dataset, optionally narrowed to
// a database and schema.
type RulesetScope struct {
	Dataset  string
	Database string
	Schema   string
}

// RulesetEntry is the persisted per-column record of discovery and masking
// assignment.
type RulesetEntry struct {
	RulesetKey
	IdentifiedColumnType         string
	IdentifiedColumnMaxLength    int64
	RowCount                     int64
	DiscoveryCompleted           bool
	ProfiledDomain               string
	ProfiledAlgorithm            string
	ConfidenceScore              float64
	AssignedAlgorithm            string // scalar name, JSON object, or JSON array
	AlgorithmMetadata            string // JSON
	SourceMetadata               string // JSON
	LastProfiledUpdatedTimestamp *time.Time
}

// HasAssignment reports whether any algorithm (or condition set) is assigned.
func (e RulesetEntry) HasAssignment() bool {
	return strings.TrimSpace(e.AssignedAlgorithm) != ""
}

// ProfileUpdate carries the fields the discovery orchestrator owns.
type ProfileUpdate struct {
	Domain     string
	Algorithm  string
	Confidence float64
	RowCount   int64
}

// Changed reports whether applying u would change any profiled field.
func (e RulesetEntry) Changed(u ProfileUpdate) bool {
	return e.ProfiledDomain != u.Domain ||
		e.ProfiledAlgorithm != u.Algorithm ||
		e.ConfidenceScore != u.Confidence ||
		e.RowCount != u.RowCount
}

// AlgorithmMetadata is the parsed form of RulesetEntry.AlgorithmMetadata.
type AlgorithmMetadata struct {
	DateFormat             string            `json:"date_format,omitempty"`
	TreatAsString          bool              `json:"treat_as_string,omitempty"`
	ConditionalDateFormats map[string]string `json:"conditional_date_formats,omitempty"`
}

// DateFormatFor returns the date format to send for the given alias, preferring
// an alias-specific format.
func (m AlgorithmMetadata) DateFormatFor(alias string) string {
	if f, ok := m.ConditionalDateFormats[alias]; ok && f != "" {
		return f
	}
	return m.DateFormat
}

// ParseAlgorithmMetadata decodes the JSON metadata; empty input yields zero value.
func (e RulesetEntry) ParseAlgorithmMetadata() (AlgorithmMetadata, error) {
	var m AlgorithmMetadata
	raw := strings.TrimSpace(e.AlgorithmMetadata)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return m, ErrConfiguration(e.TableRef().String(), "column %s: invalid algorithm_metadata: %v", e.Column, err)
	}
	return m, nil
}
