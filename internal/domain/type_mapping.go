package domain

import "strings"

// TypeMapping maps a source column type of a dataset to the target type used
// when coercing masked values back into the sink.
type TypeMapping struct {
	Dataset    string
	SourceType string
	TargetType string
}

// Target types understood by the value coercion in the masking orchestrator.
const (
	TargetString    = "string"
	TargetInteger   = "integer"
	TargetLong      = "long"
	TargetDouble    = "double"
	TargetDecimal   = "decimal"
	TargetBoolean   = "boolean"
	TargetDate      = "date"
	TargetTimestamp = "timestamp"
	TargetBinary    = "binary"
)

// TypeMap is the per-dataset lookup loaded once per run.
type TypeMap map[string]string

// NormalizeType lower-cases a type name and strips any length/precision
// suffix, so VARCHAR(20) and varchar share an entry.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

// Lookup returns the target type for a source type.
func (m TypeMap) Lookup(sourceType string) (string, bool) {
	t, ok := m[NormalizeType(sourceType)]
	return t, ok
}

// IsKnownTargetType reports whether t is one of the Target* constants.
func IsKnownTargetType(t string) bool {
	switch t {
	case TargetString, TargetInteger, TargetLong, TargetDouble, TargetDecimal,
		TargetBoolean, TargetDate, TargetTimestamp, TargetBinary:
		return true
	}
	return false
}
