package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Masked status states stored in DataMapping.MaskedStatus.
const (
	MaskedStateMasked  = "MASKED"
	MaskedStateCopied  = "COPIED"
	MaskedStatePartial = "PARTIAL"
	MaskedStateFailed  = "FAILED"
	MaskedStateSkipped = "SKIPPED"

	AliasStatusSuccess = "SUCCESS"
	AliasStatusFailed  = "FAILED"
)

// DataMapping is the declared source-table to sink-table correspondence and the
// unit of checkpointing for masking.
type DataMapping struct {
	ID              int64
	SourceDataset   string
	Source          TableRef
	SinkDataset     string
	Sink            TableRef
	MappingComplete bool
	MaskedStatus    MaskedStatus
	UpdatedAt       time.Time
}

// MappingScope selects the mappings of a masking run.
type MappingScope struct {
	SourceDataset string
	SinkDataset   string
}

// MaskedStatus records the outcome of the last masking attempt of a mapping,
// including the per-alias checkpoint of conditional masking.
type MaskedStatus struct {
	State   string            `json:"state,omitempty"`
	Aliases map[string]string `json:"aliases,omitempty"`
}

// AliasSucceeded reports whether the alias completed in an earlier attempt.
func (s MaskedStatus) AliasSucceeded(alias string) bool {
	return s.Aliases[alias] == AliasStatusSuccess
}

// Encode renders the status as stored text.
func (s MaskedStatus) Encode() string {
	if s.State == "" && len(s.Aliases) == 0 {
		return ""
	}
	b, _ := json.Marshal(s)
	return string(b)
}

// String renders a short human form: STATE [alias=status ...].
func (s MaskedStatus) String() string {
	if len(s.Aliases) == 0 {
		return s.State
	}
	keys := make([]string, 0, len(s.Aliases))
	for k := range s.Aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s.Aliases[k])
	}
	return s.State + " [" + strings.Join(parts, " ") + "]"
}

// DecodeMaskedStatus parses stored text. Plain (non-JSON) text is treated as a
// bare state for rows written by older tooling.
func DecodeMaskedStatus(raw string) MaskedStatus {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MaskedStatus{}
	}
	var s MaskedStatus
	if strings.HasPrefix(raw, "{") && json.Unmarshal([]byte(raw), &s) == nil {
		return s
	}
	return MaskedStatus{State: raw}
}
