package domain

import "time"

// Event log operations and statuses.
const (
	OperationDiscovery = "DISCOVERY"
	OperationMasking   = "MASKING"
	OperationCopy      = "COPY"

	EventStatusSucceeded = "SUCCEEDED"
	EventStatusFailed    = "FAILED"
	EventStatusSkipped   = "SKIPPED"
)

// EventLogEntry is an immutable audit row per discovery/masking execution.
type EventLogEntry struct {
	ID            int64
	StartTime     time.Time
	EndTime       time.Time
	RunID         string
	Operation     string
	Params        map[string]string
	Status        string
	ErrorMessage  *string
	SourceDataset string
	SourceSchema  string
	Table         string
}

// EventLogFilter holds filter parameters for querying the event log.
type EventLogFilter struct {
	RunID  *string
	Status *string
	Table  *string
	Page   PageRequest
}
