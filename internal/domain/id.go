package domain

import "github.com/google/uuid"

// NewRunID generates the identifier sent as Run-Id to the masking service and
// recorded on every event log row of a run.
func NewRunID() string {
	return uuid.NewString()
}
