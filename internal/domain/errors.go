// Package domain defines core types, interfaces, and errors for the discovery
// and masking engine.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ConfigurationError indicates metadata that prevents a table from being
// processed at all: a missing type mapping, a malformed filter condition, an
// unparsable algorithm assignment. It is fatal for the affected table only.
type ConfigurationError struct {
	Table   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Table == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error on %s: %s", e.Table, e.Message)
}

// ConstraintError reports a failure to drop or recreate a referential
// constraint. It is kept apart from table outcomes.
type ConstraintError struct {
	Table      string
	Constraint string
	Op         string // "drop" or "recreate"
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint %s on %s: %v", e.Op, e.Constraint, e.Table, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError scoped to a table.
func ErrConfiguration(table string, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Table: table, Message: fmt.Sprintf(format, args...)}
}
