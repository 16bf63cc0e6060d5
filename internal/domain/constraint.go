package domain

import "time"

// Constraint status values recorded before drop and after recreate.
const (
	ConstraintEnabled  = "ENABLED"
	ConstraintDisabled = "DISABLED"
)

// ForeignKey is a referential constraint as reported by a ConstraintStore.
// Definition is whatever the store needs to recreate it.
type ForeignKey struct {
	Table      TableRef
	Name       string
	Definition string
	Status     string
}

// CapturedConstraint is the persisted record of a constraint dropped for a
// masking run.
type CapturedConstraint struct {
	ID               int64
	RunID            string
	SinkDataset      string
	Table            TableRef
	ConstraintName   string
	Definition       string
	PreDropStatus    string
	DropTimestamp    time.Time
	PostCreateStatus *string
	CreateTimestamp  *time.Time
	ErrorMessage     *string
}

// ForeignKey rebuilds the constraint description from the capture.
func (c CapturedConstraint) ForeignKey() ForeignKey {
	return ForeignKey{Table: c.Table, Name: c.ConstraintName, Definition: c.Definition, Status: c.PreDropStatus}
}

// CapturedSet is everything captured (or adopted from an interrupted run) that
// must be recreated at the end of a run.
type CapturedSet struct {
	RunID       string
	Constraints []CapturedConstraint
}

// Len returns the number of captured constraints.
func (s *CapturedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Constraints)
}
