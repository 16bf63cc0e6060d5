// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"fmt"
	"sync"

	"maskflow/internal/domain"
)

// === Profiling Service Mock ===

// MockProfiler implements domain.ProfilingService for testing.
type MockProfiler struct {
	ProfileFn func(ctx context.Context, columns map[string][]any) (map[string]domain.ColumnProfile, error)

	mu    sync.Mutex
	Calls []map[string][]any // collected requests for assertions
}

// Profile implements the interface method for testing.
func (m *MockProfiler) Profile(ctx context.Context, columns map[string][]any) (map[string]domain.ColumnProfile, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, columns)
	m.mu.Unlock()
	if m.ProfileFn != nil {
		return m.ProfileFn(ctx, columns)
	}
	panic("unexpected call to MockProfiler.Profile")
}

// CallCount returns the number of Profile calls.
func (m *MockProfiler) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ProfiledColumns returns every column name sent across all calls.
func (m *MockProfiler) ProfiledColumns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.Calls {
		for name := range c {
			out = append(out, name)
		}
	}
	return out
}

// === Masking Service Mock ===

// MockMasker implements domain.MaskingService for testing.
type MockMasker struct {
	MaskFn func(ctx context.Context, req domain.MaskRequest) (map[string][]any, error)

	mu       sync.Mutex
	Requests []domain.MaskRequest
}

// Mask implements the interface method for testing.
func (m *MockMasker) Mask(ctx context.Context, req domain.MaskRequest) (map[string][]any, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.MaskFn != nil {
		return m.MaskFn(ctx, req)
	}
	panic("unexpected call to MockMasker.Mask")
}

// RequestCount returns the number of Mask calls.
func (m *MockMasker) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// PrefixMasker returns a MaskFn that replaces every non-nil value with
// prefix + its text.
func PrefixMasker(prefix string) func(context.Context, domain.MaskRequest) (map[string][]any, error) {
	return func(_ context.Context, req domain.MaskRequest) (map[string][]any, error) {
		out := make(map[string][]any, len(req.Columns))
		for col, vals := range req.Columns {
			masked := make([]any, len(vals))
			for i, v := range vals {
				if v != nil {
					masked[i] = fmt.Sprintf("%s%v", prefix, v)
				}
			}
			out[col] = masked
		}
		return out, nil
	}
}

// ColumnProfiler returns a ProfileFn that profiles every submitted column:
// known columns get their profile from known, the rest an empty one.
func ColumnProfiler(known map[string]domain.ColumnProfile) func(context.Context, map[string][]any) (map[string]domain.ColumnProfile, error) {
	return func(_ context.Context, columns map[string][]any) (map[string]domain.ColumnProfile, error) {
		out := make(map[string]domain.ColumnProfile, len(columns))
		for col, vals := range columns {
			p := known[col]
			p.RowsConsidered = int64(len(vals))
			out[col] = p
		}
		return out, nil
	}
}

// === Constraint Store Fake ===

// FakeConstraintStore implements domain.ConstraintStore over an in-memory
// list of foreign keys.
type FakeConstraintStore struct {
	mu        sync.Mutex
	FKs       []domain.ForeignKey
	DropErr   map[string]error // by constraint name
	CreateErr map[string]error // by constraint name
	ListErr   error
	Dropped   []string
	Created   []string
}

// ListForeignKeys implements the interface method for testing.
func (f *FakeConstraintStore) ListForeignKeys(_ context.Context, tables []domain.TableRef) ([]domain.ForeignKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	want := map[string]bool{}
	for _, t := range tables {
		want[t.Table] = true
	}
	var out []domain.ForeignKey
	for _, fk := range f.FKs {
		if want[fk.Table.Table] {
			out = append(out, fk)
		}
	}
	return out, nil
}

// DropForeignKey implements the interface method for testing.
func (f *FakeConstraintStore) DropForeignKey(_ context.Context, fk domain.ForeignKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DropErr[fk.Name]; err != nil {
		return err
	}
	for i, existing := range f.FKs {
		if existing.Name == fk.Name && existing.Table.Table == fk.Table.Table {
			f.FKs = append(f.FKs[:i], f.FKs[i+1:]...)
			f.Dropped = append(f.Dropped, fk.Name)
			return nil
		}
	}
	return fmt.Errorf("constraint %s does not exist", fk.Name)
}

// CreateForeignKey implements the interface method for testing.
func (f *FakeConstraintStore) CreateForeignKey(_ context.Context, fk domain.ForeignKey) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.CreateErr[fk.Name]; err != nil {
		return "", err
	}
	f.FKs = append(f.FKs, fk)
	f.Created = append(f.Created, fk.Name)
	return fk.Status, nil
}

// Has reports whether a constraint currently exists and returns its status.
func (f *FakeConstraintStore) Has(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fk := range f.FKs {
		if fk.Name == name {
			return fk.Status, true
		}
	}
	return "", false
}

// === Event Log Repository Mock ===

// MockEventLogRepo implements domain.EventLogRepository for testing.
type MockEventLogRepo struct {
	AppendFn func(ctx context.Context, e *domain.EventLogEntry) error
	ListFn   func(ctx context.Context, filter domain.EventLogFilter) ([]domain.EventLogEntry, int64, error)

	mu      sync.Mutex
	Entries []*domain.EventLogEntry // collected entries for assertions
}

// Append implements the interface method for testing.
func (m *MockEventLogRepo) Append(ctx context.Context, e *domain.EventLogEntry) error {
	if m.AppendFn != nil {
		if err := m.AppendFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Entries = append(m.Entries, e)
	m.mu.Unlock()
	return nil
}

// List implements the interface method for testing.
func (m *MockEventLogRepo) List(ctx context.Context, filter domain.EventLogFilter) ([]domain.EventLogEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockEventLogRepo.List")
}
