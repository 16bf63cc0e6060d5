package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/db"
	"maskflow/internal/domain"
)

func newRulesetRepo(t *testing.T) *RulesetRepo {
	t.Helper()
	writeDB, _ := db.OpenTestSQLite(t)
	repo, err := NewRulesetRepo(writeDB, "")
	require.NoError(t, err)
	return repo
}

func customerColumns(cols ...string) []domain.RulesetEntry {
	out := make([]domain.RulesetEntry, 0, len(cols))
	for _, c := range cols {
		out = append(out, domain.RulesetEntry{
			RulesetKey:                domain.RulesetKey{Dataset: "crm", Schema: "main", Table: "customers", Column: c},
			IdentifiedColumnType:      "TEXT",
			IdentifiedColumnMaxLength: -1,
		})
	}
	return out
}

var customers = domain.TableRef{Schema: "main", Table: "customers"}

func TestRulesetRepo_InsertNewColumnsKeepsExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRulesetRepo(t)

	n, err := repo.InsertNewColumns(ctx, customerColumns("id", "email"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	key := domain.RulesetKey{Dataset: "crm", Schema: "main", Table: "customers", Column: "email"}
	require.NoError(t, repo.SetAssignment(ctx, key, "EmailMask", `{"treat_as_string":true}`))

	n, err = repo.InsertNewColumns(ctx, customerColumns("id", "email", "phone"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := repo.ListByTable(ctx, "crm", customers)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"id", "email", "phone"}, []string{entries[0].Column, entries[1].Column, entries[2].Column})
	assert.Equal(t, "EmailMask", entries[1].AssignedAlgorithm)
	assert.Equal(t, `{"treat_as_string":true}`, entries[1].AlgorithmMetadata)
}

func TestRulesetRepo_InsertNewColumnsValidation(t *testing.T) {
	t.Parallel()
	repo := newRulesetRepo(t)

	_, err := repo.InsertNewColumns(context.Background(), []domain.RulesetEntry{{RulesetKey: domain.RulesetKey{Dataset: "crm"}}})
	require.Error(t, err)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRulesetRepo_ApplyProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRulesetRepo(t)
	_, err := repo.InsertNewColumns(ctx, customerColumns("email"))
	require.NoError(t, err)

	key := domain.RulesetKey{Dataset: "crm", Schema: "main", Table: "customers", Column: "email"}
	update := domain.ProfileUpdate{Domain: "EMAIL", Algorithm: "EmailMask", Confidence: 0.97, RowCount: 10}

	changed, err := repo.ApplyProfile(ctx, key, update)
	require.NoError(t, err)
	assert.True(t, changed)

	entries, err := repo.ListByTable(ctx, "crm", customers)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	first := entries[0]
	assert.True(t, first.DiscoveryCompleted)
	assert.Equal(t, "EMAIL", first.ProfiledDomain)
	assert.InDelta(t, 0.97, first.ConfidenceScore, 1e-9)
	assert.Equal(t, int64(10), first.RowCount)
	require.NotNil(t, first.LastProfiledUpdatedTimestamp)

	t.Run("unchanged_profile_keeps_timestamp", func(t *testing.T) {
		changed, err := repo.ApplyProfile(ctx, key, update)
		require.NoError(t, err)
		assert.False(t, changed)

		entries, err := repo.ListByTable(ctx, "crm", customers)
		require.NoError(t, err)
		assert.Equal(t, *first.LastProfiledUpdatedTimestamp, *entries[0].LastProfiledUpdatedTimestamp)
	})

	t.Run("missing_column", func(t *testing.T) {
		missing := key
		missing.Column = "nope"
		_, err := repo.ApplyProfile(ctx, missing, update)
		var nf *domain.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestRulesetRepo_PendingAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRulesetRepo(t)
	_, err := repo.InsertNewColumns(ctx, customerColumns("id", "email"))
	require.NoError(t, err)

	pending, err := repo.ListPending(ctx, "crm", customers)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, repo.MarkDiscovered(ctx, domain.RulesetKey{Dataset: "crm", Schema: "main", Table: "customers", Column: "id"}, 0))

	pending, err = repo.ListPending(ctx, "crm", customers)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "email", pending[0].Column)

	n, err := repo.ResetDiscovery(ctx, domain.RulesetScope{Dataset: "crm", Schema: "main"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err = repo.ListPending(ctx, "crm", customers)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRulesetRepo_ListTables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newRulesetRepo(t)

	entries := customerColumns("id")
	entries = append(entries, domain.RulesetEntry{RulesetKey: domain.RulesetKey{Dataset: "crm", Schema: "main", Table: "orders", Column: "id"}})
	entries = append(entries, domain.RulesetEntry{RulesetKey: domain.RulesetKey{Dataset: "hr", Table: "staff", Column: "id"}})
	_, err := repo.InsertNewColumns(ctx, entries)
	require.NoError(t, err)

	tables, err := repo.ListTables(ctx, domain.RulesetScope{Dataset: "crm"})
	require.NoError(t, err)
	assert.Equal(t, []domain.TableRef{
		{Schema: "main", Table: "customers"},
		{Schema: "main", Table: "orders"},
	}, tables)
}

func TestRulesetRepo_SetAssignmentNotFound(t *testing.T) {
	t.Parallel()
	repo := newRulesetRepo(t)

	err := repo.SetAssignment(context.Background(), domain.RulesetKey{Dataset: "crm", Table: "x", Column: "y"}, "A", "")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestNewRulesetRepo_RejectsBadTableName(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	_, err := NewRulesetRepo(writeDB, "ruleset; DROP TABLE x")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}
