package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/db"
	"maskflow/internal/domain"
)

func TestEventLogRepo_AppendAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	writeDB, _ := db.OpenTestSQLite(t)
	repo, err := NewEventLogRepo(writeDB, "")
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := "non-conformant data in column ssn"
	for i, status := range []string{domain.EventStatusSucceeded, domain.EventStatusFailed, domain.EventStatusSucceeded} {
		e := &domain.EventLogEntry{
			StartTime: start, EndTime: start.Add(time.Second), RunID: "run-1",
			Operation: domain.OperationMasking, Status: status,
			Params:        map[string]string{"truncate_before_write": "true"},
			SourceDataset: "crm", Table: []string{"a", "b", "c"}[i],
		}
		if status == domain.EventStatusFailed {
			e.ErrorMessage = &msg
		}
		require.NoError(t, repo.Append(ctx, e))
		assert.NotZero(t, e.ID)
	}

	all, total, err := repo.List(ctx, domain.EventLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Table)
	assert.Equal(t, start, all[0].StartTime)
	assert.Equal(t, "true", all[0].Params["truncate_before_write"])

	failed := domain.EventStatusFailed
	got, total, err := repo.List(ctx, domain.EventLogFilter{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ErrorMessage)
	assert.Equal(t, msg, *got[0].ErrorMessage)

	page, total, err := repo.List(ctx, domain.EventLogFilter{Page: domain.PageRequest{MaxResults: 2, PageToken: domain.EncodePageToken(2)}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Table)
}

func TestRepositories_New(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)

	repos, err := New(writeDB, domain.MetadataTables{})
	require.NoError(t, err)
	assert.NotNil(t, repos.Ruleset)
	assert.NotNil(t, repos.EventLog)

	_, err = New(writeDB, domain.MetadataTables{EventLog: "bad name"})
	require.Error(t, err)
}
