package runner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/config"
	"maskflow/internal/connector"
	"maskflow/internal/connector/sqlconn"
	"maskflow/internal/db"
	"maskflow/internal/db/repository"
	"maskflow/internal/domain"
	"maskflow/internal/testutil"
)

func openConnector(ctx context.Context, spec domain.ConnectionSpec) (domain.Connector, error) {
	return connector.Open(ctx, spec, config.StorageConfig{}, nil)
}

// sqliteSpec creates a SQLite database file holding the given statements.
func sqliteSpec(t *testing.T, name, dataset, stmts string) domain.ConnectionSpec {
	t.Helper()
	spec := domain.ConnectionSpec{Kind: domain.ConnectorSQLite, DSN: filepath.Join(t.TempDir(), name), Dataset: dataset}
	conn, err := sqlconn.Open(context.Background(), spec, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck
	_, err = conn.DB().Exec(stmts)
	require.NoError(t, err)
	return spec
}

func ssnProfiler() *testutil.MockProfiler {
	return &testutil.MockProfiler{ProfileFn: testutil.ColumnProfiler(map[string]domain.ColumnProfile{
		"ssn": {Domain: "SSN", Algorithm: "SsnTokenization", Confidence: 0.9},
	})}
}

func TestExecute_DiscoveryThenMasking(t *testing.T) {
	ctx := context.Background()
	writeDB, _ := db.OpenTestSQLite(t)
	repos, err := repository.New(writeDB, domain.MetadataTables{})
	require.NoError(t, err)

	source := sqliteSpec(t, "src.sqlite", "sqlite", `
		CREATE TABLE customers (id INTEGER, ssn TEXT);
		INSERT INTO customers VALUES (1, '111'), (2, '222');`)
	sink := sqliteSpec(t, "sink.sqlite", "warehouse", `CREATE TABLE customers (id INTEGER, ssn TEXT);`)
	masker := &testutil.MockMasker{MaskFn: testutil.PrefixMasker("m-")}
	r := New(writeDB, domain.MetadataTables{}, ssnProfiler(), masker, openConnector, nil, nil)

	run, err := r.Execute(ctx, KindDiscovery, &config.RunFile{Source: source})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.State)
	require.NotNil(t, run.FinishedAt)
	logged, total, err := repos.EventLog.List(ctx, domain.EventLogFilter{RunID: &run.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "one table plus the run summary")
	assert.Len(t, logged, 2)

	entries, err := repos.Ruleset.ListByTable(ctx, "sqlite", domain.TableRef{Table: "customers"})
	require.NoError(t, err)
	for _, e := range entries {
		if e.Column == "ssn" {
			assert.Equal(t, "SsnTokenization", e.ProfiledAlgorithm)
			require.NoError(t, repos.Ruleset.SetAssignment(ctx, e.RulesetKey, e.ProfiledAlgorithm, ""))
		}
	}
	_, err = repos.Mappings.Upsert(ctx, &domain.DataMapping{
		SourceDataset: "sqlite", Source: domain.TableRef{Table: "customers"},
		SinkDataset: "warehouse", Sink: domain.TableRef{Table: "customers"},
	})
	require.NoError(t, err)

	run, err = r.Execute(ctx, KindMasking, &config.RunFile{Source: source, Sink: &sink})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.State, run.Error)
	assert.Equal(t, "warehouse", run.Sink)
	require.Len(t, run.Tables, 1)
	assert.Equal(t, 1, masker.RequestCount())
	assert.Equal(t, run.ID, masker.Requests[0].RunID)

	conn, err := openConnector(ctx, sink)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck
	rows, err := conn.ReadRows(ctx, domain.TableRef{Table: "customers"}, []string{"ssn"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"m-111"}, {"m-222"}}, rows.Rows)

	assert.Len(t, r.List(), 2)
	assert.Equal(t, run.ID, r.List()[0].ID, "newest first")
}

func TestStart_RejectsConcurrentRunOfSameDataset(t *testing.T) {
	ctx := context.Background()
	writeDB, _ := db.OpenTestSQLite(t)
	source := sqliteSpec(t, "src.sqlite", "sqlite", `
		CREATE TABLE customers (id INTEGER, ssn TEXT);
		INSERT INTO customers VALUES (1, '111');`)

	release := make(chan struct{})
	profiler := &testutil.MockProfiler{ProfileFn: func(ctx context.Context, cols map[string][]any) (map[string]domain.ColumnProfile, error) {
		<-release
		return testutil.ColumnProfiler(nil)(ctx, cols)
	}}
	r := New(writeDB, domain.MetadataTables{}, profiler, nil, openConnector, nil, nil)

	first, err := r.Start(ctx, KindDiscovery, &config.RunFile{Source: source})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, first.State)

	_, err = r.Start(ctx, KindDiscovery, &config.RunFile{Source: source})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, err.Error(), first.ID)

	close(release)
	r.Wait()
	done, ok := r.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusSucceeded, done.State)

	_, err = r.Start(ctx, KindDiscovery, &config.RunFile{Source: source})
	require.NoError(t, err, "the dataset is free again once the run finished")
	r.Wait()
}

func TestExecute_Validation(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	r := New(writeDB, domain.MetadataTables{}, nil, nil, openConnector, nil, nil)
	src := domain.ConnectionSpec{Kind: domain.ConnectorSQLite, DSN: ":memory:"}

	tests := []struct {
		name string
		kind Kind
		rf   *config.RunFile
	}{
		{"missing_run_file", KindDiscovery, nil},
		{"masking_without_sink", KindMasking, &config.RunFile{Source: src}},
		{"unknown_kind", Kind("profiling"), &config.RunFile{Source: src}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), tt.kind, tt.rf)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestExecute_OpenFailureFailsRun(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	r := New(writeDB, domain.MetadataTables{}, nil, nil, openConnector, nil, nil)

	run, err := r.Execute(context.Background(), KindDiscovery, &config.RunFile{
		Source: domain.ConnectionSpec{Kind: "oracle", Dataset: "erp"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.State)
	assert.Contains(t, run.Error, "unsupported connector kind")
}

func TestMergeTables(t *testing.T) {
	base := domain.MetadataTables{}.WithDefaults()
	got := mergeTables(base, domain.MetadataTables{EventLog: "audit_log"})
	assert.Equal(t, "audit_log", got.EventLog)
	assert.Equal(t, domain.DefaultRulesetTable, got.Ruleset)
}

func TestBegin_OneMaskingRunPerSink(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	r := New(writeDB, domain.MetadataTables{}, nil, nil, openConnector, nil, nil)
	sink := domain.ConnectionSpec{Kind: domain.ConnectorPostgres, Dataset: "warehouse"}
	crm := &config.RunFile{Source: domain.ConnectionSpec{Kind: domain.ConnectorSQLite, Dataset: "crm"}, Sink: &sink}
	erp := &config.RunFile{Source: domain.ConnectionSpec{Kind: domain.ConnectorSQLite, Dataset: "erp"}, Sink: &sink}

	first, err := r.begin(KindMasking, crm)
	require.NoError(t, err)
	assert.True(t, r.isActive(first.ID))

	_, err = r.begin(KindMasking, erp)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict, "another source into the same sink must wait")
	assert.Contains(t, err.Error(), "masking into warehouse")

	_, err = r.begin(KindDiscovery, erp)
	require.NoError(t, err, "discovery does not touch the sink")

	assert.False(t, r.isActive("unknown"))
}

func TestLockKeys(t *testing.T) {
	sink := domain.ConnectionSpec{Kind: domain.ConnectorPostgres}
	rf := &config.RunFile{Source: domain.ConnectionSpec{Kind: domain.ConnectorSQLite, Dataset: "crm"}, Sink: &sink}
	assert.Equal(t, []string{"discovery of crm"}, lockKeys(KindDiscovery, rf))
	assert.Equal(t, []string{"masking of crm into postgres", "masking into postgres"}, lockKeys(KindMasking, rf))
}
