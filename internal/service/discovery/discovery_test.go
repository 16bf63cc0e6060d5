package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/connector/sqlconn"
	"maskflow/internal/db"
	"maskflow/internal/db/repository"
	"maskflow/internal/domain"
	"maskflow/internal/testutil"
)

type fixture struct {
	svc      *Service
	repos    *repository.Repositories
	source   *sqlconn.Conn
	profiler *testutil.MockProfiler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	writeDB, _ := db.OpenTestSQLite(t)
	repos, err := repository.New(writeDB, domain.MetadataTables{})
	require.NoError(t, err)

	src, err := sqlconn.Open(context.Background(), domain.ConnectionSpec{
		Kind: domain.ConnectorSQLite, DSN: filepath.Join(t.TempDir(), "src.sqlite"), Dataset: "crm",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	_, err = src.DB().Exec(`
		CREATE TABLE customers (id INTEGER, name TEXT, ssn TEXT);
		INSERT INTO customers VALUES (1, 'Ada', '123-45-6789'), (2, 'Bob', '987-65-4321'), (3, 'Cy', NULL);
		CREATE TABLE audit (id INTEGER, note TEXT);`)
	require.NoError(t, err)

	profiler := &testutil.MockProfiler{ProfileFn: testutil.ColumnProfiler(map[string]domain.ColumnProfile{
		"ssn": {Domain: "SSN", Algorithm: "SsnTokenization", Confidence: 0.95},
	})}
	return &fixture{
		svc:      NewService(repos.Ruleset, repos.EventLog, profiler, nil, nil),
		repos:    repos,
		source:   src,
		profiler: profiler,
	}
}

func params() domain.RunParams {
	p := domain.DefaultRunParams()
	p.SampleSeed = 42
	return p
}

func (f *fixture) snapshot(t *testing.T, table string) map[string]domain.RulesetEntry {
	t.Helper()
	entries, err := f.repos.Ruleset.ListByTable(context.Background(), "crm", domain.TableRef{Table: table})
	require.NoError(t, err)
	out := map[string]domain.RulesetEntry{}
	for _, e := range entries {
		out[e.Column] = e
	}
	return out
}

func TestDiscover_FirstRunProfilesEveryTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params()})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 1, f.profiler.CallCount(), "the empty table is not profiled")

	customers := f.snapshot(t, "customers")
	require.Len(t, customers, 3)
	ssn := customers["ssn"]
	assert.True(t, ssn.DiscoveryCompleted)
	assert.Equal(t, "SSN", ssn.ProfiledDomain)
	assert.Equal(t, "SsnTokenization", ssn.ProfiledAlgorithm)
	assert.Equal(t, int64(3), ssn.RowCount)
	assert.Equal(t, "TEXT", ssn.IdentifiedColumnType)
	require.NotNil(t, ssn.LastProfiledUpdatedTimestamp)

	audit := f.snapshot(t, "audit")
	require.Len(t, audit, 2)
	assert.True(t, audit["note"].DiscoveryCompleted)
	assert.Nil(t, audit["note"].LastProfiledUpdatedTimestamp)

	entries, total, err := f.repos.EventLog.List(ctx, domain.EventLogFilter{RunID: &res.RunID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "two tables plus the run summary")
	for _, e := range entries {
		assert.Equal(t, domain.OperationDiscovery, e.Operation)
		assert.Equal(t, domain.EventStatusSucceeded, e.Status)
		assert.Equal(t, "crm", e.SourceDataset)
	}
}

func TestDiscover_SecondRunIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params()})
	require.NoError(t, err)
	before := f.snapshot(t, "customers")

	res, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params()})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 1, f.profiler.CallCount())
	for _, o := range res.Tables {
		assert.Equal(t, domain.TableStatusSkipped, o.Status, o.Table.String())
	}
	assert.Equal(t, before, f.snapshot(t, "customers"))
}

func TestDiscover_NewColumnOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params()})
	require.NoError(t, err)
	before := f.snapshot(t, "customers")

	_, err = f.source.DB().Exec(`ALTER TABLE customers ADD COLUMN email TEXT`)
	require.NoError(t, err)

	res, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params()})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	require.Equal(t, 2, f.profiler.CallCount())
	assert.Equal(t, []string{"email"}, keys(f.profiler.Calls[1]))

	after := f.snapshot(t, "customers")
	assert.True(t, after["email"].DiscoveryCompleted)
	for _, col := range []string{"id", "name", "ssn"} {
		assert.Equal(t, before[col], after[col], col)
	}
}

func TestDiscover_ProfileFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.source.DB().Exec(`CREATE TABLE orders (id INTEGER, total REAL); INSERT INTO orders VALUES (1, 9.5);`)
	require.NoError(t, err)

	f.profiler.ProfileFn = func(_ context.Context, cols map[string][]any) (map[string]domain.ColumnProfile, error) {
		if _, ok := cols["ssn"]; ok {
			return nil, errors.New("profileByColumn: status 502")
		}
		return map[string]domain.ColumnProfile{"id": {}, "total": {}}, nil
	}

	res, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params()})
	require.NoError(t, err)
	assert.False(t, res.Succeeded())

	failed, ok := res.Outcome(domain.TableRef{Table: "customers"})
	require.True(t, ok)
	assert.Equal(t, domain.TableStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "status 502")

	orders, ok := res.Outcome(domain.TableRef{Table: "orders"})
	require.True(t, ok)
	assert.Equal(t, domain.TableStatusSucceeded, orders.Status)

	for _, e := range f.snapshot(t, "customers") {
		assert.False(t, e.DiscoveryCompleted, e.Column)
	}

	status := domain.EventStatusFailed
	entries, _, err := f.repos.EventLog.List(ctx, domain.EventLogFilter{RunID: &res.RunID, Status: &status})
	require.NoError(t, err)
	require.Len(t, entries, 2, "the failed table and the run summary")
	for _, e := range entries {
		require.NotNil(t, e.ErrorMessage)
		if e.Table == "" {
			assert.Contains(t, *e.ErrorMessage, "unprofilable: customers")
		} else {
			assert.Equal(t, "customers", e.Table)
			assert.Contains(t, *e.ErrorMessage, "status 502")
		}
	}
}

func TestDiscover_RediscoverResetsEveryColumn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params()})
	require.NoError(t, err)

	p := params()
	p.Rediscover = true
	_, err = f.svc.Discover(ctx, Request{Source: f.source, Params: p})
	require.NoError(t, err)
	require.Equal(t, 2, f.profiler.CallCount())
	assert.Equal(t, []string{"id", "name", "ssn"}, keys(f.profiler.Calls[1]))
}

func TestDiscover_EmptyTablesLeftUndiscovered(t *testing.T) {
	f := newFixture(t)
	p := params()
	p.EmptyTablesDiscovered = false

	res, err := f.svc.Discover(context.Background(), Request{Source: f.source, Params: p, Tables: []domain.TableRef{{Table: "audit"}}})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	for _, e := range f.snapshot(t, "audit") {
		assert.False(t, e.DiscoveryCompleted)
	}
}

func TestDiscover_SampleIsCapped(t *testing.T) {
	f := newFixture(t)
	p := params()
	p.SampleRowCap = 2

	_, err := f.svc.Discover(context.Background(), Request{Source: f.source, Params: p, Tables: []domain.TableRef{{Table: "customers"}}})
	require.NoError(t, err)
	require.Equal(t, 1, f.profiler.CallCount())
	for _, vals := range f.profiler.Calls[0] {
		assert.Len(t, vals, 2)
	}
}

func TestDiscover_UnprofiledColumnsStayPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.profiler.ProfileFn = func(_ context.Context, cols map[string][]any) (map[string]domain.ColumnProfile, error) {
		return map[string]domain.ColumnProfile{"id": {}, "ssn": {Domain: "SSN", Algorithm: "SsnTokenization"}}, nil
	}

	res, err := f.svc.Discover(ctx, Request{Source: f.source, Params: params(), Tables: []domain.TableRef{{Table: "customers"}}})
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	o, ok := res.Outcome(domain.TableRef{Table: "customers"})
	require.True(t, ok)
	assert.Equal(t, domain.TableStatusFailed, o.Status)
	assert.Equal(t, "name", o.Details["unprofiled_columns"])

	customers := f.snapshot(t, "customers")
	assert.True(t, customers["id"].DiscoveryCompleted)
	assert.True(t, customers["ssn"].DiscoveryCompleted)
	assert.False(t, customers["name"].DiscoveryCompleted)

	f.profiler.ProfileFn = func(_ context.Context, cols map[string][]any) (map[string]domain.ColumnProfile, error) {
		return map[string]domain.ColumnProfile{"name": {}}, nil
	}
	res, err = f.svc.Discover(ctx, Request{Source: f.source, Params: params(), Tables: []domain.TableRef{{Table: "customers"}}})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	require.Equal(t, 2, f.profiler.CallCount())
	assert.Equal(t, []string{"name"}, keys(f.profiler.Calls[1]))
	assert.True(t, f.snapshot(t, "customers")["name"].DiscoveryCompleted)
}

// readOnlySource hides the streaming capability of the wrapped source.
type readOnlySource struct {
	domain.SourceConnector
}

func TestSampleRows_StreamingMatchesInMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 4; i <= 200; i++ {
		_, err := f.source.DB().Exec(`INSERT INTO customers VALUES (?, 'n', NULL)`, i)
		require.NoError(t, err)
	}
	ref := domain.TableRef{Table: "customers"}
	cols := []string{"id", "ssn"}

	streamed, err := sampleRows(ctx, f.source, ref, cols, 10, 42)
	require.NoError(t, err)
	loaded, err := sampleRows(ctx, readOnlySource{f.source}, ref, cols, 10, 42)
	require.NoError(t, err)

	assert.Equal(t, 10, streamed.Len())
	assert.Equal(t, cols, streamed.Columns)
	assert.Equal(t, loaded, streamed)
}

func TestDiscover_RequiresSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Discover(context.Background(), Request{})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func keys(m map[string][]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestDiscover_EventLogFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	events := &testutil.MockEventLogRepo{AppendFn: func(_ context.Context, e *domain.EventLogEntry) error {
		if e.Table == "" {
			return errors.New("event log unavailable")
		}
		return nil
	}}
	svc := NewService(f.repos.Ruleset, events, f.profiler, nil, nil)

	res, err := svc.Discover(context.Background(), Request{Source: f.source, Params: params()})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	require.Len(t, events.Entries, 2, "per-table rows are recorded, the summary write failed")
	for _, e := range events.Entries {
		assert.Equal(t, res.RunID, e.RunID)
	}
}
