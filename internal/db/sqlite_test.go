package db

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/domain"
)

func TestRoleDSN(t *testing.T) {
	tests := []struct {
		name       string
		role       role
		busy       time.Duration
		wantBusy   string
		wantTxLock bool
	}{
		{name: "write", role: roleWrite, busy: DefaultBusyTimeout, wantBusy: "_busy_timeout=5000", wantTxLock: true},
		{name: "read", role: roleRead, busy: 250 * time.Millisecond, wantBusy: "_busy_timeout=250", wantTxLock: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.role.dsn("/tmp/meta.sqlite", tt.busy)
			assert.True(t, strings.HasPrefix(dsn, "/tmp/meta.sqlite?"))
			assert.Contains(t, dsn, "_journal_mode=WAL")
			assert.Contains(t, dsn, tt.wantBusy)
			assert.Contains(t, dsn, "_foreign_keys=on")
			if tt.wantTxLock {
				assert.Contains(t, dsn, "_txlock=immediate")
			} else {
				assert.NotContains(t, dsn, "_txlock")
			}
		})
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(context.Background(), "/nonexistent/dir/meta.db", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping metadata store (write)")
}

func TestOpen_PoolSizes(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantRead int
	}{
		{name: "default_read_pool", opts: Options{Migrate: true}, wantRead: DefaultReadPoolSize},
		{name: "configured_read_pool", opts: Options{Migrate: true, ReadPoolSize: 9}, wantRead: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"), tt.opts)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			assert.Equal(t, 1, s.Write.Stats().MaxOpenConnections)
			assert.Equal(t, tt.wantRead, s.Read.Stats().MaxOpenConnections)

			var journalMode string
			require.NoError(t, s.Write.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
			assert.Equal(t, "wal", strings.ToLower(journalMode))
		})
	}
}

func TestOpen_ChecksMetadataTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "unmigrated_store", opts: Options{}, wantErr: "lacks tables discovered_ruleset"},
		{name: "overridden_name_not_bootstrapped", opts: Options{Migrate: true, Tables: domain.MetadataTables{EventLog: "audit_events"}}, wantErr: "audit_events"},
		{name: "migrated_defaults", opts: Options{Migrate: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), path, tt.opts)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, s.Close())
		})
	}
}

func TestRunMigrations(t *testing.T) {
	s := OpenTestStore(t)

	for _, table := range (domain.MetadataTables{}).Names() {
		var n int
		err := s.Read.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}

	v, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	// Re-running is a no-op.
	require.NoError(t, RunMigrations(s.Write))
}

func TestStore_ConcurrentCheckpointWrites(t *testing.T) {
	writeDB, readDB := OpenTestSQLite(t)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if idx%2 == 0 {
				_, errs[idx] = writeDB.Exec(`INSERT INTO adf_type_mapping (dataset, source_type, target_type) VALUES ('t', ?, 'string')`, idx)
				return
			}
			var n int
			errs[idx] = readDB.QueryRow(`SELECT count(*) FROM adf_type_mapping`).Scan(&n)
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		assert.NoError(t, e, "worker %d", i)
	}
}
