package objstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/config"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		want    Location
		wantURI string
	}{
		{"bare_path", "/data/out", Location{Scheme: "file", Prefix: "/data/out"}, "/data/out/orders/part.csv"},
		{"file_scheme", "file:///data/out", Location{Scheme: "file", Prefix: "/data/out"}, "/data/out/orders/part.csv"},
		{"s3", "s3://lake/raw/crm/", Location{Scheme: "s3", Bucket: "lake", Prefix: "raw/crm"}, "s3://lake/raw/crm/orders/part.csv"},
		{"s3_bucket_only", "s3://lake", Location{Scheme: "s3", Bucket: "lake"}, "s3://lake/orders/part.csv"},
		{"gcs_alias", "gcs://lake/x", Location{Scheme: "gs", Bucket: "lake", Prefix: "x"}, "gs://lake/x/orders/part.csv"},
		{"az", "az://container/p", Location{Scheme: "az", Bucket: "container", Prefix: "p"}, "az://container/p/orders/part.csv"},
		{
			"abfss", "abfss://container@acct.dfs.core.windows.net/p",
			Location{Scheme: "abfss", Bucket: "container", Host: "acct.dfs.core.windows.net", Prefix: "p"},
			"abfss://container@acct.dfs.core.windows.net/p/orders/part.csv",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			loc, err := ParseLocation(tc.root)
			require.NoError(t, err)
			assert.Equal(t, tc.want, loc)
			assert.Equal(t, tc.wantURI, loc.URI("orders/part.csv"))
		})
	}
}

func TestParseLocation_Errors(t *testing.T) {
	for _, root := range []string{"", "ftp://host/x", "s3:///nobucket", "abfss://acct.dfs.core.windows.net/p"} {
		t.Run(root, func(t *testing.T) {
			_, err := ParseLocation(root)
			require.Error(t, err)
		})
	}
}

func TestOpen_RemoteRequiresCredentials(t *testing.T) {
	_, err := Open(context.Background(), "s3://lake/x", config.StorageConfig{})
	require.Error(t, err)
	_, err = Open(context.Background(), "az://c/x", config.StorageConfig{})
	require.Error(t, err)
}

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "orders"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders", "b.csv"), []byte("id\n1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders", "a.csv"), []byte("id\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.csv"), []byte("x"), 0o644))

	store, err := Open(context.Background(), dir, config.StorageConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	keys := make([]string, len(all))
	for i, o := range all {
		keys[i] = o.Key
	}
	assert.Equal(t, []string{"customers.csv", "orders/a.csv", "orders/b.csv"}, keys)
	assert.Equal(t, int64(5), all[2].Size)

	orders, err := store.List(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	missing, err := store.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, store.Delete(ctx, "orders/a.csv"))
	require.NoError(t, store.Delete(ctx, "orders/a.csv"))
	orders, err = store.List(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
