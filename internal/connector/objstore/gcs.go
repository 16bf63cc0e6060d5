package objstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"maskflow/internal/config"
)

var _ Store = (*GCS)(nil)

// GCS is a Store over a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	loc    Location
}

// NewGCS creates a GCS store. Without a credentials file the client uses
// application default credentials.
func NewGCS(ctx context.Context, loc Location, cfg config.StorageConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCS{client: client, loc: loc}, nil
}

func (g *GCS) Root() string { return g.loc.Root() }

func (g *GCS) URI(key string) string { return g.loc.URI(key) }

// List iterates the objects below root/prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]Object, error) {
	full := joinKey(g.loc.Prefix, prefix)
	it := g.client.Bucket(g.loc.Bucket).Objects(ctx, &storage.Query{Prefix: full})
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", g.loc.URI(prefix), err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		rel := relKey(g.loc.Prefix, attrs.Name)
		out = append(out, Object{URI: g.loc.URI(rel), Key: rel, Size: attrs.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes an object.
func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.loc.Bucket).Object(joinKey(g.loc.Prefix, key)).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", g.URI(key), err)
	}
	return nil
}
