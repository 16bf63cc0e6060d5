package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"maskflow/internal/config"
)

var _ Store = (*Azure)(nil)

// Azure is a Store over a blob container.
type Azure struct {
	client *azblob.Client
	loc    Location
}

// NewAzure creates an Azure store from a connection string, or from an
// account name and shared key.
func NewAzure(loc Location, cfg config.StorageConfig) (*Azure, error) {
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.AzureConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.AzureConnectionString, nil)
	case cfg.AzureAccountName != "" && cfg.AzureAccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
		if err != nil {
			return nil, fmt.Errorf("create shared key credential: %w", err)
		}
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	default:
		return nil, fmt.Errorf("azure connection string or account key is required for %s", loc.Root())
	}
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &Azure{client: client, loc: loc}, nil
}

func (a *Azure) Root() string { return a.loc.Root() }

func (a *Azure) URI(key string) string { return a.loc.URI(key) }

// List pages through the flat blob listing below root/prefix.
func (a *Azure) List(ctx context.Context, prefix string) ([]Object, error) {
	full := joinKey(a.loc.Prefix, prefix)
	pager := a.client.NewListBlobsFlatPager(a.loc.Bucket, &azblob.ListBlobsFlatOptions{Prefix: &full})
	var out []Object
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", a.loc.URI(prefix), err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || strings.HasSuffix(*item.Name, "/") {
				continue
			}
			var size int64
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			rel := relKey(a.loc.Prefix, *item.Name)
			out = append(out, Object{URI: a.loc.URI(rel), Key: rel, Size: size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes a blob.
func (a *Azure) Delete(ctx context.Context, key string) error {
	if _, err := a.client.DeleteBlob(ctx, a.loc.Bucket, joinKey(a.loc.Prefix, key), nil); err != nil {
		return fmt.Errorf("delete %s: %w", a.URI(key), err)
	}
	return nil
}
