// Package objstore lists and deletes the files behind the file connector on
// local disk, S3-compatible storage, Azure Blob Storage and Google Cloud
// Storage.
package objstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"maskflow/internal/config"
)

// Object is one file under a store root.
type Object struct {
	URI  string // full path as DuckDB reads it
	Key  string // path relative to the store root, slash separated
	Size int64
}

// Store lists and deletes objects below a root URI.
type Store interface {
	// Root returns the root URI with a trailing slash.
	Root() string
	// List returns every object below root/prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes the object with the given key.
	Delete(ctx context.Context, key string) error
	// URI returns the full path of a key.
	URI(key string) string
}

// Location is a parsed storage URI.
type Location struct {
	Scheme string // "file", "s3", "gs", "az" or "abfss"
	Bucket string // bucket or container; empty for file
	Host   string // abfss account host
	Prefix string // key prefix (or local directory), no leading slash for remote schemes
}

// ParseLocation parses a root URI. Bare paths are local.
//
// Supported formats:
//
//	/data/exports, file:///data/exports
//	s3://bucket/prefix
//	gs://bucket/prefix
//	az://container/prefix
//	abfss://container@account.dfs.core.windows.net/prefix
func ParseLocation(root string) (Location, error) {
	if !strings.Contains(root, "://") {
		if root == "" {
			return Location{}, fmt.Errorf("storage root is required")
		}
		return Location{Scheme: "file", Prefix: root}, nil
	}
	u, err := url.Parse(root)
	if err != nil {
		return Location{}, fmt.Errorf("parse storage root %q: %w", root, err)
	}
	loc := Location{Scheme: u.Scheme, Prefix: strings.Trim(u.Path, "/")}
	switch u.Scheme {
	case "file":
		loc.Prefix = u.Path
	case "s3", "gs", "gcs", "az", "azure":
		loc.Bucket = u.Host
		switch u.Scheme {
		case "gcs":
			loc.Scheme = "gs"
		case "azure":
			loc.Scheme = "az"
		}
	case "abfss":
		// Go's url.Parse treats "container" as userinfo and the account
		// endpoint as host.
		if u.User == nil {
			return Location{}, fmt.Errorf("abfss path %q missing container@account component", root)
		}
		loc.Bucket = u.User.Username()
		loc.Host = u.Host
	default:
		return Location{}, fmt.Errorf("unsupported storage scheme %q in %q", u.Scheme, root)
	}
	if loc.Scheme != "file" && loc.Bucket == "" {
		return Location{}, fmt.Errorf("empty bucket in storage root %q", root)
	}
	return loc, nil
}

// URI renders key below the location as a full path.
func (l Location) URI(key string) string {
	full := joinKey(l.Prefix, key)
	switch l.Scheme {
	case "file":
		return full
	case "abfss":
		return fmt.Sprintf("abfss://%s@%s/%s", l.Bucket, l.Host, full)
	default:
		return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, full)
	}
}

// Root renders the location itself with a trailing slash.
func (l Location) Root() string {
	return strings.TrimSuffix(l.URI(""), "/") + "/"
}

// Open returns the Store for a root URI.
func Open(ctx context.Context, root string, cfg config.StorageConfig) (Store, error) {
	loc, err := ParseLocation(root)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case "file":
		return NewLocal(loc.Prefix), nil
	case "s3":
		return NewS3(loc, cfg)
	case "az", "abfss":
		return NewAzure(loc, cfg)
	case "gs":
		return NewGCS(ctx, loc, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", loc.Scheme)
	}
}

func joinKey(prefix, key string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	key = strings.TrimPrefix(key, "/")
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "/" + key
	}
}

// relKey strips the root prefix from a listed key.
func relKey(prefix, full string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return full
	}
	return strings.TrimPrefix(strings.TrimPrefix(full, prefix), "/")
}
