package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

var _ Store = (*Local)(nil)

// Local is a Store over a directory.
type Local struct {
	dir string
}

// NewLocal returns a Store rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{dir: filepath.Clean(dir)}
}

func (l *Local) Root() string { return l.dir + string(filepath.Separator) }

func (l *Local) URI(key string) string { return filepath.Join(l.dir, filepath.FromSlash(key)) }

// List walks root/prefix. A missing directory lists as empty.
func (l *Local) List(ctx context.Context, prefix string) ([]Object, error) {
	start := l.URI(prefix)
	var out []Object
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		out = append(out, Object{URI: path, Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", start, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes a file; a missing file is not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.URI(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// EnsureDir creates the directory holding key.
func (l *Local) EnsureDir(key string) error {
	return os.MkdirAll(filepath.Dir(l.URI(key)), 0o755)
}
