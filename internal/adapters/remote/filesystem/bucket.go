// Package filesystem provides a bucket backed by a local directory, such as
// a synced folder or network share. Writes are atomic through rename and the
// file modification time is the server time.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jbctechsolutions/focussync/internal/adapters/remote"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/security"
)

var _ remote.Bucket = (*Bucket)(nil)

const tempPrefix = ".tmp-"

// Bucket stores each key as a file under a root directory.
type Bucket struct {
	paths *security.PathValidator
}

// NewBucket creates the root directory if needed.
func NewBucket(dir string) (*Bucket, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("bucket directory is required")
	}
	paths, err := security.NewPathValidator(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paths.Root(), 0755); err != nil {
		return nil, fmt.Errorf("could not create bucket directory: %w", err)
	}
	return &Bucket{paths: paths}, nil
}

// Dir returns the bucket's root directory.
func (b *Bucket) Dir() string {
	return b.paths.Root()
}

// Put writes data to a temp file and renames it over key.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) (remote.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return remote.ObjectInfo{}, err
	}
	full, err := b.paths.Resolve(key)
	if err != nil {
		return remote.ObjectInfo{}, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return remote.ObjectInfo{}, fmt.Errorf("could not create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return remote.ObjectInfo{}, fmt.Errorf("could not create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return remote.ObjectInfo{}, fmt.Errorf("could not write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return remote.ObjectInfo{}, fmt.Errorf("could not sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return remote.ObjectInfo{}, fmt.Errorf("could not close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return remote.ObjectInfo{}, fmt.Errorf("could not publish %s: %w", key, err)
	}

	st, err := os.Stat(full)
	if err != nil {
		return remote.ObjectInfo{}, fmt.Errorf("could not stat %s: %w", key, err)
	}
	return infoOf(key, st), nil
}

// Get reads the file under key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, remote.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, remote.ObjectInfo{}, err
	}
	full, err := b.paths.Resolve(key)
	if err != nil {
		return nil, remote.ObjectInfo{}, err
	}

	st, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, remote.ObjectInfo{}, fmt.Errorf("%w: %s", domainErrors.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, remote.ObjectInfo{}, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, remote.ObjectInfo{}, fmt.Errorf("%w: %s", domainErrors.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, remote.ObjectInfo{}, err
	}
	return data, infoOf(key, st), nil
}

// Delete removes the file under key.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := b.paths.Resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List walks the directory tree under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]remote.ObjectInfo, error) {
	start := b.paths.Root()
	if dirPart := prefix[:strings.LastIndex(prefix, "/")+1]; dirPart != "" {
		full, err := b.paths.Resolve(dirPart)
		if err != nil {
			return nil, err
		}
		start = full
	}

	var infos []remote.ObjectInfo
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		key, err := b.paths.Rel(p)
		if err != nil || !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		infos = append(infos, infoOf(key, st))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Ping checks that the root directory still exists.
func (b *Bucket) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Stat(b.paths.Root())
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", b.paths.Root())
	}
	return nil
}

func infoOf(key string, st fs.FileInfo) remote.ObjectInfo {
	return remote.ObjectInfo{Key: key, LastModified: st.ModTime().UTC(), Size: st.Size()}
}
