// Package storage provides StorageAdapter implementations and the Open
// dispatcher that picks one from a target string.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// Local writes variants into a directory on the local filesystem.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter rooted at dir.  The directory is
// created by the first Put, so opening a missing target has no side effects.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("local storage: %s is not a directory", dir)
	}
	return &Local{rootDir: dir, permissions: perm}, nil
}

func (l *Local) absPath(key core.StorageKey) string {
	return filepath.Join(l.rootDir, filepath.Clean(key.Path))
}

// Location returns the absolute-or-relative file path key is written to.
func (l *Local) Location(key core.StorageKey) string { return l.absPath(key) }

// Put writes r to a temporary file next to the destination and renames it
// into place, so a failing job never leaves a truncated variant behind and
// never touches a sibling's file.
func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, _ map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}

	path := l.absPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.open", err)
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	if _, err = io.Copy(f, r); err != nil {
		cleanup()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.copy", err)
	}
	if err = f.Chmod(l.permissions); err != nil {
		cleanup()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.chmod", err)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.close", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.rename", err)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	_, err := os.Stat(l.absPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}

var _ core.StorageAdapter = (*Local)(nil)
