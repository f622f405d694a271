package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashmap-kz/xstore/pkg/fsync"
	"github.com/hashmap-kz/xstore/pkg/ioutils"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

type LocalStorageOpts struct {
	BaseDir      string
	FsyncOnWrite bool
	Logger       *slog.Logger
}

// localTree maps tree nodes onto directories and files under baseDir.
// Node IDs are absolute filesystem paths.
type localTree struct {
	baseDir      string
	fsyncOnWrite bool
}

var _ Tree = &localTree{}

// NewLocal creates the base directory if needed and returns a tree-walking
// Backend whose on-disk layout mirrors logical paths exactly.
func NewLocal(o *LocalStorageOpts) (Backend, error) {
	if o == nil || o.BaseDir == "" {
		return nil, newConfigError("local base dir is not set", nil)
	}
	if err := os.MkdirAll(o.BaseDir, dirPerm); err != nil {
		return nil, newConfigError("create base dir", err)
	}
	abs, err := filepath.Abs(o.BaseDir)
	if err != nil {
		return nil, newConfigError("resolve base dir", err)
	}
	baseDir, err := ioutils.ResolveSymlinkIfNeededLocalfs(abs)
	if err != nil {
		return nil, newConfigError("resolve base dir", err)
	}
	return NewTreeStorage(&localTree{baseDir: baseDir, fsyncOnWrite: o.FsyncOnWrite}, &TreeOpts{
		Name:   "local",
		Logger: o.Logger,
	}), nil
}

func (l *localTree) RootID() string {
	return l.baseDir
}

func (l *localTree) FindFolder(_ context.Context, parentID, name string) (string, bool, error) {
	p := filepath.Join(parentID, name)
	info, err := os.Stat(p)
	if err != nil {
		if errIsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return p, info.IsDir(), nil
}

func (l *localTree) FolderExists(_ context.Context, id string) (bool, error) {
	info, err := os.Stat(id)
	if err != nil {
		if errIsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (l *localTree) CreateFolder(_ context.Context, parentID, name string) (string, error) {
	p := filepath.Join(parentID, name)
	err := os.Mkdir(p, dirPerm)
	if err == nil {
		if l.fsyncOnWrite {
			if err := fsync.ParentDir(p); err != nil {
				return "", err
			}
		}
		return p, nil
	}
	if errors.Is(err, fs.ErrExist) {
		// created concurrently by another process
		if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
			return p, nil
		}
	}
	return "", err
}

func (l *localTree) FindLeaves(_ context.Context, parentID, name string) ([]string, error) {
	p := filepath.Join(parentID, name)
	info, err := os.Lstat(p)
	if err != nil {
		if errIsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}
	return []string{p}, nil
}

func (l *localTree) CreateLeaf(ctx context.Context, parentID, name string, content []byte) error {
	return l.writeFile(ctx, filepath.Join(parentID, name), content)
}

func (l *localTree) UpdateLeaf(ctx context.Context, id string, content []byte) error {
	return l.writeFile(ctx, id, content)
}

func (l *localTree) ReadLeaf(_ context.Context, id string) ([]byte, error) {
	return os.ReadFile(id)
}

func (l *localTree) RemoveFolder(_ context.Context, id string) error {
	return os.RemoveAll(id)
}

func (l *localTree) RemoveLeaf(_ context.Context, id string) error {
	if err := os.Remove(id); err != nil && !errIsNotExist(err) {
		return err
	}
	return nil
}

// writeFile replaces dest through a temp file in the same directory and a rename,
// so readers see either the old or the new content.
func (l *localTree) writeFile(ctx context.Context, dest string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(content); err != nil {
		_ = f.Close() // ignore close error if we already have a write error
		_ = os.Remove(tmp)
		return err
	}
	if l.fsyncOnWrite {
		if err := fsync.File(f); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if l.fsyncOnWrite {
		return fsync.Dir(dir)
	}
	return nil
}
