package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T, dir string) (Backend, Reader) {
	t.Helper()
	s, err := NewLocal(&LocalStorageOpts{BaseDir: dir, Logger: discardLogger()})
	require.NoError(t, err)
	r, ok := s.(Reader)
	require.True(t, ok)
	return s, r
}

func TestLocalStorage_PutAndGet(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "test_local/file.txt", []byte("Hello Local Storage")))

	got, err := r.Get(ctx, "test_local/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello Local Storage", string(got))

	onDisk, err := os.ReadFile(filepath.Join(dir, "test_local", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello Local Storage", string(onDisk))
}

func TestLocalStorage_DeleteFolder(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "folder/1.txt", []byte("one")))
	require.NoError(t, s.Put(ctx, "folder/2.txt", []byte("two")))

	require.NoError(t, s.DeletePrefix(ctx, "folder/"))

	_, err := os.Stat(filepath.Join(dir, "folder"))
	assert.True(t, os.IsNotExist(err))
	_, err = r.Get(ctx, "folder/1.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_Overwrite(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a/x", []byte("first")))
	require.NoError(t, s.Put(ctx, "a/x", []byte("second")))

	got, err := r.Get(ctx, "a/x")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Name())
}

func TestLocalStorage_EquivalentPaths(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "/a//b/c", []byte("v")))

	got, err := r.Get(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	_, err = os.Stat(filepath.Join(dir, "a", "b", "c"))
	assert.NoError(t, err)
}

func TestLocalStorage_EmptyContent(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "empty/file", []byte{}))

	got, err := r.Get(ctx, "empty/file")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalStorage_DeleteMissingPrefix(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestLocal(t, dir)

	require.NoError(t, s.DeletePrefix(context.Background(), "missing/deeper"))

	_, err := os.Stat(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_DeleteLeafOnly(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "tests/1/in", []byte("in")))
	require.NoError(t, s.Put(ctx, "tests/1/out", []byte("out")))

	require.NoError(t, s.DeletePrefix(ctx, "tests/1/in"))

	_, err := r.Get(ctx, "tests/1/in")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := r.Get(ctx, "tests/1/out")
	require.NoError(t, err)
	assert.Equal(t, "out", string(got))
}

func TestLocalStorage_DeleteIsSegmentAligned(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a/b/x", []byte("1")))
	require.NoError(t, s.Put(ctx, "a/bc/x", []byte("2")))

	require.NoError(t, s.DeletePrefix(ctx, "a/b"))

	_, err := r.Get(ctx, "a/bc/x")
	assert.NoError(t, err)
}

func TestLocalStorage_TwoInstancesShareRoot(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestLocal(t, dir)
	b, rb := newTestLocal(t, dir)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "x/y/1", []byte("1")))
	require.NoError(t, b.DeletePrefix(ctx, "x"))
	require.NoError(t, a.Put(ctx, "x/y/2", []byte("2")))

	got, err := rb.Get(ctx, "x/y/2")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
	_, err = os.Stat(filepath.Join(dir, "x", "y", "1"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_Fsync(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocal(&LocalStorageOpts{BaseDir: dir, FsyncOnWrite: true, Logger: discardLogger()})
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "synced/file", []byte("data")))

	onDisk, err := os.ReadFile(filepath.Join(dir, "synced", "file"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(onDisk))
}

func TestLocalStorage_SymlinkedBaseDir(t *testing.T) {
	target := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(target, link))

	s, _ := newTestLocal(t, link)
	require.NoError(t, s.Put(context.Background(), "via/link", []byte("x")))

	_, err := os.Stat(filepath.Join(target, "via", "link"))
	assert.NoError(t, err)
}

func TestLocalStorage_ConcurrentPuts(t *testing.T) {
	dir := t.TempDir()
	s, r := newTestLocal(t, dir)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, fmt.Sprintf("cases/%d/in", i%4), []byte(fmt.Sprint(i))))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		_, err := r.Get(ctx, fmt.Sprintf("cases/%d/in", i))
		assert.NoError(t, err)
	}
}

func TestNewLocal_InvalidConfig(t *testing.T) {
	_, err := NewLocal(&LocalStorageOpts{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
