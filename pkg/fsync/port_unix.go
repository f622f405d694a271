//go:build !windows

package fsync

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// File flushes the contents of f to stable storage.
func File(f *os.File) error {
	return syscall.Fsync(int(f.Fd()))
}

// Dir flushes directory entries, making creates and renames inside dirPath durable.
func Dir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("cannot open dir %s: %w", dirPath, err)
	}
	if err := File(d); err != nil {
		_ = d.Close()
		return fmt.Errorf("cannot fsync dir %s: %w", dirPath, err)
	}
	return d.Close()
}

// ParentDir flushes the directory holding p.
func ParentDir(p string) error {
	return Dir(filepath.Dir(p))
}
