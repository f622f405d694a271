//go:build windows

package fsync

import (
	"os"
	"syscall"
)

func File(f *os.File) error {
	return syscall.FlushFileBuffers(syscall.Handle(f.Fd()))
}

// Dir is a no-op: directory handles cannot be flushed on windows.
func Dir(string) error {
	return nil
}

func ParentDir(string) error {
	return nil
}
