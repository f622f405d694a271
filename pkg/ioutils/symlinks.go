package ioutils

import (
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

// maxSymlinkHops bounds remote resolution when links point at each other.
const maxSymlinkHops = 16

var ErrSymlinkLoop = errors.New("too many levels of symbolic links")

// ResolveSymlinkIfNeededLocalfs returns the target of p when p is a symlink,
// and p itself otherwise.
func ResolveSymlinkIfNeededLocalfs(p string) (string, error) {
	fi, err := os.Lstat(p)
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return p, nil
	}
	return filepath.EvalSymlinks(p)
}

// ResolveSymlinkIfNeededSftp follows remotePath on the server until it
// reaches something that is not a symlink.
func ResolveSymlinkIfNeededSftp(remotePath string, sftpClient *sftp.Client) (string, error) {
	for i := 0; i < maxSymlinkHops; i++ {
		fi, err := sftpClient.Lstat(remotePath)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return remotePath, nil
		}

		target, err := sftpClient.ReadLink(remotePath)
		if err != nil {
			return "", err
		}
		// relative targets are relative to the link's directory
		if !path.IsAbs(target) {
			target = path.Join(path.Dir(remotePath), target)
		}
		remotePath = target
	}
	return "", &os.PathError{Op: "readlink", Path: remotePath, Err: ErrSymlinkLoop}
}
