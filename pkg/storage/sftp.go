package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"

	"github.com/hashmap-kz/xstore/pkg/ioutils"
	"github.com/pkg/sftp"
)

type SFTPStorageOpts struct {
	Client  *sftp.Client
	BaseDir string
	// Closer releases the connection behind Client when the backend is closed.
	Closer io.Closer
	Logger *slog.Logger
}

// sftpTree maps tree nodes onto a remote directory. Node IDs are remote slash paths.
type sftpTree struct {
	client *sftp.Client
	root   string
	closer io.Closer
}

var _ Tree = &sftpTree{}

func NewSFTP(o *SFTPStorageOpts) (Backend, error) {
	if o == nil || o.Client == nil {
		return nil, newConfigError("sftp client is not set", nil)
	}
	if o.BaseDir == "" {
		return nil, newConfigError("sftp base dir is not set", nil)
	}
	base := path.Clean(o.BaseDir)
	if err := o.Client.MkdirAll(base); err != nil {
		return nil, classify("create remote base dir", err)
	}
	root, err := ioutils.ResolveSymlinkIfNeededSftp(base, o.Client)
	if err != nil {
		return nil, classify("resolve remote base dir", err)
	}
	return NewTreeStorage(&sftpTree{client: o.Client, root: root, closer: o.Closer}, &TreeOpts{
		Name:   "sftp",
		Logger: o.Logger,
	}), nil
}

func (s *sftpTree) RootID() string {
	return s.root
}

func (s *sftpTree) FindFolder(_ context.Context, parentID, name string) (string, bool, error) {
	p := path.Join(parentID, name)
	info, err := s.client.Stat(p)
	if err != nil {
		if errIsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return p, info.IsDir(), nil
}

func (s *sftpTree) FolderExists(_ context.Context, id string) (bool, error) {
	info, err := s.client.Stat(id)
	if err != nil {
		if errIsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *sftpTree) CreateFolder(_ context.Context, parentID, name string) (string, error) {
	p := path.Join(parentID, name)
	if err := s.client.Mkdir(p); err != nil {
		// servers report an existing dir with a generic failure code
		if info, statErr := s.client.Stat(p); statErr == nil && info.IsDir() {
			return p, nil
		}
		return "", fmt.Errorf("sftp mkdir: %w", err)
	}
	return p, nil
}

func (s *sftpTree) FindLeaves(_ context.Context, parentID, name string) ([]string, error) {
	p := path.Join(parentID, name)
	info, err := s.client.Lstat(p)
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

func (s *sftpTree) CreateLeaf(ctx context.Context, parentID, name string, content []byte) error {
	return s.writeFile(ctx, path.Join(parentID, name), content)
}

func (s *sftpTree) UpdateLeaf(ctx context.Context, id string, content []byte) error {
	return s.writeFile(ctx, id, content)
}

func (s *sftpTree) ReadLeaf(_ context.Context, id string) ([]byte, error) {
	f, err := s.client.Open(id)
	if err != nil {
		return nil, fmt.Errorf("sftp open: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *sftpTree) RemoveFolder(ctx context.Context, id string) error {
	return s.removeAll(ctx, id)
}

func (s *sftpTree) RemoveLeaf(_ context.Context, id string) error {
	if err := s.client.Remove(id); err != nil && !errIsNotExist(err) {
		return fmt.Errorf("sftp remove: %w", err)
	}
	return nil
}

func (s *sftpTree) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// writeFile uploads into a hidden temp file next to dest and renames it over dest.
func (s *sftpTree) writeFile(ctx context.Context, dest string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	suffix, err := randomSuffix()
	if err != nil {
		return err
	}
	tmp := path.Join(path.Dir(dest), "."+path.Base(dest)+".tmp-"+suffix)

	f, err := s.client.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("sftp create: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = s.client.Remove(tmp)
		return fmt.Errorf("sftp write: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = s.client.Remove(tmp)
		return fmt.Errorf("sftp close: %w", err)
	}
	if err := s.client.PosixRename(tmp, dest); err != nil {
		_ = s.client.Remove(tmp)
		return fmt.Errorf("sftp rename: %w", err)
	}
	return nil
}

// removeAll deletes a remote directory bottom-up.
func (s *sftpTree) removeAll(ctx context.Context, dir string) error {
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		if errIsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sftp readdir: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := path.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := s.removeAll(ctx, child); err != nil {
				return err
			}
			continue
		}
		if err := s.client.Remove(child); err != nil && !errIsNotExist(err) {
			return fmt.Errorf("sftp remove: %w", err)
		}
	}
	if err := s.client.RemoveDirectory(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sftp rmdir: %w", err)
	}
	return nil
}

func randomSuffix() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
