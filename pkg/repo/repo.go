package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashmap-kz/streamcrypt/pkg/codec"
	"github.com/hashmap-kz/streamcrypt/pkg/crypt"
	"github.com/hashmap-kz/streamcrypt/pkg/pipe"

	"github.com/hashmap-kz/xstore/pkg/common"
	"github.com/hashmap-kz/xstore/pkg/storage"
)

// ErrNotReadable is returned by Get when the wrapped backend cannot read content back.
var ErrNotReadable = errors.New("backend does not support reads")

// Repo compresses and encrypts content on the way into a Backend and reverses
// both on the way out. Keys are stored under their logical names, unchanged.
type Repo struct {
	backend    storage.Backend  // required
	compressor codec.Compressor // optional
	crypter    crypt.Crypter    // optional
	logger     *slog.Logger
}

var (
	_ storage.Backend = &Repo{}
	_ storage.Reader  = &Repo{}
)

func New(b storage.Backend, compressor codec.Compressor, crypter crypt.Crypter, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{
		backend:    b,
		compressor: compressor,
		crypter:    crypter,
		logger:     logger.With(slog.String("module", "repo")),
	}
}

func (repo *Repo) Put(ctx context.Context, path string, content []byte) error {
	encoded, err := repo.encode(content)
	if err != nil {
		return fmt.Errorf("encode '%s': %w", path, err)
	}
	repo.logger.Debug("encoded",
		slog.String("path", path),
		slog.String("sha256", common.Sha256FromBytes(content)),
		slog.Int("plain", len(content)),
		slog.Int("stored", len(encoded)),
	)
	return repo.backend.Put(ctx, path, encoded)
}

func (repo *Repo) DeletePrefix(ctx context.Context, prefix string) error {
	return repo.backend.DeletePrefix(ctx, prefix)
}

func (repo *Repo) Get(ctx context.Context, path string) ([]byte, error) {
	r, ok := repo.backend.(storage.Reader)
	if !ok {
		return nil, ErrNotReadable
	}
	raw, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	content, err := repo.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode '%s': %w", path, err)
	}
	return content, nil
}

func (repo *Repo) Close() error {
	if c, ok := repo.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (repo *Repo) encode(content []byte) ([]byte, error) {
	if repo.compressor == nil && repo.crypter == nil {
		return content, nil
	}
	r, err := pipe.CompressAndEncryptOptional(bytes.NewReader(content), repo.compressor, repo.crypter)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (repo *Repo) decode(raw []byte) ([]byte, error) {
	if repo.compressor == nil && repo.crypter == nil {
		return raw, nil
	}
	var dec codec.Decompressor
	if repo.compressor != nil {
		dec = codec.GetDecompressor(repo.compressor)
		if dec == nil {
			return nil, fmt.Errorf("cannot decide decompressor for: %s", repo.compressor.FileExtension())
		}
	}
	rc, err := pipe.DecryptAndDecompressOptional(bytes.NewReader(raw), repo.crypter, dec)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (repo *Repo) CompressorName() string {
	if repo.compressor != nil {
		return repo.compressor.Name()
	}
	return ""
}

func (repo *Repo) EncryptorName() string {
	if repo.crypter != nil {
		return repo.crypter.Name()
	}
	return ""
}
