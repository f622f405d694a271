package storage

import (
	"context"
)

// Backend stores content at slash-delimited logical paths.
// Implementations are safe for concurrent use.
type Backend interface {
	// Put stores content at path, replacing whatever was there.
	Put(ctx context.Context, path string, content []byte) error

	// DeletePrefix removes everything at or under prefix. A prefix that matches nothing is not an error.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Reader is implemented by backends that can return stored content.
type Reader interface {
	// Get returns the content at path, or an error wrapping ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
}

// normalizePrefix validates a DeletePrefix argument. The empty prefix would
// address the whole store and is rejected.
func normalizePrefix(prefix string) (string, error) {
	p, err := NormalizePath(prefix)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", newPathError("empty prefix")
	}
	return p, nil
}

// joinKey places a normalized path under an optional backend-wide key prefix.
func joinKey(base, p string) string {
	if base == "" {
		return p
	}
	return base + "/" + p
}
