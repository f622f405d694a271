package storage

import (
	"strings"
)

// PathKey is a normalized logical path: directory segments plus a leaf name.
// Empty components produced by leading, trailing or doubled slashes are dropped.
type PathKey struct {
	Segments []string
	Leaf     string
}

// ParsePath normalizes p into a PathKey.
// It fails with ErrInvalidPath when nothing is left after normalization
// or when a component is "." or "..".
func ParsePath(p string) (PathKey, error) {
	parts, err := splitPath(p)
	if err != nil {
		return PathKey{}, err
	}
	if len(parts) == 0 {
		return PathKey{}, newPathError("path " + quote(p) + " has no leaf")
	}
	return PathKey{
		Segments: parts[:len(parts)-1],
		Leaf:     parts[len(parts)-1],
	}, nil
}

// Parts returns segments followed by the leaf.
func (k PathKey) Parts() []string {
	parts := make([]string, 0, len(k.Segments)+1)
	parts = append(parts, k.Segments...)
	return append(parts, k.Leaf)
}

// Dir returns the slash-joined segments, "" for a top-level leaf.
func (k PathKey) Dir() string {
	return strings.Join(k.Segments, "/")
}

func (k PathKey) String() string {
	return strings.Join(k.Parts(), "/")
}

// NormalizePath returns the canonical form of p: no leading, trailing or doubled slashes.
func NormalizePath(p string) (string, error) {
	parts, err := splitPath(p)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, "/"), nil
}

// HasPathPrefix reports whether key lies at or under prefix, comparing whole segments:
// "a/b" is a prefix of "a/b" and "a/b/c", never of "a/bc".
func HasPathPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	return len(key) == len(prefix) || key[len(prefix)] == '/'
}

func splitPath(p string) ([]string, error) {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s == "" {
			continue
		}
		if s == "." || s == ".." {
			return nil, newPathError("relative component in " + quote(p))
		}
		parts = append(parts, s)
	}
	return parts, nil
}

func quote(s string) string {
	return "'" + s + "'"
}
