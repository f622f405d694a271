package storage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
)

// Tree is a hierarchy reachable only through named parent->child edges.
// Node IDs are opaque to the walker: a file path, a remote path or a remote object ID.
//
// Lookups report absence through found=false or an empty slice, never through an error.
type Tree interface {
	// RootID returns the ID of the node all paths are resolved from.
	RootID() string

	// FindFolder returns the first folder named name directly under parentID.
	FindFolder(ctx context.Context, parentID, name string) (id string, found bool, err error)

	// FolderExists reports whether id still names a live folder.
	FolderExists(ctx context.Context, id string) (bool, error)

	// CreateFolder creates a folder named name under parentID.
	CreateFolder(ctx context.Context, parentID, name string) (id string, err error)

	// FindLeaves returns all non-folder nodes named name directly under parentID,
	// in a stable order.
	FindLeaves(ctx context.Context, parentID, name string) (ids []string, err error)

	CreateLeaf(ctx context.Context, parentID, name string, content []byte) error
	UpdateLeaf(ctx context.Context, id string, content []byte) error
	ReadLeaf(ctx context.Context, id string) ([]byte, error)

	// RemoveFolder removes the folder and everything beneath it.
	RemoveFolder(ctx context.Context, id string) error
	RemoveLeaf(ctx context.Context, id string) error
}

// DuplicateLeaves selects what Put does with surplus leaves sharing a name under one parent.
type DuplicateLeaves string

const (
	// DuplicateLeavesReconcile removes the surplus leaves after the first one is updated.
	DuplicateLeavesReconcile DuplicateLeaves = "reconcile"
	// DuplicateLeavesKeep updates the first leaf and leaves the rest in place.
	DuplicateLeavesKeep DuplicateLeaves = "keep"
)

type TreeOpts struct {
	// Name labels log records, e.g. "local" or "gdrive".
	Name       string
	Duplicates DuplicateLeaves
	Logger     *slog.Logger
}

type folderKey struct {
	parentID string
	name     string
}

type treeStorage struct {
	tree       Tree
	name       string
	duplicates DuplicateLeaves
	logger     *slog.Logger

	// one lock per (parent, name) serializes lookup-or-create of that folder
	locksMu sync.Mutex
	locks   map[folderKey]*keyLock

	cacheMu sync.RWMutex
	cache   map[folderKey]string
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

var (
	_ Backend = &treeStorage{}
	_ Reader  = &treeStorage{}
)

// NewTreeStorage builds a Backend that emulates path semantics by walking tree.
func NewTreeStorage(tree Tree, o *TreeOpts) Backend {
	opts := TreeOpts{}
	if o != nil {
		opts = *o
	}
	if opts.Duplicates == "" {
		opts.Duplicates = DuplicateLeavesReconcile
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &treeStorage{
		tree:       tree,
		name:       opts.Name,
		duplicates: opts.Duplicates,
		logger:     opts.Logger.With(slog.String("module", "storage"), slog.String("backend", opts.Name)),
		locks:      make(map[folderKey]*keyLock),
		cache:      make(map[folderKey]string),
	}
}

func (s *treeStorage) Put(ctx context.Context, path string, content []byte) error {
	key, err := ParsePath(path)
	if err != nil {
		return err
	}
	if err := s.put(ctx, key, content); err != nil {
		// cached IDs may point at folders removed behind our back
		s.dropCache()
		s.logger.Error("put failed", slog.String("path", key.String()), slog.Any("err", err))
		return err
	}
	return nil
}

func (s *treeStorage) put(ctx context.Context, key PathKey, content []byte) error {
	if err := ctx.Err(); err != nil {
		return classify("put '"+key.String()+"'", err)
	}
	parentID, err := s.materialize(ctx, key.Segments)
	if err != nil {
		return err
	}

	leaves, err := s.tree.FindLeaves(ctx, parentID, key.Leaf)
	if err != nil {
		return classify("find leaf '"+key.Leaf+"'", err)
	}
	if content == nil {
		content = []byte{}
	}

	if len(leaves) == 0 {
		if err := s.tree.CreateLeaf(ctx, parentID, key.Leaf, content); err != nil {
			return classify("create leaf '"+key.String()+"'", err)
		}
		s.logger.Info("created", slog.String("path", key.String()), slog.Int("size", len(content)))
		return nil
	}

	if err := s.tree.UpdateLeaf(ctx, leaves[0], content); err != nil {
		return classify("update leaf '"+key.String()+"'", err)
	}
	s.logger.Info("updated",
		slog.String("path", key.String()),
		slog.String("id", leaves[0]),
		slog.Int("size", len(content)),
	)
	return s.handleDuplicates(ctx, key, leaves[1:])
}

func (s *treeStorage) handleDuplicates(ctx context.Context, key PathKey, surplus []string) error {
	if len(surplus) == 0 {
		return nil
	}
	if s.duplicates == DuplicateLeavesKeep {
		s.logger.Warn("duplicate leaves left in place",
			slog.String("path", key.String()),
			slog.Int("count", len(surplus)),
		)
		return nil
	}
	for _, id := range surplus {
		if err := ctx.Err(); err != nil {
			return classify("remove duplicate of '"+key.String()+"'", err)
		}
		if err := s.tree.RemoveLeaf(ctx, id); err != nil {
			return classify("remove duplicate of '"+key.String()+"'", err)
		}
	}
	s.logger.Warn("duplicate leaves removed",
		slog.String("path", key.String()),
		slog.Int("count", len(surplus)),
	)
	return nil
}

// materialize resolves segments from the root, creating missing folders on the way.
// Cached IDs are trusted only after the deepest one is confirmed to exist,
// since other callers may remove folders at any time.
func (s *treeStorage) materialize(ctx context.Context, segments []string) (string, error) {
	currentID, depth := s.cachedPrefix(segments)
	if depth > 0 {
		exists, err := s.tree.FolderExists(ctx, currentID)
		if err != nil {
			return "", classify("check folder '"+strings.Join(segments[:depth], "/")+"'", err)
		}
		if !exists {
			s.logger.Debug("cached folder is gone, resolving again",
				slog.String("path", strings.Join(segments[:depth], "/")),
				slog.String("id", currentID),
			)
			s.dropCache()
			currentID, depth = s.tree.RootID(), 0
		}
	}
	for _, name := range segments[depth:] {
		if err := ctx.Err(); err != nil {
			return "", classify("resolve folder '"+name+"'", err)
		}
		id, err := s.folderOrCreate(ctx, currentID, name)
		if err != nil {
			return "", err
		}
		currentID = id
	}
	return currentID, nil
}

// cachedPrefix follows the cache from the root as deep as it goes.
func (s *treeStorage) cachedPrefix(segments []string) (string, int) {
	currentID := s.tree.RootID()
	for i, name := range segments {
		id, ok := s.cached(folderKey{parentID: currentID, name: name})
		if !ok {
			return currentID, i
		}
		currentID = id
	}
	return currentID, len(segments)
}

func (s *treeStorage) folderOrCreate(ctx context.Context, parentID, name string) (string, error) {
	k := folderKey{parentID: parentID, name: name}
	if id, ok := s.cached(k); ok {
		return id, nil
	}

	unlock := s.lock(k)
	defer unlock()

	// another caller may have created it while we waited
	if id, ok := s.cached(k); ok {
		return id, nil
	}
	id, found, err := s.tree.FindFolder(ctx, parentID, name)
	if err != nil {
		return "", classify("find folder '"+name+"'", err)
	}
	if !found {
		id, err = s.tree.CreateFolder(ctx, parentID, name)
		if err != nil {
			return "", classify("create folder '"+name+"'", err)
		}
		s.logger.Debug("folder created", slog.String("name", name), slog.String("id", id))
	}
	s.store(k, id)
	return id, nil
}

func (s *treeStorage) DeletePrefix(ctx context.Context, prefix string) error {
	p, err := normalizePrefix(prefix)
	if err != nil {
		return err
	}
	// folder IDs below the prefix are about to disappear
	defer s.dropCache()

	key, _ := ParsePath(p)
	if err := s.deletePrefix(ctx, key); err != nil {
		s.logger.Error("delete failed", slog.String("prefix", p), slog.Any("err", err))
		return err
	}
	return nil
}

func (s *treeStorage) deletePrefix(ctx context.Context, key PathKey) error {
	parentID, found, err := s.resolve(ctx, key.Segments)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Info("nothing to delete", slog.String("prefix", key.String()))
		return nil
	}

	// duplicate folders left by other processes are removed one by one
	removed := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return classify("delete '"+key.String()+"'", err)
		}
		folderID, found, err := s.tree.FindFolder(ctx, parentID, key.Leaf)
		if err != nil {
			return classify("find folder '"+key.Leaf+"'", err)
		}
		if !found {
			break
		}
		if _, ok := removed[folderID]; ok {
			// listing lags behind the removal
			return newTransientError("folder '"+key.String()+"' ("+folderID+") still listed after removal", nil)
		}
		if err := s.tree.RemoveFolder(ctx, folderID); err != nil {
			return classify("remove folder '"+key.String()+"'", err)
		}
		removed[folderID] = struct{}{}
		s.logger.Info("deleted folder", slog.String("prefix", key.String()), slog.String("id", folderID))
	}
	hasFolder := len(removed) > 0

	// a leaf may share the name with a folder on stores that allow it
	leaves, err := s.tree.FindLeaves(ctx, parentID, key.Leaf)
	if err != nil {
		return classify("find leaf '"+key.Leaf+"'", err)
	}
	for _, id := range leaves {
		if err := ctx.Err(); err != nil {
			return classify("delete '"+key.String()+"'", err)
		}
		if err := s.tree.RemoveLeaf(ctx, id); err != nil {
			return classify("remove leaf '"+key.String()+"'", err)
		}
	}
	if len(leaves) > 0 {
		s.logger.Info("deleted leaf", slog.String("prefix", key.String()), slog.Int("count", len(leaves)))
	}
	if !hasFolder && len(leaves) == 0 {
		s.logger.Info("nothing to delete", slog.String("prefix", key.String()))
	}
	return nil
}

// resolve walks existing folders only. found=false means some segment is missing.
func (s *treeStorage) resolve(ctx context.Context, segments []string) (string, bool, error) {
	currentID := s.tree.RootID()
	for _, name := range segments {
		if err := ctx.Err(); err != nil {
			return "", false, classify("resolve folder '"+name+"'", err)
		}
		id, found, err := s.tree.FindFolder(ctx, currentID, name)
		if err != nil {
			return "", false, classify("find folder '"+name+"'", err)
		}
		if !found {
			return "", false, nil
		}
		currentID = id
	}
	return currentID, true, nil
}

func (s *treeStorage) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, classify("get '"+key.String()+"'", err)
	}
	parentID, found, err := s.resolve(ctx, key.Segments)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, newError(ErrNotFound, key.String(), nil)
	}
	leaves, err := s.tree.FindLeaves(ctx, parentID, key.Leaf)
	if err != nil {
		return nil, classify("find leaf '"+key.Leaf+"'", err)
	}
	if len(leaves) == 0 {
		return nil, newError(ErrNotFound, key.String(), nil)
	}
	content, err := s.tree.ReadLeaf(ctx, leaves[0])
	if err != nil {
		return nil, classify("read leaf '"+key.String()+"'", err)
	}
	return content, nil
}

// Close releases the tree driver when it holds a connection.
func (s *treeStorage) Close() error {
	if c, ok := s.tree.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// folder lock / cache helpers

func (s *treeStorage) lock(k folderKey) func() {
	s.locksMu.Lock()
	l, ok := s.locks[k]
	if !ok {
		l = &keyLock{}
		s.locks[k] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, k)
		}
		s.locksMu.Unlock()
	}
}

func (s *treeStorage) cached(k folderKey) (string, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	id, ok := s.cache[k]
	return id, ok
}

func (s *treeStorage) store(k folderKey, id string) {
	s.cacheMu.Lock()
	s.cache[k] = id
	s.cacheMu.Unlock()
}

func (s *treeStorage) dropCache() {
	s.cacheMu.Lock()
	s.cache = make(map[folderKey]string)
	s.cacheMu.Unlock()
}

// errIsNotExist is shared by the filesystem drivers.
func errIsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
