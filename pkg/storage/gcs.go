package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/hashmap-kz/xstore/pkg/concur"
)

const (
	gcsPageSize           = 1000
	defaultDeleteParallel = 8
)

type GCSStorageOpts struct {
	Client *gcs.Client
	Bucket string
	// Prefix namespaces every key inside a shared bucket.
	Prefix string
	// ProjectID and CreateBucket allow creating a missing bucket at startup.
	ProjectID    string
	CreateBucket bool
	// Concurrency bounds parallel per-object deletes.
	Concurrency int
	Logger      *slog.Logger
}

type gcsStorage struct {
	client      *gcs.Client
	bucket      *gcs.BucketHandle
	prefix      string
	concurrency int
	logger      *slog.Logger
}

var (
	_ Backend = &gcsStorage{}
	_ Reader  = &gcsStorage{}
)

func NewGCS(ctx context.Context, o *GCSStorageOpts) (Backend, error) {
	if o == nil || o.Client == nil {
		return nil, newConfigError("gcs client is not set", nil)
	}
	if o.Bucket == "" {
		return nil, newConfigError("gcs bucket is not set", nil)
	}
	prefix, err := NormalizePath(o.Prefix)
	if err != nil {
		return nil, newConfigError("gcs prefix", err)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("module", "storage"), slog.String("backend", "gcs"))

	bucket := o.Client.Bucket(o.Bucket)
	if _, err := bucket.Attrs(ctx); err != nil {
		if !errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, classify("bucket '"+o.Bucket+"'", googleError(err))
		}
		if !o.CreateBucket {
			return nil, newConfigError("bucket '"+o.Bucket+"' does not exist", err)
		}
		if o.ProjectID == "" {
			return nil, newConfigError("gcs project id is required to create a bucket", nil)
		}
		if err := bucket.Create(ctx, o.ProjectID, nil); err != nil {
			return nil, classify("create bucket '"+o.Bucket+"'", googleError(err))
		}
		logger.Info("bucket created", slog.String("bucket", o.Bucket))
	}

	concurrency := o.Concurrency
	if concurrency <= 0 {
		concurrency = defaultDeleteParallel
	}
	return &gcsStorage{
		client:      o.Client,
		bucket:      bucket,
		prefix:      prefix,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (s *gcsStorage) Put(ctx context.Context, path string, content []byte) error {
	key, err := ParsePath(path)
	if err != nil {
		return err
	}
	if err := s.upload(ctx, joinKey(s.prefix, key.String()), content); err != nil {
		err = classify("upload '"+key.String()+"'", googleError(err))
		s.logger.Error("put failed", slog.String("path", key.String()), slog.Any("err", err))
		return err
	}
	s.logger.Info("stored", slog.String("path", key.String()), slog.Int("size", len(content)))
	return nil
}

func (s *gcsStorage) upload(ctx context.Context, name string, content []byte) error {
	// cancelling the context is the only way to abort a GCS writer
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(content); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *gcsStorage) DeletePrefix(ctx context.Context, prefix string) error {
	p, err := normalizePrefix(prefix)
	if err != nil {
		return err
	}
	deleted, err := s.deletePrefix(ctx, joinKey(s.prefix, p))
	if err != nil {
		s.logger.Error("delete failed",
			slog.String("prefix", p),
			slog.Int("deleted", deleted),
			slog.Any("err", err),
		)
		return err
	}
	if deleted == 0 {
		s.logger.Info("nothing to delete", slog.String("prefix", p))
		return nil
	}
	s.logger.Info("deleted", slog.String("prefix", p), slog.Int("count", deleted))
	return nil
}

func (s *gcsStorage) deletePrefix(ctx context.Context, fullPrefix string) (int, error) {
	q := &gcs.Query{Prefix: fullPrefix}
	if err := q.SetAttrSelection([]string{"Name"}); err != nil {
		return 0, err
	}
	pager := iterator.NewPager(s.bucket.Objects(ctx, q), gcsPageSize, "")

	deleted := 0
	for {
		var page []*gcs.ObjectAttrs
		next, err := pager.NextPage(&page)
		if err != nil {
			return deleted, classify("list '"+fullPrefix+"'", googleError(err))
		}
		var names []string
		for _, attrs := range page {
			if HasPathPrefix(attrs.Name, fullPrefix) {
				names = append(names, attrs.Name)
			}
		}
		n, err := concur.ForEach(ctx, s.concurrency, names, s.deleteObject)
		deleted += n
		if err != nil {
			return deleted, classify("delete objects", googleError(err))
		}
		if next == "" {
			return deleted, nil
		}
	}
}

func (s *gcsStorage) deleteObject(ctx context.Context, name string) error {
	err := s.bucket.Object(name).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *gcsStorage) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(joinKey(s.prefix, key.String())).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, newError(ErrNotFound, key.String(), err)
		}
		return nil, classify("get '"+key.String()+"'", googleError(err))
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *gcsStorage) Close() error {
	return s.client.Close()
}
