package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/hashmap-kz/xstore/pkg/concur"
)

type AzureStorageOpts struct {
	Client    *azblob.Client
	Container string
	// Prefix namespaces every blob name inside a shared container.
	Prefix string
	// Concurrency bounds parallel per-blob deletes.
	Concurrency int
	Logger      *slog.Logger
}

type azureStorage struct {
	client      *azblob.Client
	container   string
	prefix      string
	concurrency int
	logger      *slog.Logger
}

var (
	_ Backend = &azureStorage{}
	_ Reader  = &azureStorage{}
)

func NewAzure(ctx context.Context, o *AzureStorageOpts) (Backend, error) {
	if o == nil || o.Client == nil {
		return nil, newConfigError("azure client is not set", nil)
	}
	if o.Container == "" {
		return nil, newConfigError("azure container is not set", nil)
	}
	prefix, err := NormalizePath(o.Prefix)
	if err != nil {
		return nil, newConfigError("azure prefix", err)
	}
	_, err = o.Client.ServiceClient().NewContainerClient(o.Container).GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return nil, newConfigError("container '"+o.Container+"' does not exist", err)
	}
	if err != nil {
		return nil, classify("container '"+o.Container+"'", azureError(err))
	}
	concurrency := o.Concurrency
	if concurrency <= 0 {
		concurrency = defaultDeleteParallel
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &azureStorage{
		client:      o.Client,
		container:   o.Container,
		prefix:      prefix,
		concurrency: concurrency,
		logger:      logger.With(slog.String("module", "storage"), slog.String("backend", "azure")),
	}, nil
}

func (s *azureStorage) Put(ctx context.Context, path string, content []byte) error {
	key, err := ParsePath(path)
	if err != nil {
		return err
	}
	_, err = s.client.UploadBuffer(ctx, s.container, joinKey(s.prefix, key.String()), content, nil)
	if err != nil {
		err = classify("upload '"+key.String()+"'", azureError(err))
		s.logger.Error("put failed", slog.String("path", key.String()), slog.Any("err", err))
		return err
	}
	s.logger.Info("stored", slog.String("path", key.String()), slog.Int("size", len(content)))
	return nil
}

func (s *azureStorage) DeletePrefix(ctx context.Context, prefix string) error {
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

func (s *azureStorage) deletePrefix(ctx context.Context, fullPrefix string) (int, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})
	deleted := 0
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return deleted, classify("list '"+fullPrefix+"'", azureError(err))
		}
		var names []string
		if page.Segment != nil {
			for _, item := range page.Segment.BlobItems {
				if item.Name != nil && HasPathPrefix(*item.Name, fullPrefix) {
					names = append(names, *item.Name)
				}
			}
		}
		n, err := concur.ForEach(ctx, s.concurrency, names, s.deleteBlob)
		deleted += n
		if err != nil {
			return deleted, classify("delete blobs", azureError(err))
		}
	}
	return deleted, nil
}

func (s *azureStorage) deleteBlob(ctx context.Context, name string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}

func (s *azureStorage) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, joinKey(s.prefix, key.String()), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, newError(ErrNotFound, key.String(), err)
		}
		return nil, classify("get '"+key.String()+"'", azureError(err))
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// azureError tags rejected credentials as ErrAuthentication.
func azureError(err error) error {
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return newAuthError("azure", err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newAuthError("azure", err)
		}
	}
	return err
}
