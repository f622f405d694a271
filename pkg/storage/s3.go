package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// s3DeleteBatch is the DeleteObjects limit.
const s3DeleteBatch = 1000

// S3API is the subset of *s3.Client the backend calls.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type S3StorageOpts struct {
	Client S3API
	Bucket string
	// Prefix namespaces every key inside a shared bucket.
	Prefix string
	Logger *slog.Logger
}

type s3Storage struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

var (
	_ Backend = &s3Storage{}
	_ Reader  = &s3Storage{}
)

// NewS3 checks that the bucket is reachable with the given credentials.
func NewS3(ctx context.Context, o *S3StorageOpts) (Backend, error) {
	if o == nil || o.Client == nil {
		return nil, newConfigError("s3 client is not set", nil)
	}
	if o.Bucket == "" {
		return nil, newConfigError("s3 bucket is not set", nil)
	}
	prefix, err := NormalizePath(o.Prefix)
	if err != nil {
		return nil, newConfigError("s3 prefix", err)
	}
	if _, err := o.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.Bucket)}); err != nil {
		return nil, classify("head bucket '"+o.Bucket+"'", s3Error(err))
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &s3Storage{
		client:   o.Client,
		uploader: manager.NewUploader(o.Client),
		bucket:   o.Bucket,
		prefix:   prefix,
		logger:   logger.With(slog.String("module", "storage"), slog.String("backend", "s3")),
	}, nil
}

func (s *s3Storage) Put(ctx context.Context, path string, content []byte) error {
	key, err := ParsePath(path)
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key.String())),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		err = classify("upload '"+key.String()+"'", s3Error(err))
		s.logger.Error("put failed", slog.String("path", key.String()), slog.Any("err", err))
		return err
	}
	s.logger.Info("stored", slog.String("path", key.String()), slog.Int("size", len(content)))
	return nil
}

func (s *s3Storage) DeletePrefix(ctx context.Context, prefix string) error {
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

// deletePrefix removes matching keys page by page and returns how many were removed.
func (s *s3Storage) deletePrefix(ctx context.Context, fullPrefix string) (int, error) {
	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, classify("list '"+fullPrefix+"'", s3Error(err))
		}
		var keys []string
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if HasPathPrefix(k, fullPrefix) {
				keys = append(keys, k)
			}
		}
		for start := 0; start < len(keys); start += s3DeleteBatch {
			end := min(start+s3DeleteBatch, len(keys))
			n, err := s.deleteBatch(ctx, keys[start:end])
			deleted += n
			if err != nil {
				return deleted, err
			}
		}
	}
	return deleted, nil
}

func (s *s3Storage) deleteBatch(ctx context.Context, keys []string) (int, error) {
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return 0, classify("delete objects", s3Error(err))
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return len(keys) - len(out.Errors), newTransientError(
			fmt.Sprintf("delete '%s': %s", aws.ToString(first.Key), aws.ToString(first.Message)), nil)
	}
	return len(keys), nil
}

func (s *s3Storage) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key.String())),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, newError(ErrNotFound, key.String(), err)
		}
		return nil, classify("get '"+key.String()+"'", s3Error(err))
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// s3Error tags rejected credentials as ErrAuthentication.
func s3Error(err error) error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newAuthError("s3", err)
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return newAuthError("s3", err)
		}
	}
	return err
}
