//go:build integration

package integration

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/hashmap-kz/xstore/pkg/loggr"
	"github.com/hashmap-kz/xstore/pkg/s3x"
	"github.com/hashmap-kz/xstore/pkg/sftpx"
	"github.com/hashmap-kz/xstore/pkg/storage"
)

const (
	pkeyPath   = "./environ/files/dotfiles/.ssh/id_ed25519"
	bucket     = "problems"
	sftpRoot   = "/home/testuser/xstore"
	minioURL   = "https://localhost:9000"
	sftpHost   = "localhost"
	sftpPort   = "2323"
	sftpUser   = "testuser"
	minioUser  = "minioadmin"
	minioPass  = "minioadmin123"
	minioZone  = "main"
	appLogCode = "integration"
)

func testLogger() *slog.Logger {
	return slog.New(loggr.NewHandler(os.Stderr, appLogCode, slog.LevelDebug))
}

func createS3Client(t *testing.T) *s3.Client {
	t.Helper()
	client, err := s3x.NewClient(context.Background(), &s3x.S3Config{
		EndpointURL:     minioURL,
		AccessKeyID:     minioUser,
		SecretAccessKey: minioPass,
		Region:          minioZone,
		UsePathStyle:    true,
		DisableSSL:      true,
	})
	require.NoError(t, err)

	_, _ = client.CreateBucket(context.Background(), &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	return client
}

func createS3Storage(t *testing.T, prefix string) (*s3.Client, storage.Backend) {
	t.Helper()
	client := createS3Client(t)
	s, err := storage.NewS3(context.Background(), &storage.S3StorageOpts{
		Client: client,
		Bucket: bucket,
		Prefix: prefix,
		Logger: testLogger(),
	})
	require.NoError(t, err)
	return client, s
}

func createSftpClient(t *testing.T) *sftpx.SFTPClient {
	t.Helper()
	if err := os.Chmod(pkeyPath, 0o600); err != nil {
		log.Fatal(err)
	}
	client, err := sftpx.NewSFTPClient(&sftpx.SFTPConfig{
		Host:     sftpHost,
		Port:     sftpPort,
		User:     sftpUser,
		PkeyPath: pkeyPath,
	})
	require.NoError(t, err)
	return client
}

func createSftpStorage(t *testing.T, dir string) (*sftpx.SFTPClient, storage.Backend) {
	t.Helper()
	client := createSftpClient(t)
	s, err := storage.NewSFTP(&storage.SFTPStorageOpts{
		Client:  client.SFTPClient(),
		BaseDir: dir,
		Closer:  client,
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	})
	return client, s
}

func mustGet(t *testing.T, b storage.Backend, path string) []byte {
	t.Helper()
	r, ok := b.(storage.Reader)
	require.True(t, ok)
	data, err := r.Get(context.Background(), path)
	require.NoError(t, err)
	return data
}
