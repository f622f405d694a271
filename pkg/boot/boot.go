package boot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/hashmap-kz/streamcrypt/pkg/codec"
	"github.com/hashmap-kz/streamcrypt/pkg/crypt"
	"github.com/hashmap-kz/streamcrypt/pkg/crypt/aesgcm"

	"github.com/hashmap-kz/xstore/config"
	"github.com/hashmap-kz/xstore/pkg/azblobx"
	"github.com/hashmap-kz/xstore/pkg/drivex"
	"github.com/hashmap-kz/xstore/pkg/gcsx"
	"github.com/hashmap-kz/xstore/pkg/repo"
	"github.com/hashmap-kz/xstore/pkg/s3x"
	"github.com/hashmap-kz/xstore/pkg/sftpx"
	"github.com/hashmap-kz/xstore/pkg/storage"
)

// DecideBackend builds the backend selected by STORAGE_PROVIDER.
// Unknown or empty providers fall back to LOCAL. Configured content transforms
// wrap the backend.
func DecideBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bootLog := logger.With(slog.String("module", "boot"))

	provider, known := cfg.Provider()
	if !known {
		bootLog.Warn("unknown storage provider, falling back to local",
			slog.String("provider", string(cfg.StorageProvider)),
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TreeDuplicateLeaves != "" && provider != config.ProviderGDrive {
		bootLog.Warn("TREE_DUPLICATE_LEAVES has no effect for this provider",
			slog.String("provider", string(provider)),
			slog.String("policy", string(cfg.TreeDuplicateLeaves)),
		)
	}

	backend, err := decideStorage(ctx, cfg, provider, logger, bootLog)
	if err != nil {
		bootLog.Error("storage init failed", slog.String("provider", string(provider)), slog.Any("err", err))
		return nil, err
	}

	compressor, crypter := decideCompressorEncryptor(cfg, bootLog)
	if compressor == nil && crypter == nil {
		return backend, nil
	}
	return repo.New(backend, compressor, crypter, logger), nil
}

func decideStorage(
	ctx context.Context,
	cfg *config.Config,
	provider config.StorageProvider,
	logger, bootLog *slog.Logger,
) (storage.Backend, error) {
	switch provider {
	case config.ProviderS3:
		bootLog.Info("init s3 storage",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("prefix", cfg.S3Prefix),
		)
		client, err := s3x.NewClient(ctx, &s3x.S3Config{
			EndpointURL:     cfg.S3URL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			UsePathStyle:    cfg.S3UsePathStyle,
			DisableSSL:      cfg.S3DisableSSL,
		})
		if err != nil {
			return nil, clientError("s3", err)
		}
		return storage.NewS3(ctx, &storage.S3StorageOpts{
			Client: client,
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
			Logger: logger,
		})

	case config.ProviderGCS:
		bootLog.Info("init gcs storage",
			slog.String("bucket", cfg.GCSBucket),
			slog.String("prefix", cfg.GCSPrefix),
		)
		client, err := gcsx.NewClient(ctx, &gcsx.GCSConfig{CredentialsFile: cfg.GCSCredentialsFile})
		if err != nil {
			return nil, clientError("gcs", err)
		}
		s, err := storage.NewGCS(ctx, &storage.GCSStorageOpts{
			Client:       client,
			Bucket:       cfg.GCSBucket,
			Prefix:       cfg.GCSPrefix,
			ProjectID:    cfg.GCSProjectID,
			CreateBucket: cfg.GCSCreateBucket,
			Concurrency:  cfg.DeleteConcurrency,
			Logger:       logger,
		})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return s, nil

	case config.ProviderAzure:
		bootLog.Info("init azure storage",
			slog.String("container", cfg.AzureContainer),
			slog.String("prefix", cfg.AzurePrefix),
		)
		client, err := azblobx.NewClient(&azblobx.AzureConfig{
			AccountURL:   cfg.AzureAccountURL,
			TenantID:     cfg.AzureTenantID,
			ClientID:     cfg.AzureClientID,
			ClientSecret: cfg.AzureClientSecret,
			Username:     cfg.AzureUsername,
			Password:     cfg.AzurePassword,
		})
		if err != nil {
			return nil, clientError("azure", err)
		}
		return storage.NewAzure(ctx, &storage.AzureStorageOpts{
			Client:      client,
			Container:   cfg.AzureContainer,
			Prefix:      cfg.AzurePrefix,
			Concurrency: cfg.DeleteConcurrency,
			Logger:      logger,
		})

	case config.ProviderSFTP:
		bootLog.Info("init sftp storage",
			slog.String("host", cfg.SFTPHost),
			slog.String("dir", cfg.SFTPBaseDir),
		)
		c, err := sftpx.NewSFTPClient(&sftpx.SFTPConfig{
			Host:           cfg.SFTPHost,
			Port:           strconv.Itoa(cfg.SFTPPort),
			User:           cfg.SFTPUser,
			PkeyPath:       cfg.SFTPPrivateKeyPath,
			Passphrase:     cfg.SFTPPrivateKeyPassphrase,
			KnownHostsFile: cfg.SFTPKnownHosts,
		})
		if err != nil {
			return nil, clientError("sftp", err)
		}
		s, err := storage.NewSFTP(&storage.SFTPStorageOpts{
			Client:  c.SFTPClient(),
			BaseDir: cfg.SFTPBaseDir,
			Closer:  c,
			Logger:  logger,
		})
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		return s, nil

	case config.ProviderGDrive:
		bootLog.Info("init gdrive storage",
			slog.String("folder", cfg.GDriveFolderID),
			slog.Bool("trash", cfg.GDriveUseTrash),
		)
		svc, err := drivex.NewService(ctx, &drivex.DriveConfig{
			CredentialsFile: cfg.GDriveCredentialsFile,
			TokenFile:       cfg.GDriveTokenFile,
		})
		if err != nil {
			return nil, clientError("gdrive", err)
		}
		return storage.NewDrive(ctx, &storage.DriveStorageOpts{
			Service:    svc,
			FolderID:   cfg.GDriveFolderID,
			UseTrash:   cfg.GDriveUseTrash,
			Duplicates: cfg.TreeDuplicateLeaves,
			Logger:     logger,
		})

	default:
		bootLog.Info("init local storage", slog.String("dir", cfg.LocalBaseDir))
		return storage.NewLocal(&storage.LocalStorageOpts{
			BaseDir:      cfg.LocalBaseDir,
			FsyncOnWrite: cfg.LocalFsync,
			Logger:       logger,
		})
	}
}

// clientError classifies failures of the client builders: unreachable hosts are
// transient, everything else (unreadable keys, missing tokens) is configuration.
func clientError(provider string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", provider, storage.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, storage.ErrInvalidConfiguration, err)
}

func decideCompressorEncryptor(cfg *config.Config, bootLog *slog.Logger) (codec.Compressor, crypt.Crypter) {
	var compressor codec.Compressor
	var crypter crypt.Crypter

	if cfg.ContentCompressor != "" {
		bootLog.Info("init compressor", slog.String("compressor", string(cfg.ContentCompressor)))
		switch cfg.ContentCompressor {
		case config.CompressorGzip:
			compressor = &codec.GzipCompressor{}
		case config.CompressorZstd:
			compressor = &codec.ZstdCompressor{}
		}
	}
	if cfg.ContentEncryptor == config.EncryptorAes256G {
		bootLog.Info("init crypter", slog.String("crypter", string(cfg.ContentEncryptor)))
		crypter = aesgcm.NewChunkedGCMCrypter(cfg.ContentEncryptionPass)
	}
	return compressor, crypter
}
