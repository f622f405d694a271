package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hashmap-kz/xstore/pkg/storage"
)

type (
	StorageProvider   string
	ContentCompressor string
	ContentEncryptor  string
)

const (
	ProviderLocal  StorageProvider = "LOCAL"
	ProviderS3     StorageProvider = "S3"
	ProviderGCS    StorageProvider = "GCS"
	ProviderAzure  StorageProvider = "AZURE"
	ProviderSFTP   StorageProvider = "SFTP"
	ProviderGDrive StorageProvider = "GDRIVE"

	CompressorGzip   ContentCompressor = "gzip"
	CompressorZstd   ContentCompressor = "zstd"
	EncryptorAes256G ContentEncryptor  = "aes-256-gcm"

	DefaultLocalBaseDir      = "./media"
	DefaultDeleteConcurrency = 8
)

type Config struct {
	StorageProvider StorageProvider `json:"STORAGE_PROVIDER" yaml:"STORAGE_PROVIDER"`

	// Local
	LocalBaseDir string `json:"LOCAL_BASE_DIR" yaml:"LOCAL_BASE_DIR"` // ./media
	LocalFsync   bool   `json:"LOCAL_FSYNC" yaml:"LOCAL_FSYNC"`

	// S3
	S3URL             string `json:"S3_URL" yaml:"S3_URL"`
	S3AccessKeyID     string `json:"S3_ACCESS_KEY_ID" yaml:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `json:"S3_SECRET_ACCESS_KEY" yaml:"S3_SECRET_ACCESS_KEY"`
	S3Bucket          string `json:"S3_BUCKET" yaml:"S3_BUCKET"`
	S3Region          string `json:"S3_REGION" yaml:"S3_REGION"`
	S3UsePathStyle    bool   `json:"S3_USE_PATH_STYLE" yaml:"S3_USE_PATH_STYLE"`
	S3DisableSSL      bool   `json:"S3_DISABLE_SSL" yaml:"S3_DISABLE_SSL"`
	S3Prefix          string `json:"S3_PREFIX" yaml:"S3_PREFIX"`

	// Google Cloud Storage
	GCSCredentialsFile string `json:"GCS_CREDENTIALS_FILE" yaml:"GCS_CREDENTIALS_FILE"`
	GCSBucket          string `json:"GCS_BUCKET" yaml:"GCS_BUCKET"`
	GCSProjectID       string `json:"GCS_PROJECT_ID" yaml:"GCS_PROJECT_ID"`
	GCSCreateBucket    bool   `json:"GCS_CREATE_BUCKET" yaml:"GCS_CREATE_BUCKET"`
	GCSPrefix          string `json:"GCS_PREFIX" yaml:"GCS_PREFIX"`

	// Azure Blob Storage
	AzureAccountURL   string `json:"AZURE_ACCOUNT_URL" yaml:"AZURE_ACCOUNT_URL"`
	AzureContainer    string `json:"AZURE_CONTAINER" yaml:"AZURE_CONTAINER"`
	AzureTenantID     string `json:"AZURE_TENANT_ID" yaml:"AZURE_TENANT_ID"`
	AzureClientID     string `json:"AZURE_CLIENT_ID" yaml:"AZURE_CLIENT_ID"`
	AzureClientSecret string `json:"AZURE_CLIENT_SECRET" yaml:"AZURE_CLIENT_SECRET"`
	AzureUsername     string `json:"AZURE_USERNAME" yaml:"AZURE_USERNAME"`
	AzurePassword     string `json:"AZURE_PASSWORD" yaml:"AZURE_PASSWORD"`
	AzurePrefix       string `json:"AZURE_PREFIX" yaml:"AZURE_PREFIX"`

	// SFTP
	SFTPHost                 string `json:"SFTP_HOST" yaml:"SFTP_HOST"`
	SFTPPort                 int    `json:"SFTP_PORT" yaml:"SFTP_PORT"`
	SFTPUser                 string `json:"SFTP_USER" yaml:"SFTP_USER"`
	SFTPPrivateKeyPath       string `json:"SFTP_PRIVATE_KEY_PATH" yaml:"SFTP_PRIVATE_KEY_PATH"`
	SFTPPrivateKeyPassphrase string `json:"SFTP_PRIVATE_KEY_PASSPHRASE" yaml:"SFTP_PRIVATE_KEY_PASSPHRASE"`
	SFTPBaseDir              string `json:"SFTP_BASE_DIR" yaml:"SFTP_BASE_DIR"`
	SFTPKnownHosts           string `json:"SFTP_KNOWN_HOSTS" yaml:"SFTP_KNOWN_HOSTS"`

	// Google Drive
	GDriveCredentialsFile string `json:"GDRIVE_CREDENTIALS_FILE" yaml:"GDRIVE_CREDENTIALS_FILE"`
	GDriveTokenFile       string `json:"GDRIVE_TOKEN_FILE" yaml:"GDRIVE_TOKEN_FILE"`
	GDriveFolderID        string `json:"GDRIVE_FOLDER_ID" yaml:"GDRIVE_FOLDER_ID"`
	GDriveUseTrash        bool   `json:"GDRIVE_USE_TRASH" yaml:"GDRIVE_USE_TRASH"`

	// Tree backends and deletes.
	// TREE_DUPLICATE_LEAVES only matters for GDRIVE: local and SFTP directories
	// cannot hold two entries with one name.
	TreeDuplicateLeaves storage.DuplicateLeaves `json:"TREE_DUPLICATE_LEAVES" yaml:"TREE_DUPLICATE_LEAVES"` // reconcile, keep
	DeleteConcurrency   int                     `json:"DELETE_CONCURRENCY" yaml:"DELETE_CONCURRENCY"`

	// Content transforms
	ContentCompressor     ContentCompressor `json:"CONTENT_COMPRESSOR" yaml:"CONTENT_COMPRESSOR"` // gzip, zstd
	ContentEncryptor      ContentEncryptor  `json:"CONTENT_ENCRYPTOR" yaml:"CONTENT_ENCRYPTOR"`   // aes-256-gcm
	ContentEncryptionPass string            `json:"CONTENT_ENCRYPTION_PASS" yaml:"CONTENT_ENCRYPTION_PASS"`

	LogLevel string `json:"LOG_LEVEL" yaml:"LOG_LEVEL"`
}

// Load reads a JSON or YAML (by extension) config file, expanding ${VAR} references first.
func Load(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidConfiguration, err)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return ParseYAML(content)
	default:
		return ParseJSON(content)
	}
}

func ParseJSON(content []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(expandEnvVars(content), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse json: %w", storage.ErrInvalidConfiguration, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func ParseYAML(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnvVars(content), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", storage.ErrInvalidConfiguration, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func expandEnvVars(buf []byte) []byte {
	return []byte(os.ExpandEnv(string(buf)))
}

func (c *Config) applyDefaults() {
	if c.LocalBaseDir == "" {
		c.LocalBaseDir = DefaultLocalBaseDir
	}
	if c.DeleteConcurrency == 0 {
		c.DeleteConcurrency = DefaultDeleteConcurrency
	}
	if c.SFTPPort == 0 {
		c.SFTPPort = 22
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Provider returns the configured provider, upper-cased.
// Known reports whether it is one of the supported providers.
func (c *Config) Provider() (p StorageProvider, known bool) {
	p = StorageProvider(strings.ToUpper(strings.TrimSpace(string(c.StorageProvider))))
	switch p {
	case ProviderLocal, ProviderS3, ProviderGCS, ProviderAzure, ProviderSFTP, ProviderGDrive:
		return p, true
	}
	return ProviderLocal, false
}

// Validate checks the settings the active provider and the content transforms need.
func (c *Config) Validate() error {
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	requireFile := func(p, key string) {
		if p == "" {
			return
		}
		if _, err := os.Stat(p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	p, _ := c.Provider()
	switch p {
	case ProviderLocal:
		require(c.LocalBaseDir, "LOCAL_BASE_DIR")
	case ProviderS3:
		require(c.S3Bucket, "S3_BUCKET")
		require(c.S3Region, "S3_REGION")
		if c.S3AccessKeyID != "" {
			require(c.S3SecretAccessKey, "S3_SECRET_ACCESS_KEY")
		}
	case ProviderGCS:
		require(c.GCSBucket, "GCS_BUCKET")
		requireFile(c.GCSCredentialsFile, "GCS_CREDENTIALS_FILE")
		if c.GCSCreateBucket {
			require(c.GCSProjectID, "GCS_PROJECT_ID")
		}
	case ProviderAzure:
		require(c.AzureAccountURL, "AZURE_ACCOUNT_URL")
		require(c.AzureContainer, "AZURE_CONTAINER")
		if c.AzureClientSecret != "" || c.AzureUsername != "" {
			require(c.AzureTenantID, "AZURE_TENANT_ID")
			require(c.AzureClientID, "AZURE_CLIENT_ID")
		}
	case ProviderSFTP:
		require(c.SFTPHost, "SFTP_HOST")
		require(c.SFTPUser, "SFTP_USER")
		require(c.SFTPBaseDir, "SFTP_BASE_DIR")
		require(c.SFTPPrivateKeyPath, "SFTP_PRIVATE_KEY_PATH")
		requireFile(c.SFTPPrivateKeyPath, "SFTP_PRIVATE_KEY_PATH")
		if c.SFTPKnownHosts != "" {
			requireFile(c.SFTPKnownHosts, "SFTP_KNOWN_HOSTS")
		}
	case ProviderGDrive:
		require(c.GDriveCredentialsFile, "GDRIVE_CREDENTIALS_FILE")
		require(c.GDriveFolderID, "GDRIVE_FOLDER_ID")
		requireFile(c.GDriveCredentialsFile, "GDRIVE_CREDENTIALS_FILE")
	}

	switch c.TreeDuplicateLeaves {
	case "", storage.DuplicateLeavesReconcile, storage.DuplicateLeavesKeep:
	default:
		errs = append(errs, fmt.Errorf("TREE_DUPLICATE_LEAVES: unknown policy %q", c.TreeDuplicateLeaves))
	}
	if c.DeleteConcurrency < 0 {
		errs = append(errs, errors.New("DELETE_CONCURRENCY must not be negative"))
	}

	switch c.ContentCompressor {
	case "", CompressorGzip, CompressorZstd:
	default:
		errs = append(errs, fmt.Errorf("CONTENT_COMPRESSOR: unknown compressor %q", c.ContentCompressor))
	}
	switch c.ContentEncryptor {
	case "":
	case EncryptorAes256G:
		require(c.ContentEncryptionPass, "CONTENT_ENCRYPTION_PASS")
	default:
		errs = append(errs, fmt.Errorf("CONTENT_ENCRYPTOR: unknown encryptor %q", c.ContentEncryptor))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", storage.ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// Default returns the configuration used when no file is given: local storage under ./media.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
