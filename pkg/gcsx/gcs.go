package gcsx

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	// CredentialsFile is a service-account JSON key.
	// Empty means application default credentials.
	CredentialsFile string
}

func NewClient(ctx context.Context, gcsConfig *GCSConfig) (*storage.Client, error) {
	var opts []option.ClientOption
	if gcsConfig.CredentialsFile != "" {
		data, err := os.ReadFile(gcsConfig.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read gcs credentials: %w", err)
		}
		//nolint:staticcheck
		creds, err := google.CredentialsFromJSON(ctx, data, storage.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("unable to parse gcs credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create gcs client: %w", err)
	}
	return client, nil
}
