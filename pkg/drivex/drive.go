package drivex

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type DriveConfig struct {
	// CredentialsFile is a service-account key or an OAuth client secret file.
	CredentialsFile string
	// TokenFile holds the authorized user token for OAuth clients.
	// Defaults to token.json next to CredentialsFile.
	TokenFile string
}

// NewService opens a Drive client authorized by the configured credentials.
func NewService(ctx context.Context, driveConfig *DriveConfig) (*drive.Service, error) {
	ts, err := TokenSource(ctx, driveConfig.CredentialsFile, driveConfig.TokenFile)
	if err != nil {
		return nil, err
	}
	return newService(ctx, ts)
}

func newService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("unable to create drive service: %w", err)
	}
	return svc, nil
}
