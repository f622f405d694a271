package azblobx

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type AzureConfig struct {
	// AccountURL is https://<account>.blob.core.windows.net/
	AccountURL string

	TenantID     string
	ClientID     string
	ClientSecret string

	// Username and Password select the resource-owner password flow.
	Username string
	Password string
}

// NewClient picks the credential by the settings present: client secret,
// then username/password, then the default Azure chain.
func NewClient(azConfig *AzureConfig) (*azblob.Client, error) {
	cred, err := newCredential(azConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create azure credential: %w", err)
	}
	client, err := azblob.NewClient(azConfig.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create azure blob client: %w", err)
	}
	return client, nil
}

func newCredential(azConfig *AzureConfig) (azcore.TokenCredential, error) {
	switch {
	case azConfig.ClientSecret != "":
		return azidentity.NewClientSecretCredential(azConfig.TenantID, azConfig.ClientID, azConfig.ClientSecret, nil)
	case azConfig.Username != "":
		//nolint:staticcheck
		return azidentity.NewUsernamePasswordCredential(
			azConfig.TenantID, azConfig.ClientID, azConfig.Username, azConfig.Password, nil,
		)
	default:
		return azidentity.NewDefaultAzureCredential(nil)
	}
}
