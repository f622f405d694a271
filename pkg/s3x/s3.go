package s3x

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UsePathStyle    bool
	// DisableSSL skips certificate verification, for self-signed MinIO endpoints.
	DisableSSL bool
}

// NewClient builds an S3 client. Static keys are used when set,
// otherwise the default AWS credential chain applies.
func NewClient(ctx context.Context, s3Config *S3Config) (*s3.Client, error) {
	// https://github.com/aws/aws-sdk-go-v2/issues/1295
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(s3Config.Region),
		config.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					//nolint:gosec
					InsecureSkipVerify: s3Config.DisableSSL,
				},
			},
		}),
	}
	if s3Config.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Config.AccessKeyID, s3Config.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s3Config.EndpointURL != "" {
			o.BaseEndpoint = aws.String(s3Config.EndpointURL)
		}
		o.UsePathStyle = s3Config.UsePathStyle
	}), nil
}
