// Package awscfg loads AWS SDK configuration shared by the S3 provider and
// the DynamoDB progress store.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials/config files, optionally with Profile
//  4. Lambda execution role / ECS task role / EC2 instance metadata
package awscfg

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// DefaultRegion is the fallback region for AWS endpoints when nothing else
// resolves one.
const DefaultRegion = "us-east-1"

// Options selects region and credentials for a client.
type Options struct {
	// Region is the AWS region. Empty lets the SDK resolve it from the
	// environment or profile.
	Region string

	// Endpoint is a custom endpoint URL (MinIO, moto, DynamoDB Local).
	// When set, no default region is applied.
	Endpoint string

	Profile string

	// AccessKeyID and SecretAccessKey must be provided together.
	AccessKeyID     string
	SecretAccessKey string
}

// ErrPartialCredentials is returned when only one half of a static key pair
// is configured.
var ErrPartialCredentials = errors.New("both access key ID and secret access key must be provided together")

// Validate checks the credential pairing.
func (o Options) Validate() error {
	if (o.AccessKeyID != "") != (o.SecretAccessKey != "") {
		return ErrPartialCredentials
	}
	return nil
}

// Load builds an aws.Config from opts.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	if err := opts.Validate(); err != nil {
		return aws.Config{}, err
	}

	var loadOpts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = ResolveRegion(opts.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// ResolveRegion applies the fallback region after SDK loading.
//
// sdkRegion already reflects an explicit region, AWS_REGION or the profile.
// If it is still empty and no custom endpoint is configured, the AWS default
// applies. S3-compatible endpoints get no default.
func ResolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultRegion
	}
	return ""
}
