// Package s3 implements the provider interfaces for AWS S3 and S3-compatible
// storage.
package s3

import "github.com/nishanth230499/s3-ui/pkg/awscfg"

// Config configures an S3 provider.
//
// Region is per request: the archive pipeline builds one provider per
// invocation from the region named in the job payload. For S3-compatible
// stores (MinIO, moto) set Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region. See awscfg.ResolveRegion for defaulting.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations.
	// Zero uses the provider default (1000). Values over 1000 are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if err := c.awsOptions().Validate(); err != nil {
		return &ConfigError{Field: "AccessKeyID/SecretAccessKey", Message: err.Error()}
	}
	return nil
}

func (c *Config) awsOptions() awscfg.Options {
	return awscfg.Options{
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		Profile:         c.Profile,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
