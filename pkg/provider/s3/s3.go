// Package s3 implements the S3-compatible provider adapter.
//
// The primary strategy calls PutObject/DeleteObject through the AWS SDK.
// The presign strategy signs the same operations up front and executes them
// as plain HTTP requests, which suits S3-compatible services that reject SDK
// checksum trailers.
package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/fileferry/fileferry/pkg/provider"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// ProviderID is the registry identifier of this adapter.
const ProviderID = "s3"

// MaxFileSize is the single-PUT object size limit.
const MaxFileSize = 5 << 30 // 5 GiB

// Strategy names accepted in configuration.
const (
	StrategySDK     = "sdk"
	StrategyPresign = "presign"
)

// Config contains S3 adapter configuration.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket" validate:"required"`

	// Region is the AWS region (SDK default chain when empty).
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint URL for compatible services.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// AccessKeyID and SecretAccessKey override the SDK credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// KeyPrefix is prepended to all object keys. Should end with "/" if
	// non-empty.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// ForcePathStyle forces path-style addressing (required for MinIO and
	// Localstack).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// Strategy selects the call path: "sdk" (default) or "presign".
	Strategy string `mapstructure:"strategy" yaml:"strategy" validate:"omitempty,oneof=sdk presign"`

	// PresignExpiry is how long presigned URLs stay valid.
	PresignExpiry time.Duration `mapstructure:"presign_expiry" yaml:"presign_expiry"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySDK
	}
	if c.PresignExpiry == 0 {
		c.PresignExpiry = 15 * time.Minute
	}
}

// caller is the strategy seam between the SDK and presigned-HTTP paths.
type caller interface {
	putObject(ctx context.Context, key string, content io.Reader, size int64) error
	deleteObject(ctx context.Context, key string) error
}

// Adapter is the S3-compatible storage provider.
type Adapter struct {
	caller    caller
	keyPrefix string
	limits    provider.Limits
}

// New creates the adapter around an existing S3 client.
func New(client *awss3.Client, cfg Config) (*Adapter, error) {
	cfg.ApplyDefaults()

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	a := &Adapter{
		keyPrefix: cfg.KeyPrefix,
		limits:    provider.Limits{MaxSizeBytes: MaxFileSize},
	}

	switch cfg.Strategy {
	case StrategySDK:
		a.caller = &sdkCaller{client: client, bucket: cfg.Bucket}
	case StrategyPresign:
		a.caller = newPresignCaller(awss3.NewPresignClient(client), cfg)
	default:
		return nil, fmt.Errorf("s3: unknown strategy %q", cfg.Strategy)
	}

	return a, nil
}

// NewFromConfig creates the adapter by building an S3 client from cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*Adapter, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS config: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(awss3.NewFromConfig(awsCfg, s3Opts...), cfg)
}

// ID implements provider.Adapter.
func (a *Adapter) ID() string { return ProviderID }

// Limits implements provider.Adapter.
func (a *Adapter) Limits() provider.Limits { return a.limits }

// Upload implements provider.Adapter. The returned remote ID is the full
// object key.
func (a *Adapter) Upload(ctx context.Context, content io.Reader, size int64, purpose string) (string, error) {
	if err := provider.ValidatePurpose(ProviderID, purpose, a.limits); err != nil {
		return "", err
	}
	if size > MaxFileSize {
		return "", ferrors.NewProviderRejectedError(ProviderID,
			fmt.Errorf("size %d exceeds the %d byte single-put limit", size, int64(MaxFileSize)))
	}

	key := a.keyPrefix + uuid.New().String()
	if err := a.caller.putObject(ctx, key, content, size); err != nil {
		return "", classifyError(err)
	}
	return key, nil
}

// Delete implements provider.Adapter.
func (a *Adapter) Delete(ctx context.Context, remoteID string) error {
	if err := a.caller.deleteObject(ctx, remoteID); err != nil {
		classified := classifyError(err)
		if ferrors.IsNotFound(classified) {
			// DeleteObject on a missing key normally succeeds anyway.
			return nil
		}
		return classified
	}
	return nil
}

// objectAPI is the slice of the S3 client the sdk caller needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// sdkCaller calls the S3 API through the AWS SDK client.
type sdkCaller struct {
	client objectAPI
	bucket string
}

func (c *sdkCaller) putObject(ctx context.Context, key string, content io.Reader, size int64) error {
	_, err := c.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          content,
		ContentLength: aws.Int64(size),
	})
	return err
}

func (c *sdkCaller) deleteObject(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}
