package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates an S3 or S3-compatible service.
type S3Config struct {
	Region string

	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for
	// MinIO. Setting it switches to path-style addressing.
	Endpoint string
}

// S3Signer mints SigV4 presigned PUT URLs for S3 objects.
type S3Signer struct {
	presign *s3.PresignClient
	now     func() time.Time
}

// NewS3Signer creates an S3Signer using credentials from the default AWS
// chain (environment, shared config, instance role).
func NewS3Signer(ctx context.Context, cfg S3Config) (*S3Signer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to load AWS configuration: %w", err))
	}
	return NewS3SignerFromConfig(awsCfg, cfg.Endpoint), nil
}

// NewS3SignerFromConfig creates an S3Signer from an already resolved AWS
// configuration.
func NewS3SignerFromConfig(awsCfg aws.Config, endpoint string) *S3Signer {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Signer{
		presign: s3.NewPresignClient(client),
		now:     time.Now,
	}
}

// SignUpload returns a presigned URL permitting a PUT of req.ObjectName.
func (s *S3Signer) SignUpload(ctx context.Context, req *SignRequest) (*SignResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(req.Expiration)
	out, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.ObjectName),
	}, s3.WithPresignExpires(req.Expiration))
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to presign URL for %q: %w", req.ObjectName, err))
	}

	return &SignResult{SignedURL: out.URL, ExpiresAt: expiresAt}, nil
}
