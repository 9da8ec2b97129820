package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// UploaderConfig targets an S3-compatible bucket. Endpoint and static
// credentials are optional: leave them empty to use the default AWS
// credential chain, set them to point at an R2/minio-style endpoint.
type UploaderConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Log             zerolog.Logger
}

// Uploader pushes export documents to object storage. Construction is
// opt-in; with no bucket configured the export path never touches this
// type and runtime state stays unpersisted.
type Uploader struct {
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewUploader builds an S3 client and transfer manager for cfg.
func NewUploader(ctx context.Context, cfg UploaderConfig) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("snapshot: uploader requires a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      cfg.Log.With().Str("component", "snapshot-uploader").Logger(),
	}, nil
}

// Upload marshals the export and writes it under key.
func (u *Uploader) Upload(ctx context.Context, key string, export Export) error {
	data, err := Marshal(export)
	if err != nil {
		return fmt.Errorf("snapshot: marshal export: %w", err)
	}

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("snapshot: upload %s: %w", key, err)
	}

	u.log.Info().Str("bucket", u.bucket).Str("key", key).Int("bytes", len(data)).Msg("export uploaded")
	return nil
}
