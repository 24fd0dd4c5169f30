package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/Conte777/tgvault/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Client archives downloaded media in an S3 compatible bucket
type Client struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    zerolog.Logger
}

// NewClient creates a new S3/MinIO client
func NewClient(cfg *config.S3Config, logger zerolog.Logger) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}

	return &Client{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With().Str("component", "s3").Logger(),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist and makes objects publicly readable
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	c.logger.Info().Str("bucket", c.bucket).Msg("Created media bucket")

	if err := c.client.SetBucketPolicy(ctx, c.bucket, readPolicy(c.bucket)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to set public bucket policy, media URLs may not resolve")
	}
	return nil
}

// Upload stores the local file at path under key and returns its public URL
func (c *Client) Upload(ctx context.Context, key, path, contentType string) (string, error) {
	info, err := c.client.FPutObject(ctx, c.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	url := c.PublicURL(key)
	c.logger.Debug().
		Str("object_key", key).
		Int64("size", info.Size).
		Str("url", url).
		Msg("Uploaded media")
	return url, nil
}

// PublicURL returns the public URL of an object key
func (c *Client) PublicURL(key string) string {
	return c.publicURL + "/" + c.bucket + "/" + strings.TrimLeft(key, "/")
}

func readPolicy(bucket string) string {
	return fmt.Sprintf(`{
	"Version": "2012-10-17",
	"Statement": [
		{
			"Effect": "Allow",
			"Principal": {"AWS": ["*"]},
			"Action": ["s3:GetObject"],
			"Resource": ["arn:aws:s3:::%s/*"]
		}
	]
}`, bucket)
}
