package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/xxxsen/romsort/internal/config"
)

// S3 uploads to an AWS S3 (or compatible) bucket.
type S3 struct {
	client   *s3.Client
	bucket   string
	endpoint string
	region   string
}

var _ Checker = (*S3)(nil)

// NewS3 builds a client from the report section of the config file.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := normalizeEndpoint(cfg.Host)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &S3{client: client, bucket: cfg.Bucket, endpoint: endpoint, region: cfg.Region}, nil
}

// Check confirms the bucket is reachable with the configured credentials.
func (c *S3) Check(ctx context.Context) error {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *S3) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// URL is the path style location of key, used in logs.
func (c *S3) URL(key string) string {
	if c.endpoint != "" {
		return strings.TrimRight(c.endpoint, "/") + "/" + c.bucket + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", c.bucket, key)
}

func normalizeEndpoint(host string) string {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "://") {
		return host
	}
	u := url.URL{Scheme: "https", Host: host}
	return u.String()
}
