package upload

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	// PublicURL is the base for returned object URLs. Defaults to the
	// virtual-hosted AWS form, or endpoint/bucket when Endpoint is set.
	PublicURL string
}

// Configured reports whether enough is set to talk to a bucket.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type S3Storage struct {
	client    s3Client
	bucket    string
	publicURL string
}

func NewS3Storage(cfg S3Config) *S3Storage {
	return &S3Storage{
		client:    newS3Client(cfg),
		bucket:    cfg.Bucket,
		publicURL: publicURL(cfg),
	}
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.Endpoint != "",
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func publicURL(cfg S3Config) string {
	switch {
	case cfg.PublicURL != "":
		return strings.TrimRight(cfg.PublicURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return "https://" + cfg.Bucket + ".s3.amazonaws.com"
	}
}

func (s *S3Storage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if !validKey(key) {
		return "", ErrBadKey
	}
	if size > MaxSize {
		return "", ErrTooLarge
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return s.publicURL + "/" + key, nil
}
