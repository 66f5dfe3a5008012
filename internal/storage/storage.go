// Package storage is a thin S3-compatible object store used to archive
// audit reports. It works against AWS S3 and MinIO (path-style addressing).
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/fx"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(NewService),
)

// ErrDisabled is returned by every operation when storage is not configured.
var ErrDisabled = errors.New("storage service not enabled")

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// Service provides object operations on the report bucket
type Service struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

// NewService creates a new storage service. A service without configuration
// is returned disabled rather than failing startup.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	sc := cfg.Storage
	log = log.With(logger.Scope("storage"))
	if !sc.Enabled() {
		log.Info("storage disabled, audit reports will not be archived")
		return &Service{bucket: sc.Bucket, log: log}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(sc.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			sc.AccessKey,
			sc.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(sc.Endpoint)
		o.UsePathStyle = true
	})

	log.Info("storage service initialized",
		slog.String("endpoint", sc.Endpoint),
		slog.String("bucket", sc.Bucket),
	)
	return &Service{client: client, bucket: sc.Bucket, log: log}, nil
}

// Enabled returns true if the storage service is properly configured
func (s *Service) Enabled() bool {
	return s != nil && s.client != nil
}

// Bucket returns the bucket objects are written to.
func (s *Service) Bucket() string {
	return s.bucket
}

// Put writes body under key, replacing any existing object.
func (s *Service) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	result, err := s.client.PutObject(ctx, input)
	if err != nil {
		s.log.Error("failed to upload object", slog.String("key", key), logger.Error(err))
		return fmt.Errorf("upload failed: %w", err)
	}

	etag := ""
	if result.ETag != nil {
		etag = strings.Trim(*result.ETag, "\"")
	}
	s.log.Debug("object uploaded",
		slog.String("key", key),
		slog.String("etag", etag),
		slog.Int("size", len(body)),
	)
	return nil
}

// Get reads the object stored under key.
func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}
