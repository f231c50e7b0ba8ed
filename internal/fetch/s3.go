// Package fetch reads item payloads from object storage.
package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	cferrors "github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

// GetObjectAPI is the subset of the S3 client the fetcher uses
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config represents S3 fetcher configuration
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool

	// MaxRetries is how many times the SDK retries a failed request.
	// Zero sends each request once.
	MaxRetries int

	// Static credentials; both empty uses the default AWS chain
	AccessKeyID string
	SecretKey   string

	// Prefixes maps an item kind to the key prefix its objects live under
	Prefixes map[types.ItemKind]string

	// MaxObjectSize rejects larger objects. Zero means unlimited.
	MaxObjectSize int64
}

// Metrics tracks S3 fetch activity
type Metrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// S3Fetcher reads item payloads from an S3 bucket. It implements
// types.Fetcher and is safe for concurrent use.
type S3Fetcher struct {
	client   GetObjectAPI
	bucket   string
	prefixes map[types.ItemKind]string
	maxSize  int64
	logger   *slog.Logger

	mu      sync.RWMutex
	metrics Metrics
}

var _ types.Fetcher = (*S3Fetcher)(nil)

// NewS3Fetcher loads AWS configuration and creates an S3-backed fetcher
func NewS3Fetcher(ctx context.Context, cfg *Config, logger *slog.Logger) (*S3Fetcher, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, cferrors.NewError(cferrors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("fetch")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, cferrors.Wrap(cferrors.ErrCodeConfigLoad, "failed to load AWS config", err).
			WithComponent("fetch")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return NewS3FetcherWithClient(client, cfg, logger)
}

// loadOptions builds the AWS load options. The SDK retryer is limited to a
// single attempt unless MaxRetries asks for more.
func loadOptions(cfg *Config) []func(*config.LoadOptions) error {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(1 + max(cfg.MaxRetries, 0)),
	}
	if cfg.AccessKeyID != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
	}
	return opts
}

// NewS3FetcherWithClient creates a fetcher over an existing client
func NewS3FetcherWithClient(client GetObjectAPI, cfg *Config, logger *slog.Logger) (*S3Fetcher, error) {
	if client == nil {
		return nil, cferrors.NewError(cferrors.ErrCodeInvalidConfig, "s3 client is required").
			WithComponent("fetch")
	}
	if cfg == nil || cfg.Bucket == "" {
		return nil, cferrors.NewError(cferrors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("fetch")
	}
	if cfg.MaxObjectSize < 0 {
		return nil, cferrors.NewError(cferrors.ErrCodeInvalidConfig, "max object size must not be negative").
			WithComponent("fetch")
	}
	if logger == nil {
		logger = slog.Default()
	}

	prefixes := make(map[types.ItemKind]string, len(cfg.Prefixes))
	for kind, prefix := range cfg.Prefixes {
		prefixes[kind] = prefix
	}

	return &S3Fetcher{
		client:   client,
		bucket:   cfg.Bucket,
		prefixes: prefixes,
		maxSize:  cfg.MaxObjectSize,
		logger:   logger.With("component", "s3-fetcher", "bucket", cfg.Bucket),
	}, nil
}

// Fetch retrieves the payload for id
func (f *S3Fetcher) Fetch(ctx context.Context, id string, kind types.ItemKind) ([]byte, error) {
	start := time.Now()
	key := f.Key(id, kind)

	data, err := f.getObject(ctx, key)
	f.recordMetrics(time.Since(start), int64(len(data)), err)
	if err != nil {
		f.logger.Debug("Fetch failed", "key", key, "error", err)
		return nil, err
	}
	return data, nil
}

// Key returns the object key for an item
func (f *S3Fetcher) Key(id string, kind types.ItemKind) string {
	id = strings.TrimLeft(id, "/")
	prefix := f.prefixes[kind]
	if prefix == "" || strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

// GetMetrics returns current fetch metrics
func (f *S3Fetcher) GetMetrics() Metrics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.metrics
}

func (f *S3Fetcher) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, f.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	if f.maxSize > 0 && result.ContentLength != nil && *result.ContentLength > f.maxSize {
		return nil, f.tooLarge(key, *result.ContentLength)
	}

	body := io.Reader(result.Body)
	if f.maxSize > 0 {
		body = io.LimitReader(result.Body, f.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, f.translateError(err, "ReadBody", key)
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		return nil, f.tooLarge(key, int64(len(data)))
	}
	return data, nil
}

func (f *S3Fetcher) tooLarge(key string, size int64) error {
	return cferrors.Newf(cferrors.ErrCodeFetchFailed, "object %s exceeds max object size", key).
		WithComponent("fetch").
		WithOperation("GetObject").
		WithDetail("size", size).
		WithDetail("max_size", f.maxSize)
}

func (f *S3Fetcher) recordMetrics(duration time.Duration, size int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.metrics.Requests++
	if err != nil {
		f.metrics.Errors++
		f.metrics.LastError = err.Error()
		f.metrics.LastErrorTime = time.Now()
	} else {
		f.metrics.BytesDownloaded += size
	}

	// Rolling average latency
	if f.metrics.Requests == 1 {
		f.metrics.AverageLatency = duration
	} else {
		f.metrics.AverageLatency = time.Duration(
			(int64(f.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (f *S3Fetcher) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return cferrors.Wrap(cferrors.ErrCodeObjectNotFound, "object not found: "+key, err).
			WithComponent("fetch").WithOperation(operation)
	case isErrorType[*s3types.NoSuchBucket](err):
		return cferrors.Wrap(cferrors.ErrCodeBucketNotFound, "bucket not found: "+f.bucket, err).
			WithComponent("fetch").WithOperation(operation)
	case errors.Is(err, context.DeadlineExceeded):
		return cferrors.Wrap(cferrors.ErrCodeFetchTimeout, operation+" timed out for "+key, err).
			WithComponent("fetch").WithOperation(operation)
	default:
		return cferrors.Wrap(cferrors.ErrCodeFetchFailed, operation+" failed for "+key, err).
			WithComponent("fetch").WithOperation(operation)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
