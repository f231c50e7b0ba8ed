package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	lengths map[string]int64
	err     error
	keys    []string
	buckets []string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(params.Key)
	f.keys = append(f.keys, key)
	f.buckets = append(f.buckets, aws.ToString(params.Bucket))

	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}
	if n, ok := f.lengths[key]; ok {
		out.ContentLength = aws.Int64(n)
	}
	return out, nil
}

func newTestFetcher(t *testing.T, api GetObjectAPI, maxSize int64) *S3Fetcher {
	t.Helper()
	f, err := NewS3FetcherWithClient(api, &Config{
		Bucket: "content",
		Prefixes: map[types.ItemKind]string{
			types.KindMedia: "media/",
			types.KindQuery: "query/",
		},
		MaxObjectSize: maxSize,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return f
}

func TestNewS3FetcherWithClient_Validation(t *testing.T) {
	_, err := NewS3FetcherWithClient(nil, &Config{Bucket: "b"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	_, err = NewS3FetcherWithClient(&fakeS3{}, &Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name cannot be empty")

	_, err = NewS3FetcherWithClient(&fakeS3{}, &Config{Bucket: "b", MaxObjectSize: -1}, nil)
	require.Error(t, err)
}

func TestNewS3Fetcher_EmptyBucket(t *testing.T) {
	f, err := NewS3Fetcher(context.Background(), &Config{Region: "us-east-1"}, nil)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestLoadOptions_RetryAttempts(t *testing.T) {
	apply := func(cfg *Config) config.LoadOptions {
		var lo config.LoadOptions
		for _, opt := range loadOptions(cfg) {
			require.NoError(t, opt(&lo))
		}
		return lo
	}

	lo := apply(&Config{Bucket: "b", Region: "eu-west-1"})
	assert.Equal(t, 1, lo.RetryMaxAttempts, "requests are sent once by default")
	assert.Equal(t, "eu-west-1", lo.Region)
	assert.Nil(t, lo.Credentials)

	lo = apply(&Config{Bucket: "b", MaxRetries: 2, AccessKeyID: "id", SecretKey: "secret"})
	assert.Equal(t, 3, lo.RetryMaxAttempts)
	assert.NotNil(t, lo.Credentials)

	lo = apply(&Config{Bucket: "b", MaxRetries: -4})
	assert.Equal(t, 1, lo.RetryMaxAttempts)
}

func TestS3Fetcher_Key(t *testing.T) {
	f := newTestFetcher(t, &fakeS3{}, 0)

	tests := []struct {
		id   string
		kind types.ItemKind
		want string
	}{
		{"123", types.KindMedia, "media/123"},
		{"media/123", types.KindMedia, "media/123"},
		{"/456", types.KindQuery, "query/456"},
		{"hero.png", types.KindImage, "hero.png"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Key(tt.id, tt.kind))
		})
	}
}

func TestS3Fetcher_Fetch(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"media/trailer": "frames"}}
	f := newTestFetcher(t, api, 0)

	data, err := f.Fetch(context.Background(), "trailer", types.KindMedia)
	require.NoError(t, err)
	assert.Equal(t, []byte("frames"), data)
	assert.Equal(t, []string{"media/trailer"}, api.keys)
	assert.Equal(t, []string{"content"}, api.buckets)

	m := f.GetMetrics()
	assert.Equal(t, int64(1), m.Requests)
	assert.Equal(t, int64(0), m.Errors)
	assert.Equal(t, int64(len("frames")), m.BytesDownloaded)
}

func TestS3Fetcher_TranslatesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{"missing key", &s3types.NoSuchKey{}, errors.ErrCodeObjectNotFound},
		{"missing bucket", &s3types.NoSuchBucket{}, errors.ErrCodeBucketNotFound},
		{"deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), errors.ErrCodeFetchTimeout},
		{"other", fmt.Errorf("connection reset"), errors.ErrCodeFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, &fakeS3{err: tt.err}, 0)
			data, err := f.Fetch(context.Background(), "x", types.KindQuery)
			assert.Nil(t, data)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)

			m := f.GetMetrics()
			assert.Equal(t, int64(1), m.Errors)
			assert.NotEmpty(t, m.LastError)
			assert.False(t, m.LastErrorTime.IsZero())
		})
	}
}

func TestS3Fetcher_MaxObjectSize(t *testing.T) {
	api := &fakeS3{
		objects: map[string]string{
			"media/small":    "1234",
			"media/big":      "123456789",
			"media/declared": "12",
		},
		lengths: map[string]int64{"media/declared": 1 << 20},
	}
	f := newTestFetcher(t, api, 8)

	data, err := f.Fetch(context.Background(), "small", types.KindMedia)
	require.NoError(t, err)
	assert.Equal(t, "1234", string(data))

	_, err = f.Fetch(context.Background(), "big", types.KindMedia)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFetchFailed))
	assert.Contains(t, err.Error(), "exceeds max object size")

	_, err = f.Fetch(context.Background(), "declared", types.KindMedia)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max object size")
}

func TestS3Fetcher_SatisfiesFetcher(t *testing.T) {
	var fetcher types.Fetcher = newTestFetcher(t, &fakeS3{objects: map[string]string{"query/q": "{}"}}, 0)
	data, err := fetcher.Fetch(context.Background(), "q", types.KindQuery)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
