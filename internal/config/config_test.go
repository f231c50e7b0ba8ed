package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cinefront/cinefront/pkg/errors"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestBucket     = "cinefront-origin"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// Test global defaults
	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.LogFormat != "text" {
		t.Errorf("Expected LogFormat to be text, got %s", cfg.Global.LogFormat)
	}

	// Test buffer defaults
	if cfg.Buffer.MaxConcurrentRequests != 3 {
		t.Errorf("Expected MaxConcurrentRequests to be 3, got %d", cfg.Buffer.MaxConcurrentRequests)
	}
	if cfg.Buffer.PredictiveThreshold != 0.7 {
		t.Errorf("Expected PredictiveThreshold to be 0.7, got %v", cfg.Buffer.PredictiveThreshold)
	}
	if cfg.Buffer.BufferSize != 20 {
		t.Errorf("Expected BufferSize to be 20, got %d", cfg.Buffer.BufferSize)
	}
	if !cfg.Buffer.EnableAcceleration {
		t.Error("Expected EnableAcceleration to be true")
	}

	// Test prefetch defaults
	if cfg.Prefetch.FetchTimeout != 30*time.Second {
		t.Errorf("Expected FetchTimeout to be 30s, got %v", cfg.Prefetch.FetchTimeout)
	}
	if !cfg.Prefetch.Breaker.Enabled || cfg.Prefetch.Breaker.FailureThreshold != 5 {
		t.Errorf("Expected breaker enabled with threshold 5, got %+v", cfg.Prefetch.Breaker)
	}
	if cfg.Storage.Prefixes["media"] != "media/" {
		t.Errorf("Expected media prefix media/, got %q", cfg.Storage.Prefixes["media"])
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			config:  NewDefault,
			wantErr: false,
		},
		{
			name: "zero buffer size",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Buffer.BufferSize = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "buffer_size",
		},
		{
			name: "threshold above one",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Buffer.PredictiveThreshold = 1.01
				return cfg
			},
			wantErr: true,
			errMsg:  "predictive_threshold",
		},
		{
			name: "zero concurrency",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Buffer.MaxConcurrentRequests = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "max_concurrent_requests",
		},
		{
			name: "negative fetch timeout",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Prefetch.FetchTimeout = -time.Second
				return cfg
			},
			wantErr: true,
			errMsg:  "fetch_timeout",
		},
		{
			name: "negative breaker timeout",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Prefetch.Breaker.Timeout = -time.Second
				return cfg
			},
			wantErr: true,
			errMsg:  "breaker timeout",
		},
		{
			name: "unknown prefix kind",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.Prefixes["video"] = "video/"
				return cfg
			},
			wantErr: true,
			errMsg:  "unknown item kind",
		},
		{
			name: "bad metrics path",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Metrics.Path = "metrics"
				return cfg
			},
			wantErr: true,
			errMsg:  "metrics path",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "VERBOSE"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
		{
			name: "lowercase log level accepted",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "debug"
				return cfg
			},
			wantErr: false,
		},
		{
			name: "invalid log format",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogFormat = "xml"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CINEFRONT_LOG_LEVEL", TestDebugLevel)
	t.Setenv("CINEFRONT_BUFFER_SIZE", "50")
	t.Setenv("CINEFRONT_MAX_CONCURRENT_REQUESTS", "6")
	t.Setenv("CINEFRONT_PREDICTIVE_THRESHOLD", "0.55")
	t.Setenv("CINEFRONT_ENABLE_ACCELERATION", "false")
	t.Setenv("CINEFRONT_FETCH_TIMEOUT", "5s")
	t.Setenv("CINEFRONT_S3_BUCKET", TestBucket)
	t.Setenv("CINEFRONT_METRICS_PORT", "9191")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("LogLevel = %s, want %s", cfg.Global.LogLevel, TestDebugLevel)
	}
	if cfg.Buffer.BufferSize != 50 {
		t.Errorf("BufferSize = %d, want 50", cfg.Buffer.BufferSize)
	}
	if cfg.Buffer.MaxConcurrentRequests != 6 {
		t.Errorf("MaxConcurrentRequests = %d, want 6", cfg.Buffer.MaxConcurrentRequests)
	}
	if cfg.Buffer.PredictiveThreshold != 0.55 {
		t.Errorf("PredictiveThreshold = %v, want 0.55", cfg.Buffer.PredictiveThreshold)
	}
	if cfg.Buffer.EnableAcceleration {
		t.Error("EnableAcceleration should be false")
	}
	if cfg.Prefetch.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %v, want 5s", cfg.Prefetch.FetchTimeout)
	}
	if cfg.Storage.Bucket != TestBucket {
		t.Errorf("Bucket = %s, want %s", cfg.Storage.Bucket, TestBucket)
	}
	if cfg.Monitoring.Metrics.Port != 9191 {
		t.Errorf("Metrics port = %d, want 9191", cfg.Monitoring.Metrics.Port)
	}
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("CINEFRONT_BUFFER_SIZE", "twenty")
	t.Setenv("CINEFRONT_FETCH_TIMEOUT", "soon")

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err == nil {
		t.Fatal("LoadFromEnv() should reject unparseable values")
	}
	if !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("error code = %v, want INVALID_CONFIG", err)
	}
	if !strings.Contains(err.Error(), "CINEFRONT_BUFFER_SIZE") || !strings.Contains(err.Error(), "CINEFRONT_FETCH_TIMEOUT") {
		t.Errorf("error should name both variables: %v", err)
	}
	if cfg.Buffer.BufferSize != 20 {
		t.Errorf("BufferSize changed to %d", cfg.Buffer.BufferSize)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cinefront.yaml")

	cfg := NewDefault()
	cfg.Buffer.BufferSize = 42
	cfg.Storage.Bucket = TestBucket
	cfg.Prefetch.RateLimit = 12.5

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Buffer.BufferSize != 42 {
		t.Errorf("BufferSize = %d, want 42", loaded.Buffer.BufferSize)
	}
	if loaded.Storage.Bucket != TestBucket {
		t.Errorf("Bucket = %s, want %s", loaded.Storage.Bucket, TestBucket)
	}
	if loaded.Prefetch.RateLimit != 12.5 {
		t.Errorf("RateLimit = %v, want 12.5", loaded.Prefetch.RateLimit)
	}
}

func TestLoadFromFilePartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	content := `
buffer:
  buffer_size: 8
  predictive_threshold: 0.9
prefetch:
  fetch_timeout: 2s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Buffer.BufferSize != 8 || cfg.Buffer.PredictiveThreshold != 0.9 {
		t.Errorf("buffer = %+v", cfg.Buffer)
	}
	if cfg.Buffer.MaxConcurrentRequests != 3 {
		t.Errorf("unset field lost its default: %d", cfg.Buffer.MaxConcurrentRequests)
	}
	if cfg.Prefetch.FetchTimeout != 2*time.Second {
		t.Errorf("FetchTimeout = %v, want 2s", cfg.Prefetch.FetchTimeout)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := NewDefault()

	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("missing file error = %v, want CONFIG_LOAD", err)
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("buffer: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	err = cfg.LoadFromFile(path)
	if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("parse error = %v, want CONFIG_LOAD", err)
	}
}

func TestLoadLayersFileThenEnvironment(t *testing.T) {
	t.Setenv("CINEFRONT_BUFFER_SIZE", "100")

	file := filepath.Join(t.TempDir(), "cinefront.yaml")
	data := "buffer:\n  buffer_size: 20\n  predictive_threshold: 0.5\n"
	if err := os.WriteFile(file, []byte(data), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Buffer.BufferSize != 100 {
		t.Errorf("BufferSize = %d, want environment value 100", cfg.Buffer.BufferSize)
	}
	if cfg.Buffer.PredictiveThreshold != 0.5 {
		t.Errorf("PredictiveThreshold = %v, want file value 0.5", cfg.Buffer.PredictiveThreshold)
	}

	noFile, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if noFile.Buffer.BufferSize != 100 {
		t.Errorf("BufferSize without file = %d, want 100", noFile.Buffer.BufferSize)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Load(missing) error = %v, want CONFIG_LOAD", err)
	}
}
