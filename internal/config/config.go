package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global       GlobalConfig       `yaml:"global"`
	Buffer       types.BufferConfig `yaml:"buffer"`
	Prefetch     PrefetchConfig     `yaml:"prefetch"`
	Acceleration AccelerationConfig `yaml:"acceleration"`
	Storage      StorageConfig      `yaml:"storage"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"` // text or json
}

// PrefetchConfig represents prefetch scheduler settings
type PrefetchConfig struct {
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	RateLimit     float64       `yaml:"rate_limit"` // fetch starts per second, 0 = unlimited
	RateBurst     int           `yaml:"rate_burst"`
	MaxCandidates int           `yaml:"max_candidates"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig represents the origin circuit breaker settings
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// AccelerationConfig represents quality kernel settings
type AccelerationConfig struct {
	ModulePath string `yaml:"module_path"` // empty uses the built-in kernel
}

// StorageConfig represents the S3 origin the fetcher reads from
type StorageConfig struct {
	Bucket         string            `yaml:"bucket"`
	Region         string            `yaml:"region"`
	Endpoint       string            `yaml:"endpoint"`
	ForcePathStyle bool              `yaml:"force_path_style"`
	Prefixes       map[string]string `yaml:"prefixes"` // item kind -> key prefix
	AccessKeyID    string            `yaml:"access_key_id"`
	SecretKey      string            `yaml:"secret_access_key"`
	MaxObjectSize  string            `yaml:"max_object_size"`
}

// APIConfig represents the HTTP API settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Port         int               `yaml:"port"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFile:   "",
			LogFormat: "text",
		},
		Buffer: types.DefaultBufferConfig(),
		Prefetch: PrefetchConfig{
			FetchTimeout:  30 * time.Second,
			RateLimit:     0,
			RateBurst:     1,
			MaxCandidates: 8,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Storage: StorageConfig{
			Region: "us-east-1",
			Prefixes: map[string]string{
				"media": "media/",
				"query": "query/",
				"image": "image/",
			},
			MaxObjectSize: "64MB",
		},
		API: APIConfig{
			Enabled: false,
			Address: "localhost:8080",
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "cinefront",
				CustomLabels: map[string]string{
					"service": "cinefront",
				},
			},
		},
	}
}

// Load layers defaults, the optional file and CINEFRONT_* environment
// variables, in that order. The result is not validated.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithComponent("config").WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithComponent("config").WithDetail("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from CINEFRONT_* environment variables.
// Unparseable numeric values are reported.
func (c *Configuration) LoadFromEnv() error {
	var problems []string
	atoi := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q", name, val))
				return
			}
			*dst = n
		}
	}
	atof := func(name string, dst *float64) {
		if val := os.Getenv(name); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q", name, val))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if val := os.Getenv(name); val != "" {
			*dst = strings.ToLower(val) == "true"
		}
	}
	str := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}

	// Global settings
	str("CINEFRONT_LOG_LEVEL", &c.Global.LogLevel)
	str("CINEFRONT_LOG_FILE", &c.Global.LogFile)
	str("CINEFRONT_LOG_FORMAT", &c.Global.LogFormat)

	// Buffer settings
	atoi("CINEFRONT_MAX_CONCURRENT_REQUESTS", &c.Buffer.MaxConcurrentRequests)
	atof("CINEFRONT_PREDICTIVE_THRESHOLD", &c.Buffer.PredictiveThreshold)
	atoi("CINEFRONT_BUFFER_SIZE", &c.Buffer.BufferSize)
	boolean("CINEFRONT_ENABLE_ACCELERATION", &c.Buffer.EnableAcceleration)

	// Prefetch settings
	if val := os.Getenv("CINEFRONT_FETCH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Prefetch.FetchTimeout = d
		} else {
			problems = append(problems, fmt.Sprintf("CINEFRONT_FETCH_TIMEOUT=%q", val))
		}
	}
	atof("CINEFRONT_PREFETCH_RATE_LIMIT", &c.Prefetch.RateLimit)
	atoi("CINEFRONT_MAX_CANDIDATES", &c.Prefetch.MaxCandidates)
	boolean("CINEFRONT_BREAKER_ENABLED", &c.Prefetch.Breaker.Enabled)

	// Acceleration
	str("CINEFRONT_ACCELERATION_MODULE", &c.Acceleration.ModulePath)

	// Storage settings
	str("CINEFRONT_S3_BUCKET", &c.Storage.Bucket)
	str("CINEFRONT_S3_REGION", &c.Storage.Region)
	str("CINEFRONT_S3_ENDPOINT", &c.Storage.Endpoint)
	boolean("CINEFRONT_S3_FORCE_PATH_STYLE", &c.Storage.ForcePathStyle)
	str("CINEFRONT_S3_ACCESS_KEY_ID", &c.Storage.AccessKeyID)
	str("CINEFRONT_S3_SECRET_ACCESS_KEY", &c.Storage.SecretKey)

	// API
	boolean("CINEFRONT_API_ENABLED", &c.API.Enabled)
	str("CINEFRONT_API_ADDRESS", &c.API.Address)

	// Monitoring
	boolean("CINEFRONT_METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	atoi("CINEFRONT_METRICS_PORT", &c.Monitoring.Metrics.Port)

	if len(problems) > 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "invalid environment values: %s", strings.Join(problems, ", ")).
			WithComponent("config")
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to marshal config", err).WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to create config directory", err).WithComponent("config")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to write config file", err).WithComponent("config")
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := c.Buffer.Validate(); err != nil {
		return err
	}

	if c.Prefetch.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative")
	}
	if c.Prefetch.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.Prefetch.MaxCandidates < 0 {
		return fmt.Errorf("max_candidates must not be negative")
	}
	if c.Prefetch.Breaker.Timeout < 0 {
		return fmt.Errorf("breaker timeout must not be negative")
	}

	for kind := range c.Storage.Prefixes {
		if _, err := types.ParseItemKind(kind); err != nil {
			return fmt.Errorf("storage prefix for unknown item kind %q", kind)
		}
	}

	if c.API.Enabled && c.API.Address == "" {
		return fmt.Errorf("api address is required when the api is enabled")
	}

	if m := c.Monitoring.Metrics; m.Enabled {
		if m.Port < 0 || m.Port > 65535 {
			return fmt.Errorf("metrics port %d out of range", m.Port)
		}
		if !strings.HasPrefix(m.Path, "/") {
			return fmt.Errorf("metrics path must start with /: %q", m.Path)
		}
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Global.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	return nil
}
