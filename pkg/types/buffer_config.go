package types

import (
	"math"

	"github.com/cinefront/cinefront/pkg/errors"
)

// Default buffer tuning values
const (
	DefaultMaxConcurrentRequests = 3
	DefaultPredictiveThreshold   = 0.7
	DefaultBufferSize            = 20
)

// BufferConfig is the process-wide tunable state shared by the store and the prefetcher.
type BufferConfig struct {
	MaxConcurrentRequests int     `yaml:"max_concurrent_requests" json:"maxConcurrentRequests"`
	PredictiveThreshold   float64 `yaml:"predictive_threshold" json:"predictiveThreshold"`
	BufferSize            int     `yaml:"buffer_size" json:"bufferSize"`
	EnableAcceleration    bool    `yaml:"enable_acceleration" json:"enableAcceleration"`
}

// DefaultBufferConfig returns the stock buffer configuration
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		PredictiveThreshold:   DefaultPredictiveThreshold,
		BufferSize:            DefaultBufferSize,
		EnableAcceleration:    true,
	}
}

// Validate checks the configuration for invalid values
func (c BufferConfig) Validate() error {
	if c.MaxConcurrentRequests < 1 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"max_concurrent_requests must be at least 1, got %d", c.MaxConcurrentRequests).
			WithDetail("field", "max_concurrent_requests")
	}
	if math.IsNaN(c.PredictiveThreshold) || c.PredictiveThreshold < 0 || c.PredictiveThreshold > 1 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"predictive_threshold must be within [0,1], got %v", c.PredictiveThreshold).
			WithDetail("field", "predictive_threshold")
	}
	if c.BufferSize < 1 {
		return errors.Newf(errors.ErrCodeConfigValidation,
			"buffer_size must be at least 1, got %d", c.BufferSize).
			WithDetail("field", "buffer_size")
	}
	return nil
}

// ConfigUpdate is a partial BufferConfig; nil fields keep their current value.
type ConfigUpdate struct {
	MaxConcurrentRequests *int     `json:"maxConcurrentRequests,omitempty"`
	PredictiveThreshold   *float64 `json:"predictiveThreshold,omitempty"`
	BufferSize            *int     `json:"bufferSize,omitempty"`
	EnableAcceleration    *bool    `json:"enableAcceleration,omitempty"`
}

// Apply merges u into c and validates the result. On error c is returned unchanged.
func (c BufferConfig) Apply(u ConfigUpdate) (BufferConfig, error) {
	merged := c
	if u.MaxConcurrentRequests != nil {
		merged.MaxConcurrentRequests = *u.MaxConcurrentRequests
	}
	if u.PredictiveThreshold != nil {
		merged.PredictiveThreshold = *u.PredictiveThreshold
	}
	if u.BufferSize != nil {
		merged.BufferSize = *u.BufferSize
	}
	if u.EnableAcceleration != nil {
		merged.EnableAcceleration = *u.EnableAcceleration
	}
	if err := merged.Validate(); err != nil {
		return c, err
	}
	return merged, nil
}
