/*
Package config provides configuration management for cinefront with multi-source support.

Configuration is assembled from compiled-in defaults, an optional YAML file and
CINEFRONT_* environment variables, in that order of increasing precedence.

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (CINEFRONT_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Sections

	global:        log_level, log_file, log_format
	buffer:        max_concurrent_requests, predictive_threshold, buffer_size, enable_acceleration
	prefetch:      fetch_timeout, rate_limit, rate_burst, max_candidates,
	               breaker.enabled, breaker.failure_threshold, breaker.timeout
	acceleration:  module_path
	storage:       bucket, region, endpoint, force_path_style, prefixes, credentials
	api:           enabled, address
	monitoring:    metrics.enabled, metrics.port, metrics.path, metrics.namespace

# Example

	global:
	  log_level: INFO
	buffer:
	  buffer_size: 20
	  predictive_threshold: 0.7
	  max_concurrent_requests: 3
	  enable_acceleration: true
	storage:
	  bucket: cinefront-origin
	  region: us-east-1

# Usage

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

The buffer section is the initial value of the runtime-tunable BufferConfig; later
changes go through Engine.SetConfig.

# Hot Reload

Watcher reloads the file when it is written and hands the validated result to a
callback; the binary applies its BufferUpdate to the engine. A file that fails to
parse or validate is logged and ignored.

	w, err := config.NewWatcher(path, func(c *config.Configuration) {
		_ = eng.SetConfig(c.BufferUpdate())
	}, logger)
	if err != nil {
		return err
	}
	go w.Run(ctx)
*/
package config
