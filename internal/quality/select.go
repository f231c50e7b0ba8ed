package quality

import (
	"context"
	"log/slog"
)

// Select returns the accelerated optimizer when enabled and it initializes,
// and the reference optimizer otherwise. Initialization failure is logged
// and never returned.
func Select(ctx context.Context, enabled bool, config *AcceleratedConfig, logger *slog.Logger) Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	if !enabled {
		return NewReference()
	}

	acc, err := NewAccelerated(ctx, config, logger)
	if err != nil {
		logger.Warn("Quality acceleration unavailable, using reference implementation",
			"component", "quality", "error", err)
		return NewReference()
	}
	return acc
}
