package quality

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/cinefront/cinefront/pkg/errors"
)

const (
	exportTier    = "quality_tier"
	exportBitrate = "adaptive_bitrate"
)

// AcceleratedConfig configures the WebAssembly kernel
type AcceleratedConfig struct {
	// ModulePath loads the kernel from a file instead of the built-in module.
	ModulePath string `yaml:"module_path"`
}

// Accelerated runs the quality kernel as a WebAssembly module under wazero.
// Any call that fails inside the runtime falls back to the reference result.
type Accelerated struct {
	runtime wazero.Runtime
	module  api.Module
	tier    api.Function
	bitrate api.Function
	logger  *slog.Logger

	// api.Function is not safe for concurrent calls
	mu sync.Mutex

	fallbacks atomic.Uint64
}

// NewAccelerated compiles and instantiates the kernel. The module must export
// quality_tier(f64) i32 and adaptive_bitrate(f64, f64, f64) f64.
func NewAccelerated(ctx context.Context, config *AcceleratedConfig, logger *slog.Logger) (*Accelerated, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wasmBytes := kernelModule
	if config != nil && config.ModulePath != "" {
		data, err := os.ReadFile(config.ModulePath)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeAccelerationUnavailable, "read kernel module", err).
				WithComponent("quality").WithDetail("path", config.ModulePath)
		}
		wasmBytes = data
	}

	r := wazero.NewRuntime(ctx)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.ErrCodeAccelerationUnavailable, "compile kernel module", err).
			WithComponent("quality")
	}

	if err := checkExports(compiled.ExportedFunctions()); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("quality"))
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.ErrCodeAccelerationUnavailable, "instantiate kernel module", err).
			WithComponent("quality")
	}

	return &Accelerated{
		runtime: r,
		module:  mod,
		tier:    mod.ExportedFunction(exportTier),
		bitrate: mod.ExportedFunction(exportBitrate),
		logger:  logger.With("component", "quality", "impl", "accelerated"),
	}, nil
}

func checkExports(exports map[string]api.FunctionDefinition) error {
	want := map[string]struct {
		params  []api.ValueType
		results []api.ValueType
	}{
		exportTier:    {[]api.ValueType{api.ValueTypeF64}, []api.ValueType{api.ValueTypeI32}},
		exportBitrate: {[]api.ValueType{api.ValueTypeF64, api.ValueTypeF64, api.ValueTypeF64}, []api.ValueType{api.ValueTypeF64}},
	}

	for name, sig := range want {
		def, ok := exports[name]
		if !ok {
			return errors.Newf(errors.ErrCodeAccelerationUnavailable, "kernel module does not export %s", name).
				WithComponent("quality")
		}
		if !slices.Equal(def.ParamTypes(), sig.params) || !slices.Equal(def.ResultTypes(), sig.results) {
			return errors.Newf(errors.ErrCodeAccelerationUnavailable, "kernel export %s has wrong signature", name).
				WithComponent("quality")
		}
	}
	return nil
}

// Name returns "accelerated"
func (a *Accelerated) Name() string { return "accelerated" }

// QualityTier evaluates quality_tier in the kernel
func (a *Accelerated) QualityTier(bandwidth int64, resolution string) int {
	res, err := a.call(a.tier, api.EncodeF64(float64(bandwidth)))
	if err != nil {
		a.fallback(exportTier, err)
		return NewReference().QualityTier(bandwidth, resolution)
	}
	return tierFromFloat(float64(api.DecodeI32(res)))
}

// AdaptiveBitrate evaluates adaptive_bitrate in the kernel
func (a *Accelerated) AdaptiveBitrate(current int64, bufferHealth float64, observedSpeed int64) int64 {
	res, err := a.call(a.bitrate,
		api.EncodeF64(float64(current)),
		api.EncodeF64(bufferHealth),
		api.EncodeF64(float64(observedSpeed)))
	if err != nil {
		a.fallback(exportBitrate, err)
		return NewReference().AdaptiveBitrate(current, bufferHealth, observedSpeed)
	}
	return finishBitrate(current, api.DecodeF64(res))
}

// Fallbacks returns how many calls were answered by the reference path
func (a *Accelerated) Fallbacks() uint64 {
	return a.fallbacks.Load()
}

// Close releases the runtime
func (a *Accelerated) Close(ctx context.Context) error {
	return a.runtime.Close(ctx)
}

func (a *Accelerated) call(fn api.Function, params ...uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	results, err := fn.Call(context.Background(), params...)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("expected 1 result, got %d", len(results))
	}
	return results[0], nil
}

func (a *Accelerated) fallback(export string, err error) {
	a.fallbacks.Add(1)
	a.logger.Warn("Kernel call failed, using reference result", "export", export, "error", err)
}
