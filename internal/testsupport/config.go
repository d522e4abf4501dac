package testsupport

import (
	"path/filepath"
	"testing"

	"cubemill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workers.Count = 2
	cfg.Workers.Units = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithBlockShape overrides the configured block dimensions.
func WithBlockShape(rows, cols int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Processing.BlockRows = rows
		cfg.Processing.BlockCols = cols
	}
}

// WithMemoryCeiling overrides the memory ceiling in gigabytes.
func WithMemoryCeiling(gb float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Memory.CeilingGB = gb
	}
}

// WithWorkers sets the block worker and unit worker counts.
func WithWorkers(count, units int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.Count = count
		cfg.Workers.Units = units
	}
}

// WithKeepBlockFiles leaves block artifacts in place after merging.
func WithKeepBlockFiles() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Processing.KeepBlockFiles = true
	}
}

// WithSplitLayers writes one single-band output file per layer.
func WithSplitLayers() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Processing.SplitLayers = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
