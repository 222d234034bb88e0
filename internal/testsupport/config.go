package testsupport

import (
	"path/filepath"
	"testing"

	"devplay/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Batch pacing is disabled so tests do not sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Registry.BaseURL = "http://127.0.0.1:0"
	cfgVal.Registry.ReconcileSchedule = ""
	cfgVal.Queue.ClearHistoryDelayMillis = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRegistryURL points the test config at a registry endpoint.
func WithRegistryURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Registry.BaseURL = url
	}
}

// WithTotalTicks overrides the simulated install duration.
func WithTotalTicks(ticks int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.TotalTicks = ticks
	}
}

// WithPreserveProgressOnPause toggles the retained-progress pause behaviour.
func WithPreserveProgressOnPause(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.PreserveProgressOnPause = enabled
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
