package testsupport

import (
	"path/filepath"
	"testing"

	"postflow/internal/config"
	"postflow/internal/project"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.LinkedIn.Enabled = true
	cfg.LinkedIn.AccessToken = "test-linkedin"
	cfg.X.Enabled = true
	cfg.X.AccessToken = "test-x"
	cfg.ContentGen.APIKey = "test-content"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithPlatformDisabled turns off one publishing platform on the test config.
func WithPlatformDisabled(platform project.Platform) ConfigOption {
	return func(cfg *config.Config) {
		switch platform {
		case project.PlatformLinkedIn:
			cfg.LinkedIn.Enabled = false
		case project.PlatformX:
			cfg.X.Enabled = false
		}
	}
}

// WithDispatchBatchSize overrides the dispatcher batch cap on the test config.
func WithDispatchBatchSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Publishing.BatchSize = size
	}
}
