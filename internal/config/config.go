package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Workflow contains configuration for the background pipeline manager.
type Workflow struct {
	// JobPollInterval is the seconds between queue polls when idle.
	JobPollInterval int `toml:"job_poll_interval"`
	// ErrorRetryInterval is the seconds to wait after a queue fetch error.
	ErrorRetryInterval int `toml:"error_retry_interval"`
	// JobMaxRetries bounds attempts per pipeline step before rollback.
	JobMaxRetries int `toml:"job_max_retries"`
	// StaleJobTimeout is the seconds after which an in-flight job with no
	// progress update is reclaimed.
	StaleJobTimeout int `toml:"stale_job_timeout"`
	// MaxInsights caps how many insights the extraction step requests.
	MaxInsights int `toml:"max_insights"`
}

// Publishing contains configuration for the publish dispatcher.
type Publishing struct {
	// DispatchInterval is the seconds between dispatch sweeps.
	DispatchInterval int `toml:"dispatch_interval"`
	// WindowMinutes widens the due-item scan to include posts coming due soon.
	WindowMinutes int `toml:"window_minutes"`
	// BatchSize caps how many due posts one sweep picks up.
	BatchSize int `toml:"batch_size"`
	// Concurrency bounds simultaneous publish attempts.
	Concurrency int `toml:"concurrency"`
	// BucketMinutes is the time-bucket granularity for ordered dispatch.
	BucketMinutes int `toml:"bucket_minutes"`
	// SweepInterval is the seconds between retry sweeps over failed posts.
	SweepInterval int `toml:"sweep_interval"`
	// SweepMaxRetries bounds total attempts before the sweep stops requeuing.
	SweepMaxRetries int `toml:"sweep_max_retries"`
}

// Platform contains connection settings for one social platform adapter.
type Platform struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	AccessToken    string `toml:"access_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// RequestsPerMinute throttles publish calls to the platform API.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// ContentGen contains connection settings for the AI content generation API.
type ContentGen struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Config encapsulates all configuration values for postflow.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Workflow: pipeline manager polling and retry limits
//   - Publishing: dispatch batching, concurrency, and sweep cadence
//   - LinkedIn / X: platform adapter connections
//   - ContentGen: AI content generation connection
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Workflow   Workflow   `toml:"workflow"`
	Publishing Publishing `toml:"publishing"`
	LinkedIn   Platform   `toml:"linkedin"`
	X          Platform   `toml:"x"`
	ContentGen ContentGen `toml:"content_gen"`
	Logging    Logging    `toml:"logging"`
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/postflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err = os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("postflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the configured data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the annotated sample configuration to the target path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
