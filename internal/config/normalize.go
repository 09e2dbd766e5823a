package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizePublishing()
	c.normalizePlatforms()
	c.normalizeContentGen()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.JobPollInterval <= 0 {
		c.Workflow.JobPollInterval = defaultJobPollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.JobMaxRetries <= 0 {
		c.Workflow.JobMaxRetries = defaultJobMaxRetries
	}
	if c.Workflow.StaleJobTimeout <= 0 {
		c.Workflow.StaleJobTimeout = defaultStaleJobTimeout
	}
	if c.Workflow.MaxInsights <= 0 {
		c.Workflow.MaxInsights = defaultMaxInsights
	}
}

func (c *Config) normalizePublishing() {
	if c.Publishing.DispatchInterval <= 0 {
		c.Publishing.DispatchInterval = defaultDispatchInterval
	}
	if c.Publishing.WindowMinutes <= 0 {
		c.Publishing.WindowMinutes = defaultWindowMinutes
	}
	if c.Publishing.BatchSize <= 0 {
		c.Publishing.BatchSize = defaultBatchSize
	}
	if c.Publishing.Concurrency <= 0 {
		c.Publishing.Concurrency = defaultConcurrency
	}
	if c.Publishing.BucketMinutes <= 0 {
		c.Publishing.BucketMinutes = defaultBucketMinutes
	}
	if c.Publishing.SweepInterval <= 0 {
		c.Publishing.SweepInterval = defaultSweepInterval
	}
	if c.Publishing.SweepMaxRetries <= 0 {
		c.Publishing.SweepMaxRetries = defaultSweepMaxRetries
	}
}

func (c *Config) normalizePlatforms() {
	for _, platform := range []*Platform{&c.LinkedIn, &c.X} {
		platform.BaseURL = strings.TrimSpace(platform.BaseURL)
		platform.AccessToken = strings.TrimSpace(platform.AccessToken)
		if platform.TimeoutSeconds <= 0 {
			platform.TimeoutSeconds = defaultPlatformTimeoutSeconds
		}
		if platform.RequestsPerMinute <= 0 {
			platform.RequestsPerMinute = defaultRequestsPerMinute
		}
	}
}

func (c *Config) normalizeContentGen() {
	c.ContentGen.APIKey = strings.TrimSpace(c.ContentGen.APIKey)
	if strings.TrimSpace(c.ContentGen.BaseURL) == "" {
		c.ContentGen.BaseURL = defaultContentGenBaseURL
	}
	if strings.TrimSpace(c.ContentGen.Model) == "" {
		c.ContentGen.Model = defaultContentGenModel
	}
	if c.ContentGen.TimeoutSeconds <= 0 {
		c.ContentGen.TimeoutSeconds = defaultContentGenTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
