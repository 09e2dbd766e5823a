package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePublishing(); err != nil {
		return err
	}
	if err := c.validatePlatforms(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validatePublishing() error {
	if c.Publishing.Concurrency > 64 {
		return fmt.Errorf("publishing.concurrency %d is unreasonably large (max 64)", c.Publishing.Concurrency)
	}
	if c.Publishing.BatchSize > 500 {
		return fmt.Errorf("publishing.batch_size %d is unreasonably large (max 500)", c.Publishing.BatchSize)
	}
	return nil
}

func (c *Config) validatePlatforms() error {
	for name, platform := range map[string]Platform{"linkedin": c.LinkedIn, "x": c.X} {
		if !platform.Enabled {
			continue
		}
		if platform.BaseURL == "" {
			return fmt.Errorf("%s.base_url must be set when %s.enabled is true", name, name)
		}
		if platform.AccessToken == "" {
			return fmt.Errorf("%s.access_token must be set when %s.enabled is true", name, name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
