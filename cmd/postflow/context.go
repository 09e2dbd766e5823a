package main

import (
	"strings"
	"sync"

	"postflow/internal/config"
	"postflow/internal/jobs"
	"postflow/internal/logging"
	"postflow/internal/pipeline"
	"postflow/internal/publish"
	"postflow/internal/services/linkedin"
	"postflow/internal/services/x"
	"postflow/internal/store"
)

// commandContext lazily resolves shared command dependencies. Commands run
// against the store directly; SQLite WAL mode keeps that safe alongside a
// running daemon.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	storeOnce sync.Once
	store     *store.Store
	storeErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureStore() (*store.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		c.store, c.storeErr = store.Open(cfg)
	})
	return c.store, c.storeErr
}

func (c *commandContext) service() (*pipeline.Service, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	tracker := jobs.NewTracker(st, logging.NewNop())
	return pipeline.NewService(cfg, st, tracker, nil, nil), nil
}

func (c *commandContext) dispatcher() (*publish.Dispatcher, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	var publishers []publish.Publisher
	if cfg.LinkedIn.Enabled {
		publishers = append(publishers, linkedin.NewClient(cfg.LinkedIn))
	}
	if cfg.X.Enabled {
		publishers = append(publishers, x.NewClient(cfg.X))
	}
	return publish.NewDispatcher(st, cfg.Publishing, publishers, nil, nil), nil
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
}
