package main

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/timmy/tunematch/internal/logger"
)

type commandContext struct {
	configFlag  *string
	metricsFlag *string

	appOnce sync.Once
	app     *app
	appErr  error
}

func newCommandContext(configFlag, metricsFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		metricsFlag: metricsFlag,
	}
}

// ensureApp wires every component once per process.
func (c *commandContext) ensureApp(ctx context.Context) (*app, error) {
	c.appOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.app, c.appErr = newApp(ctx, path)
	})
	return c.app, c.appErr
}

func (c *commandContext) close() error {
	if c.app == nil {
		return nil
	}

	var errs []error
	if c.metricsFlag != nil && *c.metricsFlag != "" {
		if err := c.app.metrics.WriteTextfile(*c.metricsFlag); err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("Wrote metrics: path=%s", *c.metricsFlag)
		}
	}
	errs = append(errs, c.app.Close())
	c.app = nil
	_ = logger.Sync()
	return errors.Join(errs...)
}
