package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if strings.TrimSpace(c.Registry.BaseURL) == "" {
		return errors.New("registry.base_url must be set. Set DEVPLAY_REGISTRY_URL or edit the config (create with 'devplay config init')")
	}
	parsed, err := url.Parse(c.Registry.BaseURL)
	if err != nil {
		return fmt.Errorf("registry.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("registry.base_url must use http or https, got %q", c.Registry.BaseURL)
	}
	if c.Registry.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.Registry.ReconcileSchedule); err != nil {
			return fmt.Errorf("registry.reconcile_schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.TotalTicks < 1 {
		return errors.New("queue.total_ticks must be at least 1")
	}
	if c.Queue.TickIntervalMillis < 1 {
		return errors.New("queue.tick_interval_ms must be positive")
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
