package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRegistry()
	c.normalizeQueue()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRegistry() {
	c.Registry.BaseURL = strings.TrimRight(strings.TrimSpace(c.Registry.BaseURL), "/")
	if value, ok := os.LookupEnv("DEVPLAY_REGISTRY_URL"); ok && strings.TrimSpace(value) != "" {
		if c.Registry.BaseURL == "" || c.Registry.BaseURL == defaultRegistryBaseURL {
			c.Registry.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	c.Registry.APIToken = strings.TrimSpace(c.Registry.APIToken)
	if c.Registry.APIToken == "" {
		c.Registry.APIToken = strings.TrimSpace(os.Getenv("DEVPLAY_REGISTRY_TOKEN"))
	}
	if c.Registry.RequestTimeout <= 0 {
		c.Registry.RequestTimeout = defaultRegistryRequestTimeout
	}
	c.Registry.ReconcileSchedule = strings.TrimSpace(c.Registry.ReconcileSchedule)
}

func (c *Config) normalizeQueue() {
	if c.Queue.TickIntervalMillis <= 0 {
		c.Queue.TickIntervalMillis = defaultTickIntervalMillis
	}
	if c.Queue.TotalTicks <= 0 {
		c.Queue.TotalTicks = defaultTotalTicks
	}
	if c.Queue.ClearHistoryDelayMillis < 0 {
		c.Queue.ClearHistoryDelayMillis = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
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
