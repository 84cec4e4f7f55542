package config

import (
	"fmt"
	"strings"
)

var validDrivers = map[string]bool{"memory": true, "sqlite": true}

var validLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true,
	"warn": true, "error": true,
}

// Validate checks structural invariants that hold regardless of environment.
// Token presence is checked at startup, not here, so a watch reload cannot
// reject a file that intentionally leaves the token to the environment.
func (c *Config) Validate() error {
	if !validLevels[strings.ToLower(strings.TrimSpace(c.Logging.Level))] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if !validLevels[strings.ToLower(strings.TrimSpace(c.Logging.Report.MinLevel))] {
		return fmt.Errorf("logging.report.min_level: unknown level %q", c.Logging.Report.MinLevel)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path: required when file logging is enabled")
	}
	if c.Logging.Report.Enabled && strings.TrimSpace(c.Logging.Report.ChannelID) == "" {
		return fmt.Errorf("logging.report.channel_id: required when reporting is enabled")
	}

	driver := strings.TrimSpace(c.Storage.Driver)
	if driver == "" {
		return fmt.Errorf("storage.driver: required")
	}
	if !validDrivers[driver] {
		return fmt.Errorf("storage.driver: unknown driver %q", driver)
	}
	if driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required for the sqlite driver")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.poll_interval", c.Storage.PollInterval); err != nil {
		return err
	}

	if c.Delivery.Workers < 0 || c.Delivery.QueueSize < 0 || c.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery: negative values are not allowed")
	}

	for _, field := range []struct{ name, raw string }{
		{"reconcile.sanity_interval", c.Reconcile.SanityInterval},
		{"reconcile.branding_interval", c.Reconcile.BrandingInterval},
		{"reconcile.census_interval", c.Reconcile.CensusInterval},
	} {
		if _, err := ParseDurationField(field.name, field.raw); err != nil {
			return err
		}
	}
	if c.Reconcile.MinMembers < 0 || c.Reconcile.CensusFloor < 0 {
		return fmt.Errorf("reconcile: negative values are not allowed")
	}
	return nil
}
