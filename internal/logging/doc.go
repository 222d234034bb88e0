// Package logging assembles structured slog loggers and formatting helpers used
// across devplay components.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so queue code can tag log lines with item
// IDs, identities, and correlation IDs without threading them by hand. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
