// Package config loads, normalizes, and validates devplay configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DEVPLAY_REGISTRY_URL. The Config type centralizes every knob the install
// queue controller and CLI need, so the state directory, registry endpoint,
// and simulator cadence are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
