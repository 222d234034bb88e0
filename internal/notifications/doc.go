// Package notifications delivers install-queue events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Enumerated events
// cover the install lifecycle milestones worth a push message so the queue
// controller can emit consistent messages without duplicating HTTP glue.
package notifications
