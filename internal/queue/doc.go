// Package queue holds install records in three disjoint partitions (pending,
// in progress, owned) and persists the in-flight partitions to SQLite.
//
// The Store is the single shared mutable resource of the install manager.
// Every mutation goes through the remove-then-insert move primitive, so an
// item is never visible in two partitions or in none. Mutations that touch
// pending or in-progress records hand a snapshot to the configured
// Snapshotter; the owned partition is never persisted locally because the
// remote registry is the source of truth for ownership.
//
// SQLitePersister is the durable Snapshotter. Loading is defensive: missing or
// malformed snapshots produce empty partitions rather than errors. Schema
// changes bump the version in schema.go; users clear the database to adopt
// the new schema.
package queue
