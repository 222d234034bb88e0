// Package installer exposes the install-queue operations a storefront UI
// calls: start, pause, download all, delete pending, uninstall and clear
// history.
//
// Controller owns the queue store and wires it to the progress simulator,
// the reconciliation engine, the remote registry and the notifier. It is the
// only writer of queue state; hosts observe it through Snapshot and Events.
// Restore must run before any operation so persisted installs resume from
// where they stopped instead of being overwritten.
//
// Operations and simulator ticks take turns on one lock. Registry calls are
// made outside it, so a finished install whose registration is still out
// stays in progress at 100 until the registry answers.
package installer
