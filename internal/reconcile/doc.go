// Package reconcile keeps the owned partition aligned with the remote
// registry for the active identity.
//
// Engine is driven by explicit lifecycle events: OnIdentityChanged for
// login, logout and user switches, and OnResume for focus or periodic
// refreshes. An identity change first wipes pending and in-progress state
// (in memory and on disk) so no install leaks between identities, then
// replaces the owned partition with the registry's answer. Fetch failures
// keep the previous owned snapshot and are reported, never fatal. A response
// that arrives after the identity moved on is discarded.
package reconcile
