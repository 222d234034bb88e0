// Package registry talks to the remote install registry: the CRUD backend
// that records which catalog items each identity has installed.
//
// Client covers the four endpoints the install manager consumes: the owned
// items of an identity, install registration, install removal, and the full
// catalog. Every request carries an X-Request-ID so registry logs can be
// correlated with local ones. Non-2xx responses surface as *StatusError;
// IsTransient separates retry-worthy failures from permanent ones.
//
// The registrytest subpackage provides an in-memory fake registry for tests
// and local runs.
package registry
