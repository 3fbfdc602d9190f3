// Package store defines the persistence contracts used by the migrator:
// namespace access, per-namespace locking, table inspection and run history.
//
// Backends live in subpackages: postgres (schemas), mysql (databases),
// sqlite (one file per namespace) and memory (tests).
package store
