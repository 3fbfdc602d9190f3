// Package migrations generates the bookkeeping DDL used by the migrator: the
// per-namespace version table and the run history tables that record fleet
// reports. PostgreSQL, MySQL/MariaDB and SQLite are supported.
package migrations
