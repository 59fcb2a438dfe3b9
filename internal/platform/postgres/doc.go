// Package postgres implements the store interfaces on PostgreSQL.
// Stores accept a store.DBTX so they run identically on a *sql.DB or
// inside a transaction, and all database errors pass through MapError
// before leaving the package.
package postgres
