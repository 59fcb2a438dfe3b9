// Package store defines the persistence interfaces consumed by the
// queue core and the sentinel errors their implementations return. The
// relational store itself is an external collaborator; implementations
// live under internal/platform/postgres.
package store
