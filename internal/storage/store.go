// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
package storage

import (
	"context"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

// Store is the unified persistence interface for Karibu.
// It provides access to all domain-specific sub-stores through accessor methods.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Sub-store accessors — each returns a domain-specific store interface.
	// The returned stores share the same underlying connection.
	Identities() identity.Store
	Ledger() ledger.Store
	Tasks() taskqueue.Store
	Schedules() taskqueue.ScheduleStore
	Audit() security.AuditStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
