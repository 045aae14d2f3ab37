package postgres

import (
	"context"
	"log/slog"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/storage"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *DB

	identities *IdentityRepository
	ledgerRepo *LedgerRepository
	tasks      *TaskRepository
	schedules  *ScheduleRepository
	audit      *AuditRepository
}

// NewStore connects to PostgreSQL and builds all repositories.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	gdb := db.GormDB()
	return &Store{
		db:         db,
		identities: NewIdentityRepository(gdb),
		ledgerRepo: NewLedgerRepository(gdb),
		tasks:      NewTaskRepository(gdb),
		schedules:  NewScheduleRepository(gdb),
		audit:      NewAuditRepository(gdb),
	}, nil
}

func (s *Store) Identities() identity.Store         { return s.identities }
func (s *Store) Ledger() ledger.Store               { return s.ledgerRepo }
func (s *Store) Tasks() taskqueue.Store             { return s.tasks }
func (s *Store) Schedules() taskqueue.ScheduleStore { return s.schedules }
func (s *Store) Audit() security.AuditStore         { return s.audit }

// Migrate runs GORM AutoMigrate to create/update tables.
func (s *Store) Migrate(_ context.Context) error {
	return AutoMigrate(s.db.GormDB())
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
