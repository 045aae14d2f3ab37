// Package sqlite implements the unified Store interface using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Key differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - JSONB columns use TEXT type (SQLite stores JSON as text natively)
//   - No connection pooling (single file, WAL handles concurrency)
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/storage"
	pgstore "github.com/karibuhq/karibu/internal/storage/postgres"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// Store implements storage.Store backed by SQLite.
// All sub-stores reuse the PostgreSQL repository implementations since
// they operate on the same GORM models. GORM's SQLite dialect handles
// the SQL differences transparently.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	identities *pgstore.IdentityRepository
	ledgerRepo *pgstore.LedgerRepository
	tasks      *pgstore.TaskRepository
	schedules  *pgstore.ScheduleRepository
	audit      *pgstore.AuditRepository
}

// Open creates a new SQLite-backed Store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     slogger,
		path:       cfg.Path,
		identities: pgstore.NewIdentityRepository(db),
		ledgerRepo: pgstore.NewLedgerRepository(db),
		tasks:      pgstore.NewTaskRepository(db),
		schedules:  pgstore.NewScheduleRepository(db),
		audit:      pgstore.NewAuditRepository(db),
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

func (s *Store) Identities() identity.Store         { return s.identities }
func (s *Store) Ledger() ledger.Store               { return s.ledgerRepo }
func (s *Store) Tasks() taskqueue.Store             { return s.tasks }
func (s *Store) Schedules() taskqueue.ScheduleStore { return s.schedules }
func (s *Store) Audit() security.AuditStore         { return s.audit }

// Migrate runs GORM AutoMigrate using the same models as the PostgreSQL backend.
func (s *Store) Migrate(_ context.Context) error {
	return pgstore.AutoMigrate(s.db)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
