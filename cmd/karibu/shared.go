package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/karibuhq/karibu/internal/config"
	"github.com/karibuhq/karibu/internal/executor"
	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/notification"
	"github.com/karibuhq/karibu/internal/observability"
	"github.com/karibuhq/karibu/internal/platform"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/storage"
	pgstore "github.com/karibuhq/karibu/internal/storage/postgres"
	sqlitestore "github.com/karibuhq/karibu/internal/storage/sqlite"
	"github.com/karibuhq/karibu/internal/taskqueue"
	"github.com/karibuhq/karibu/internal/tools"
)

// SharedComponents holds all initialized subsystems that both server and
// agent-management modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).

	Obs        *observability.Observability
	Identities *identity.Manager
	Policy     *security.Policy
	Ledger     *ledger.Ledger
	ToolReg    *tools.Registry
	Dispatcher *notification.Dispatcher // nil = notifications disabled.
	Exec       *executor.Executor
	Queue      *taskqueue.Queue
	TaskMet    *taskqueue.Metrics

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between server and
// agent-management modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Agent identities.
	sc.Identities = identity.NewManager(store.Identities(), logger)

	// First-run admin bootstrap.
	if cfg.Bootstrap != nil && cfg.Bootstrap.Enabled {
		if err := bootstrapAdmin(cfg, sc.Identities, logger); err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("bootstrapping admin agent: %w", err)
		}
	}

	// Permission policy (default-deny, fixed tool table).
	sc.Policy = security.NewPolicy(security.DefaultPolicies(), logger)

	// Idempotency ledger.
	sc.Ledger = ledger.New(store.Ledger(), ledger.Config{
		TTL:           cfg.Ledger.TTL(),
		SweepInterval: cfg.Ledger.SweepInterval(),
	}, logger)

	// Platform client + tool registry.
	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, logger)
	sc.ToolReg = buildToolRegistry(client, logger)
	logger.Debug("tools registered", slog.Any("tools", sc.ToolReg.List()))

	// Notification dispatcher (optional).
	if cfg.Notification != nil && cfg.Notification.Enabled {
		var senders []notification.Sender
		if cfg.Notification.Webhook != nil && cfg.Notification.Webhook.URL != "" {
			senders = append(senders, notification.NewWebhookSender(cfg.Notification.Webhook.URL))
		}
		if cfg.Notification.Slack != nil && cfg.Notification.Slack.BotToken != "" {
			senders = append(senders, notification.NewSlackSender(
				cfg.Notification.Slack.BotToken,
				cfg.Notification.Slack.ChannelID,
			))
		}
		if len(senders) > 0 {
			sc.Dispatcher = notification.NewDispatcher(senders, logger)
			logger.Debug("notification dispatcher initialized", slog.Int("senders", len(senders)))
		}
	}

	// The Dispatcher is a concrete pointer; assigning a nil pointer to the
	// interface would make it non-nil. Only assign when notifications are on.
	var execNotifier executor.Notifier
	if sc.Dispatcher != nil {
		execNotifier = sc.Dispatcher
	}

	// Invocation pipeline.
	sc.Exec = executor.New(
		sc.Policy,
		sc.ToolReg,
		sc.Ledger,
		store.Audit(),
		execNotifier,
		executor.NewMetrics(obs.Registry()),
		executor.Config{ExecTimeout: cfg.Executor.ExecTimeout()},
		logger,
	)

	// Task queue.
	sc.TaskMet = taskqueue.NewMetrics(obs.Registry())
	sc.Queue = taskqueue.NewQueue(store.Tasks(), sc.TaskMet, logger)

	// Health checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	return sc, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        cfg.DatabasePath(),
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or KARIBU_DB_DSN)")
	}

	pg := cfg.Storage.Postgres
	return pgstore.NewStore(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
}

// buildToolRegistry registers the full curated tool set against the
// platform client.
func buildToolRegistry(client *platform.Client, logger *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry()

	reg.Register(tools.NewCreateBookingTool(client, logger))
	reg.Register(tools.NewCancelBookingTool(client, logger))
	reg.Register(tools.NewChargeTool(client, logger))
	reg.Register(tools.NewRefundTool(client, logger))
	reg.Register(tools.NewUpdatePricingTool(client, logger))
	reg.Register(tools.NewSyncCalendarTool(client, logger))
	reg.Register(tools.NewLaunchCampaignTool(client, logger))
	reg.Register(tools.NewSendMessageTool(client, logger))
	reg.Register(tools.NewOpenTicketTool(client, logger))
	reg.Register(tools.NewCreateVendorTool(client, logger))
	reg.Register(tools.NewSuspendVendorTool(client, logger))
	reg.Register(tools.NewCompleteTool(client, logger))

	return reg
}

// bootstrapAdmin creates an OWNER agent when the identity store is empty.
// The one-time secret is printed to stdout; it cannot be recovered later.
func bootstrapAdmin(cfg *config.Config, identities *identity.Manager, logger *slog.Logger) error {
	ctx := context.Background()

	agents, err := identities.List(ctx)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}
	if len(agents) > 0 {
		return nil
	}

	agent, secret, err := identities.Issue(ctx, cfg.Bootstrap.AdminName(), security.RoleOwner, nil)
	if err != nil {
		return fmt.Errorf("issuing admin agent: %w", err)
	}

	logger.Warn("bootstrap admin agent created",
		slog.String("agent_id", agent.ID.String()),
		slog.String("display_name", agent.DisplayName),
	)
	fmt.Printf("bootstrap admin credential (shown once, store it now): %s\n", secret)

	return nil
}
