package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/karibuhq/karibu/internal/config"
	"github.com/karibuhq/karibu/internal/gateway/httpapi"
	"github.com/karibuhq/karibu/internal/leader"
	"github.com/karibuhq/karibu/internal/ratelimit"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server (HTTP API, task runner, scheduler)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `karibu --config path` and `karibu serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts Karibu in server mode: the HTTP API gateway plus the
// background loops (task runner, schedule firing, ledger sweep).
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("KARIBU_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}

	logger := newLogger(cfg.Logging)
	logger.Info("starting in server mode",
		slog.String("config", serveConfigPath),
		slog.String("addr", cfg.Server.Addr()),
	)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger sweep loop (expired record GC).
	go sc.Ledger.Run(ctx)

	// Background task runner (optional).
	if cfg.Runner.Enabled {
		var notifier taskqueue.Notifier
		if sc.Dispatcher != nil {
			notifier = sc.Dispatcher
		}
		runner := taskqueue.NewRunner(
			sc.Store.Tasks(),
			sc.Exec,
			sc.Identities,
			notifier,
			sc.TaskMet,
			taskqueue.RunnerConfig{
				PollInterval: cfg.Runner.PollInterval(),
				BatchSize:    cfg.Runner.BatchSize,
				Concurrency:  cfg.Runner.Concurrency,
				BaseBackoff:  cfg.Runner.BaseBackoff(),
				MaxBackoff:   cfg.Runner.MaxBackoff(),
				StaleAfter:   cfg.Runner.StaleAfter(),
			},
			logger,
		)
		go runner.Run(ctx)
		logger.Debug("task runner started",
			slog.String("poll_interval", cfg.Runner.PollInterval().String()),
			slog.Int("concurrency", cfg.Runner.Concurrency),
		)
	}

	// Cron scheduler (optional).
	var scheduler *taskqueue.Scheduler
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		scheduler = taskqueue.NewScheduler(
			sc.Store.Schedules(),
			sc.Queue,
			taskqueue.SchedulerConfig{PollInterval: cfg.Scheduler.PollInterval()},
			logger,
		)
		go scheduler.Run(ctx)
		logger.Debug("scheduler started",
			slog.String("poll_interval", cfg.Scheduler.PollInterval().String()),
		)
	}

	// Inbound lead router (optional).
	var leadRouter *leader.Router
	if cfg.Leads != nil && cfg.Leads.Enabled {
		roleAgents := buildRoleAgents(cfg.Leads.RoleAgents, logger)
		leadRouter = leader.NewRouter(sc.Queue, roleAgents, logger)
		logger.Debug("lead router initialized", slog.Int("roles", len(roleAgents)))
	}

	// Per-agent rate limiter.
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	// HTTP API gateway.
	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		AdminAPIKey:    cfg.Server.AdminAPIKey,
		MaxRequestSize: cfg.Server.MaxRequestSize(),
	}
	if sc.Obs != nil {
		gwCfg.Metrics = sc.Obs.Metrics
		gwCfg.HealthChecker = sc.Obs.Health
		gwCfg.MetricsRegistry = sc.Obs.Registry()
		if sc.Obs.Tracer != nil {
			gwCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
	}

	gw := httpapi.NewGateway(gwCfg, sc.Identities, sc.Exec, sc.Queue, limiter, logger).
		WithAudit(sc.Store.Audit())
	if scheduler != nil {
		gw.WithScheduler(scheduler, sc.Store.Schedules())
	}
	if leadRouter != nil {
		gw.WithLeadRouter(leadRouter)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}

	return nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildRoleAgents parses the role → agent UUID mapping from config.
// Invalid entries are skipped with a warning rather than failing startup.
func buildRoleAgents(mapping map[string]string, logger *slog.Logger) map[security.Role]uuid.UUID {
	roleAgents := make(map[security.Role]uuid.UUID, len(mapping))
	for roleName, agentID := range mapping {
		role, ok := security.ParseRole(roleName)
		if !ok {
			logger.Warn("skipping lead route with unknown role", slog.String("role", roleName))
			continue
		}
		id, err := uuid.Parse(agentID)
		if err != nil {
			logger.Warn("skipping lead route with invalid agent ID",
				slog.String("role", roleName),
				slog.String("agent_id", agentID),
			)
			continue
		}
		roleAgents[role] = id
	}
	return roleAgents
}
