package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/executor"
	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/tools"
)

// Invoker runs a tool invocation through the enforcement pipeline.
type Invoker interface {
	Invoke(ctx context.Context, agent *identity.AgentIdentity, tool string, payload json.RawMessage, idempotencyKey string) (*executor.Invocation, error)
}

// AgentResolver looks up the agent a task runs as.
type AgentResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*identity.AgentIdentity, error)
}

// Notifier receives out-of-band alerts from the runner. Optional.
type Notifier interface {
	TaskDead(ctx context.Context, task Task)
}

// RunnerConfig tunes the runner loop.
type RunnerConfig struct {
	PollInterval time.Duration // Tick cadence. Default: 1s.
	BatchSize    int           // Tasks claimed per tick. Default: 10.
	Concurrency  int           // Parallel dispatches per tick. Default: 4.
	BaseBackoff  time.Duration // First retry delay. Default: 5s.
	MaxBackoff   time.Duration // Retry delay cap. Default: 10m.
	StaleAfter   time.Duration // Claim age before reclaim. Default: 5m.
}

func (c RunnerConfig) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return time.Second
}

func (c RunnerConfig) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return 10
}

func (c RunnerConfig) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return 4
}

func (c RunnerConfig) baseBackoff() time.Duration {
	if c.BaseBackoff > 0 {
		return c.BaseBackoff
	}
	return 5 * time.Second
}

func (c RunnerConfig) maxBackoff() time.Duration {
	if c.MaxBackoff > 0 {
		return c.MaxBackoff
	}
	return 10 * time.Minute
}

func (c RunnerConfig) staleAfter() time.Duration {
	if c.StaleAfter > 0 {
		return c.StaleAfter
	}
	return 5 * time.Minute
}

// Runner claims due tasks and dispatches them through the invocation
// pipeline. Multiple runners may share a store; the atomic claim keeps
// them from double-executing.
type Runner struct {
	store    Store
	invoker  Invoker
	agents   AgentResolver
	notifier Notifier
	metrics  *Metrics
	config   RunnerConfig
	workerID string
	logger   *slog.Logger
}

// NewRunner creates a Runner. notifier and metrics may be nil.
func NewRunner(store Store, invoker Invoker, agents AgentResolver, notifier Notifier, metrics *Metrics, cfg RunnerConfig, logger *slog.Logger) *Runner {
	host, _ := os.Hostname()
	return &Runner{
		store:    store,
		invoker:  invoker,
		agents:   agents,
		notifier: notifier,
		metrics:  metrics,
		config:   cfg,
		workerID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		logger:   logger,
	}
}

// Run ticks until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "task runner started",
		slog.String("worker_id", r.workerID),
		slog.Duration("poll_interval", r.config.pollInterval()),
	)
	ticker := time.NewTicker(r.config.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "task runner stopped", slog.String("worker_id", r.workerID))
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one claim-and-dispatch cycle.
func (r *Runner) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	now := time.Now().UTC()

	reclaimed, err := r.store.ReclaimStale(ctx, now.Add(-r.config.staleAfter()))
	if err != nil {
		r.logger.WarnContext(ctx, "reclaiming stale claims failed", slog.String("error", err.Error()))
	} else if reclaimed > 0 {
		if r.metrics != nil {
			r.metrics.Reclaimed.Add(float64(reclaimed))
		}
		r.logger.WarnContext(ctx, "reclaimed stale task claims", slog.Int64("count", reclaimed))
	}

	claimed, err := r.store.ClaimDue(ctx, r.workerID, r.config.batchSize(), now)
	if err != nil {
		r.logger.ErrorContext(ctx, "claiming due tasks failed", slog.String("error", err.Error()))
		return
	}
	if len(claimed) == 0 {
		return
	}

	sem := make(chan struct{}, r.config.concurrency())
	var wg sync.WaitGroup
	for i := range claimed {
		task := claimed[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.process(ctx, task)
		}()
	}
	wg.Wait()
}

func (r *Runner) process(ctx context.Context, task Task) {
	if err := r.store.MarkRunning(ctx, task.ID); err != nil {
		r.logger.WarnContext(ctx, "marking task running failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	attempt := task.Attempts + 1

	agent, err := r.agents.Get(ctx, task.AgentID)
	if err != nil || !agent.Active {
		reason := "agent is inactive"
		if err != nil {
			reason = err.Error()
		}
		r.finish(ctx, task, StatusFailed, fmt.Sprintf("resolving agent: %s", reason))
		return
	}

	_, invErr := r.invoker.Invoke(ctx, agent, task.Tool, task.Payload, task.IdempotencyKey)
	if invErr == nil {
		r.finish(ctx, task, StatusSuccess, "")
		return
	}

	if !tools.IsRetryable(invErr) {
		r.finish(ctx, task, StatusFailed, invErr.Error())
		return
	}

	if attempt >= task.MaxAttempts {
		r.finish(ctx, task, StatusDead, invErr.Error())
		return
	}

	delay := r.backoff(attempt)
	if err := r.store.Requeue(ctx, task.ID, attempt, time.Now().UTC().Add(delay), invErr.Error()); err != nil {
		r.logger.ErrorContext(ctx, "requeueing task failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if r.metrics != nil {
		r.metrics.Retries.Inc()
	}
	r.logger.WarnContext(ctx, "task attempt failed, requeued",
		slog.String("task_id", task.ID.String()),
		slog.String("tool", task.Tool),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", delay),
		slog.String("error", invErr.Error()),
	)
}

func (r *Runner) finish(ctx context.Context, task Task, status Status, lastError string) {
	if err := r.store.Complete(ctx, task.ID, status, lastError); err != nil {
		r.logger.ErrorContext(ctx, "completing task failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if r.metrics != nil {
		r.metrics.Completed.WithLabelValues(task.Tool, string(status)).Inc()
	}

	switch status {
	case StatusSuccess:
		r.logger.InfoContext(ctx, "task succeeded",
			slog.String("task_id", task.ID.String()),
			slog.String("tool", task.Tool),
		)
	case StatusDead:
		r.logger.ErrorContext(ctx, "task dead, retries exhausted",
			slog.String("task_id", task.ID.String()),
			slog.String("tool", task.Tool),
			slog.Int("attempts", task.MaxAttempts),
			slog.String("error", lastError),
		)
		if r.notifier != nil {
			task.Status = StatusDead
			task.LastError = lastError
			r.notifier.TaskDead(ctx, task)
		}
	default:
		r.logger.WarnContext(ctx, "task failed",
			slog.String("task_id", task.ID.String()),
			slog.String("tool", task.Tool),
			slog.String("error", lastError),
		)
	}
}

// backoff returns the delay before attempt+1: base doubled per attempt,
// capped at the configured maximum.
func (r *Runner) backoff(attempt int) time.Duration {
	d := r.config.baseBackoff()
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.config.maxBackoff() {
			return r.config.maxBackoff()
		}
	}
	if d > r.config.maxBackoff() {
		return r.config.maxBackoff()
	}
	return d
}
