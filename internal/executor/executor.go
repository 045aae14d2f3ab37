// Package executor runs the tool invocation pipeline: permission check,
// idempotency ledger, payload validation, execution, audit. Every entry
// point into the system, HTTP or task runner, goes through Invoke so the
// enforcement order cannot be bypassed.
package executor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/tools"
)

// ErrValidation marks a malformed payload. Terminal and never retried;
// the failure commits to the ledger so a replay of the same payload
// observes the same rejection instead of re-running validation.
var ErrValidation = errors.New("payload validation failed")

// ErrCachedFailure marks a replay of a terminal failure already recorded
// in the ledger. The original error text is carried in the wrapped message
// and in the Invocation returned alongside it.
var ErrCachedFailure = errors.New("replayed terminal failure")

const summaryMaxBytes = 256

// Notifier receives out-of-band alerts from the pipeline. Optional.
type Notifier interface {
	HighRiskDenied(ctx context.Context, agent *identity.AgentIdentity, tool, reason string)
}

// Config tunes pipeline behavior.
type Config struct {
	ExecTimeout time.Duration // Per-execution deadline. Default: 60s.
}

func (c Config) execTimeout() time.Duration {
	if c.ExecTimeout > 0 {
		return c.ExecTimeout
	}
	return 60 * time.Second
}

// Invocation is the outcome of a pipeline run that reached a terminal state.
type Invocation struct {
	Status        ledger.OutcomeStatus `json:"status"`
	Cached        bool                 `json:"cached"`
	Output        json.RawMessage      `json:"output,omitempty"`
	Summary       string               `json:"summary,omitempty"`
	Error         string               `json:"error,omitempty"`
	CorrelationID string               `json:"correlation_id"`
}

// Executor is the invocation pipeline.
type Executor struct {
	policy   *security.Policy
	registry *tools.Registry
	ledger   *ledger.Ledger
	audit    security.AuditStore
	notifier Notifier
	metrics  *Metrics
	config   Config
	logger   *slog.Logger
}

// New creates an Executor. notifier and metrics may be nil.
func New(
	policy *security.Policy,
	registry *tools.Registry,
	ldg *ledger.Ledger,
	audit security.AuditStore,
	notifier Notifier,
	metrics *Metrics,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		policy:   policy,
		registry: registry,
		ledger:   ldg,
		audit:    audit,
		notifier: notifier,
		metrics:  metrics,
		config:   cfg,
		logger:   logger,
	}
}

// Invoke runs one tool invocation for an authenticated agent.
//
// Enforcement order: authorize, ledger, validate, execute. A denial never
// consumes the idempotency key; any terminal result — success, execution
// failure or validation failure — commits it. A replayed terminal failure
// returns the cached Invocation together with ErrCachedFailure. Exactly
// one audit entry is written per call.
func (e *Executor) Invoke(ctx context.Context, agent *identity.AgentIdentity, toolName string, payload json.RawMessage, idempotencyKey string) (*Invocation, error) {
	corrID := newCorrelationID()
	start := time.Now()

	if err := e.policy.Authorize(ctx, agent.Role, toolName); err != nil {
		e.recordDenial(ctx, agent, toolName, payload, corrID, err)
		return nil, err
	}

	tool := e.registry.Get(toolName)
	if tool == nil {
		// Policy knows the tool but the registry does not: deployment
		// misconfiguration, not a client error.
		err := fmt.Errorf("tool %q authorized but not registered", toolName)
		e.logger.ErrorContext(ctx, "tool registry gap", slog.String("tool", toolName))
		e.appendAudit(ctx, agent, toolName, security.AuditFailed, false, err.Error(), payload, "", corrID)
		return nil, err
	}

	if idempotencyKey == "" {
		idempotencyKey = ledger.Fingerprint(payload)
	}

	begin, err := e.ledger.Begin(ctx, toolName, idempotencyKey, payload)
	if err != nil {
		reason := "ledger: " + err.Error()
		e.appendAudit(ctx, agent, toolName, security.AuditFailed, false, reason, payload, "", corrID)
		if errors.Is(err, ledger.ErrInFlight) {
			e.countInvocation(toolName, "in_flight")
			return nil, tools.Retryable(err)
		}
		e.countInvocation(toolName, "conflict")
		return nil, err
	}

	if begin.Disposition == ledger.Cached {
		return e.replayCached(ctx, agent, toolName, payload, corrID, begin.Outcome)
	}

	if err := tool.Validate(payload); err != nil {
		verr := fmt.Errorf("%w: %v", ErrValidation, err)
		outcome := ledger.Outcome{Status: ledger.OutcomeFailed, Error: verr.Error()}
		if cerr := e.ledger.Commit(ctx, toolName, idempotencyKey, begin.Fingerprint, outcome); cerr != nil {
			e.logger.WarnContext(ctx, "ledger commit failed for invalid payload", slog.String("error", cerr.Error()))
		}
		e.appendAudit(ctx, agent, toolName, security.AuditFailed, false, verr.Error(), payload, "", corrID)
		e.countInvocation(toolName, "invalid")
		return nil, verr
	}

	execCtx, cancel := context.WithTimeout(ctx, e.config.execTimeout())
	result, execErr := tool.Execute(execCtx, payload)
	cancel()

	if e.metrics != nil {
		e.metrics.Duration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
	}

	if execErr != nil {
		return e.finishFailed(ctx, agent, toolName, idempotencyKey, begin.Fingerprint, payload, corrID, execErr)
	}

	outcome := ledger.Outcome{Status: ledger.OutcomeSuccess, Result: result.Output}
	if err := e.ledger.Commit(ctx, toolName, idempotencyKey, begin.Fingerprint, outcome); err != nil {
		// The side effect happened but the ledger record is lost; surface
		// loudly so a retry is understood to possibly double-execute.
		e.logger.ErrorContext(ctx, "ledger commit failed after successful execution",
			slog.String("tool", toolName),
			slog.String("error", err.Error()),
		)
	}

	e.appendAudit(ctx, agent, toolName, security.AuditSuccess, false, "", payload, result.Summary, corrID)
	e.countInvocation(toolName, "success")
	e.logger.InfoContext(ctx, "tool invocation succeeded",
		slog.String("tool", toolName),
		slog.String("agent_id", agent.ID.String()),
		slog.String("correlation_id", corrID),
		slog.Duration("duration", time.Since(start)),
	)

	return &Invocation{
		Status:        ledger.OutcomeSuccess,
		Output:        result.Output,
		Summary:       result.Summary,
		CorrelationID: corrID,
	}, nil
}

func (e *Executor) replayCached(ctx context.Context, agent *identity.AgentIdentity, toolName string, payload json.RawMessage, corrID string, outcome *ledger.Outcome) (*Invocation, error) {
	status := security.AuditSuccess
	if outcome.Status == ledger.OutcomeFailed {
		status = security.AuditFailed
	}
	e.appendAudit(ctx, agent, toolName, status, true, outcome.Error, payload, "", corrID)
	if e.metrics != nil {
		e.metrics.CacheHits.Inc()
	}
	e.countInvocation(toolName, "cached")
	e.logger.InfoContext(ctx, "invocation served from ledger",
		slog.String("tool", toolName),
		slog.String("agent_id", agent.ID.String()),
		slog.String("correlation_id", corrID),
	)
	inv := &Invocation{
		Status:        outcome.Status,
		Cached:        true,
		Output:        outcome.Result,
		Error:         outcome.Error,
		CorrelationID: corrID,
	}
	if outcome.Status == ledger.OutcomeFailed {
		// The recorded outcome is a failure, so the replay is one too.
		// Callers that branch on success must see a non-nil error.
		return inv, fmt.Errorf("%w: %s", ErrCachedFailure, outcome.Error)
	}
	return inv, nil
}

func (e *Executor) finishFailed(ctx context.Context, agent *identity.AgentIdentity, toolName, key, fingerprint string, payload json.RawMessage, corrID string, execErr error) (*Invocation, error) {
	retryable := tools.IsRetryable(execErr)

	if retryable {
		// Release the reservation so a resubmission executes fresh.
		if err := e.ledger.Abort(ctx, toolName, key); err != nil {
			e.logger.WarnContext(ctx, "ledger abort failed", slog.String("error", err.Error()))
		}
	} else {
		outcome := ledger.Outcome{Status: ledger.OutcomeFailed, Error: execErr.Error()}
		if err := e.ledger.Commit(ctx, toolName, key, fingerprint, outcome); err != nil {
			e.logger.WarnContext(ctx, "ledger commit failed for terminal failure", slog.String("error", err.Error()))
		}
	}

	e.appendAudit(ctx, agent, toolName, security.AuditFailed, false, execErr.Error(), payload, "", corrID)
	e.countInvocation(toolName, "failed")
	e.logger.WarnContext(ctx, "tool invocation failed",
		slog.String("tool", toolName),
		slog.String("agent_id", agent.ID.String()),
		slog.String("correlation_id", corrID),
		slog.Bool("retryable", retryable),
		slog.String("error", execErr.Error()),
	)
	return nil, execErr
}

func (e *Executor) recordDenial(ctx context.Context, agent *identity.AgentIdentity, toolName string, payload json.RawMessage, corrID string, denyErr error) {
	reason := denialReason(denyErr)
	e.appendAudit(ctx, agent, toolName, security.AuditDenied, false, denyErr.Error(), payload, "", corrID)
	if e.metrics != nil {
		e.metrics.Denials.WithLabelValues(reason).Inc()
	}
	if e.notifier != nil && errors.Is(denyErr, security.ErrInsufficientRiskTier) {
		e.notifier.HighRiskDenied(ctx, agent, toolName, denyErr.Error())
	}
}

func (e *Executor) appendAudit(ctx context.Context, agent *identity.AgentIdentity, toolName string, status security.AuditStatus, cached bool, reason string, payload json.RawMessage, resultSummary, corrID string) {
	entry := security.AuditEntry{
		ID:             uuid.New(),
		AgentID:        agent.ID,
		Tool:           toolName,
		Status:         status,
		Cached:         cached,
		Reason:         truncate(reason),
		PayloadSummary: truncate(string(payload)),
		ResultSummary:  truncate(resultSummary),
		CorrelationID:  corrID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		// Audit write failure must not mask the invocation outcome.
		e.logger.ErrorContext(ctx, "audit append failed",
			slog.String("tool", toolName),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) countInvocation(tool, status string) {
	if e.metrics != nil {
		e.metrics.Invocations.WithLabelValues(tool, status).Inc()
	}
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, security.ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, security.ErrRoleNotPermitted):
		return "role_not_permitted"
	case errors.Is(err, security.ErrInsufficientRiskTier):
		return "insufficient_risk_tier"
	default:
		return "other"
	}
}

func truncate(s string) string {
	if len(s) <= summaryMaxBytes {
		return s
	}
	return s[:summaryMaxBytes] + "..."
}

func newCorrelationID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}
