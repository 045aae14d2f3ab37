package postgres

import (
	"encoding/json"
	"time"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

// --- Agent identity ---

func toIdentityModel(a *identity.AgentIdentity) AgentIdentityModel {
	meta, _ := json.Marshal(a.Metadata)
	if meta == nil {
		meta = []byte("{}")
	}
	return AgentIdentityModel{
		ID:             a.ID,
		DisplayName:    a.DisplayName,
		Role:           string(a.Role),
		CredentialHash: a.CredentialHash,
		Active:         a.Active,
		Metadata:       JSONB(meta),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toIdentityDomain(m *AgentIdentityModel) *identity.AgentIdentity {
	var meta map[string]string
	_ = json.Unmarshal(m.Metadata, &meta)
	return &identity.AgentIdentity{
		ID:             m.ID,
		DisplayName:    m.DisplayName,
		Role:           security.Role(m.Role),
		CredentialHash: m.CredentialHash,
		Active:         m.Active,
		Metadata:       meta,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// --- Idempotency record ---

func toLedgerModel(rec ledger.Record) IdempotencyRecordModel {
	return IdempotencyRecordModel{
		Tool:          rec.Tool,
		Key:           rec.Key,
		Fingerprint:   rec.Fingerprint,
		Committed:     rec.Committed,
		OutcomeStatus: string(rec.Outcome.Status),
		OutcomeResult: JSONB(rec.Outcome.Result),
		OutcomeError:  rec.Outcome.Error,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
	}
}

func toLedgerDomain(m *IdempotencyRecordModel) *ledger.Record {
	return &ledger.Record{
		Tool:        m.Tool,
		Key:         m.Key,
		Fingerprint: m.Fingerprint,
		Committed:   m.Committed,
		Outcome: ledger.Outcome{
			Status: ledger.OutcomeStatus(m.OutcomeStatus),
			Result: json.RawMessage(m.OutcomeResult),
			Error:  m.OutcomeError,
		},
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

// --- Task ---

func toTaskModel(t *taskqueue.Task) TaskModel {
	payload := t.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	return TaskModel{
		ID:             t.ID,
		AgentID:        t.AgentID,
		Role:           string(t.Role),
		Tool:           t.Tool,
		Payload:        JSONB(payload),
		IdempotencyKey: t.IdempotencyKey,
		Status:         string(t.Status),
		Attempts:       t.Attempts,
		MaxAttempts:    t.MaxAttempts,
		LastError:      t.LastError,
		NotBefore:      t.NotBefore,
		ClaimedBy:      t.ClaimedBy,
		ClaimedAt:      timePtr(t.ClaimedAt),
		CompletedAt:    timePtr(t.CompletedAt),
		CancelReason:   t.CancelReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func toTaskDomain(m *TaskModel) *taskqueue.Task {
	return &taskqueue.Task{
		ID:             m.ID,
		AgentID:        m.AgentID,
		Role:           security.Role(m.Role),
		Tool:           m.Tool,
		Payload:        json.RawMessage(m.Payload),
		IdempotencyKey: m.IdempotencyKey,
		Status:         taskqueue.Status(m.Status),
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		LastError:      m.LastError,
		NotBefore:      m.NotBefore,
		ClaimedBy:      m.ClaimedBy,
		ClaimedAt:      timeVal(m.ClaimedAt),
		CompletedAt:    timeVal(m.CompletedAt),
		CancelReason:   m.CancelReason,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// --- Schedule ---

func toScheduleModel(s *taskqueue.Schedule) TaskScheduleModel {
	payload := s.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	return TaskScheduleModel{
		ID:        s.ID,
		Name:      s.Name,
		AgentID:   s.AgentID,
		Role:      string(s.Role),
		Tool:      s.Tool,
		Payload:   JSONB(payload),
		CronExpr:  s.CronExpr,
		Enabled:   s.Enabled,
		NextRunAt: s.NextRunAt,
		LastRunAt: timePtr(s.LastRunAt),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toScheduleDomain(m *TaskScheduleModel) *taskqueue.Schedule {
	return &taskqueue.Schedule{
		ID:        m.ID,
		Name:      m.Name,
		AgentID:   m.AgentID,
		Role:      security.Role(m.Role),
		Tool:      m.Tool,
		Payload:   json.RawMessage(m.Payload),
		CronExpr:  m.CronExpr,
		Enabled:   m.Enabled,
		NextRunAt: m.NextRunAt,
		LastRunAt: timeVal(m.LastRunAt),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// --- Audit ---

func toAuditModel(e security.AuditEntry) AuditEntryModel {
	return AuditEntryModel{
		ID:             e.ID,
		AgentID:        e.AgentID,
		Tool:           e.Tool,
		Status:         string(e.Status),
		Cached:         e.Cached,
		Reason:         e.Reason,
		PayloadSummary: e.PayloadSummary,
		ResultSummary:  e.ResultSummary,
		CorrelationID:  e.CorrelationID,
		CreatedAt:      e.CreatedAt,
	}
}

func toAuditDomain(m *AuditEntryModel) security.AuditEntry {
	return security.AuditEntry{
		ID:             m.ID,
		AgentID:        m.AgentID,
		Tool:           m.Tool,
		Status:         security.AuditStatus(m.Status),
		Cached:         m.Cached,
		Reason:         m.Reason,
		PayloadSummary: m.PayloadSummary,
		ResultSummary:  m.ResultSummary,
		CorrelationID:  m.CorrelationID,
		CreatedAt:      m.CreatedAt,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
