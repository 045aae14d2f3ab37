package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage that GORM stores in a jsonb column
// (TEXT under SQLite).
type JSONB json.RawMessage

// AgentIdentityModel maps to the "agent_identities" table.
// No DeletedAt — identities are soft-disabled via Active, never removed.
type AgentIdentityModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName    string    `gorm:"not null"`
	Role           string    `gorm:"not null;index"`
	CredentialHash string    `gorm:"not null;uniqueIndex"`
	Active         bool      `gorm:"not null;default:true"`
	Metadata       JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AgentIdentityModel) TableName() string { return "agent_identities" }

// IdempotencyRecordModel maps to the "idempotency_records" table.
// The composite primary key (tool, idempotency_key) is what makes the
// pending insert an atomic insert-if-absent.
type IdempotencyRecordModel struct {
	Tool          string `gorm:"primaryKey"`
	Key           string `gorm:"primaryKey;column:idempotency_key"`
	Fingerprint   string `gorm:"not null"`
	Committed     bool   `gorm:"not null;default:false"`
	OutcomeStatus string
	OutcomeResult JSONB `gorm:"type:jsonb"`
	OutcomeError  string
	CreatedAt     time.Time
	ExpiresAt     time.Time `gorm:"index"`
}

func (IdempotencyRecordModel) TableName() string { return "idempotency_records" }

// TaskModel maps to the "tasks" table.
//
// The partial unique index over (tool, idempotency_key) holds only while
// completed_at is NULL, i.e. while the task is non-terminal: it is what
// makes queue-level dedupe race-free under concurrent enqueues, and it
// frees the key again once the task reaches a terminal status.
type TaskModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	AgentID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Role           string    `gorm:"index"`
	Tool           string    `gorm:"not null;index;index:idx_tasks_active_key,unique,where:completed_at IS NULL"`
	Payload        JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	IdempotencyKey string    `gorm:"not null;index;index:idx_tasks_active_key,unique,where:completed_at IS NULL"`
	Status         string    `gorm:"not null;index"`
	Attempts       int       `gorm:"not null;default:0"`
	MaxAttempts    int       `gorm:"not null"`
	LastError      string    `gorm:"type:text"`
	NotBefore      time.Time `gorm:"index"`
	ClaimedBy      string
	ClaimedAt      *time.Time
	CompletedAt    *time.Time
	CancelReason   string
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

func (TaskModel) TableName() string { return "tasks" }

// TaskScheduleModel maps to the "task_schedules" table.
type TaskScheduleModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null;uniqueIndex"`
	AgentID   uuid.UUID `gorm:"type:uuid;not null"`
	Role      string    `gorm:"index"`
	Tool      string    `gorm:"not null"`
	Payload   JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	CronExpr  string    `gorm:"not null"`
	Enabled   bool      `gorm:"not null;default:true;index"`
	NextRunAt time.Time `gorm:"index"`
	LastRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TaskScheduleModel) TableName() string { return "task_schedules" }

// AuditEntryModel maps to the "audit_entries" table.
// No UpdatedAt or DeletedAt — the audit log is append-only and immutable.
type AuditEntryModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	AgentID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Tool           string    `gorm:"not null"`
	Status         string    `gorm:"not null;index"`
	Cached         bool      `gorm:"not null;default:false"`
	Reason         string
	PayloadSummary string    `gorm:"type:text"`
	ResultSummary  string    `gorm:"type:text"`
	CorrelationID  string    `gorm:"index"`
	CreatedAt      time.Time `gorm:"index"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }
