package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/matrix-governance/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrStateConflict is returned when a compare-and-swap finds the row in another state
	ErrStateConflict = errors.New("state conflict")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// RuleRepository gives the engine read-only access to rule definitions
type RuleRepository interface {
	// ListActive returns the active rules of a model and company, in no particular order
	ListActive(ctx context.Context, modelName, companyID string) ([]*models.Rule, error)

	// GetByID retrieves a rule by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Rule, error)

	// ListOverrides returns every override of a rule for one limit kind
	ListOverrides(ctx context.Context, ruleID uuid.UUID, kind models.LimitKind) ([]*models.LimitOverride, error)

	// DeleteExpiredOverrides removes overrides that lapsed before now
	DeleteExpiredOverrides(ctx context.Context, now time.Time) (int64, error)
}

// ApprovalRepository stores approval requests.
// Every state change is a compare-and-swap on the current state.
type ApprovalRepository interface {
	// FindOrCreatePending atomically returns the pending request for
	// (rule, subject), inserting req when none exists. The bool reports
	// whether req was inserted.
	FindOrCreatePending(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, bool, error)

	// GetByID retrieves a request by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)

	// FindPending returns the pending request for a rule and subject
	FindPending(ctx context.Context, ruleID uuid.UUID, subject models.SubjectRef) (*models.ApprovalRequest, error)

	// ListPendingBySubject returns all pending requests of a subject
	ListPendingBySubject(ctx context.Context, subject models.SubjectRef) ([]*models.ApprovalRequest, error)

	// FindConsumable returns the oldest approved, unconsumed request for a rule and subject
	FindConsumable(ctx context.Context, ruleID uuid.UUID, subject models.SubjectRef) (*models.ApprovalRequest, error)

	// Decide moves a pending request to a terminal state
	Decide(ctx context.Context, id uuid.UUID, to models.ApprovalState, decidedBy, reason string, at time.Time) (*models.ApprovalRequest, error)

	// MarkConsumed stamps an approved request as used
	MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) error

	// DeletePending removes a request that is still pending
	DeletePending(ctx context.Context, id uuid.UUID) error

	// ListOverdue returns pending requests whose approvers were assigned before the cutoff
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*models.ApprovalRequest, error)

	// Reassign replaces the approvers of a pending request and records the escalation level
	Reassign(ctx context.Context, id uuid.UUID, approvers []string, level int, at time.Time) error
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetBySubject retrieves audit logs for a governed document with pagination
	GetBySubject(ctx context.Context, subject models.SubjectRef, limit, offset int) ([]*models.AuditLog, error)

	// GetByRule retrieves audit logs for a rule with pagination
	GetByRule(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Rules     RuleRepository
	Approvals ApprovalRepository
	AuditLogs AuditRepository
}
