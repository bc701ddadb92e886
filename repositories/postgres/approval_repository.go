package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
	"go.uber.org/zap"
)

const approvalColumns = `
	id, reference, rule_id, subject_model, subject_id, company_id, state, category,
	notes, approvers, requested_by, previous_state, created_at, updated_at,
	decided_by, decided_at, decision_reason, consumed_at, escalation_level, escalated_at`

// uniqueViolation is the PostgreSQL error code for unique_violation
const uniqueViolation = "23505"

const (
	pendingConstraint    = "uq_approval_requests_pending"
	referenceConstraint  = "uq_approval_requests_reference"
	maxReferenceAttempts = 3
)

// ApprovalRepository implements the repositories.ApprovalRepository interface.
// The partial unique index on pending requests makes find-or-create atomic.
type ApprovalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *DB, logger *zap.Logger) repositories.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// FindOrCreatePending inserts req unless a pending request already exists
// for its rule and subject. A reference collision gets a fresh ID and reference.
func (r *ApprovalRepository) FindOrCreatePending(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, bool, error) {
	candidate := *req
	for attempt := 1; ; attempt++ {
		created, err := r.insertPending(ctx, &candidate)
		if err == nil {
			r.logger.Debug("approval request created",
				zap.String("id", created.ID.String()),
				zap.String("subject", created.Subject.String()),
			)
			return created, true, nil
		}

		var pqErr *pq.Error
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == pendingConstraint:
		case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == referenceConstraint && attempt < maxReferenceAttempts:
			r.logger.Warn("approval reference collision, retrying",
				zap.String("reference", candidate.Reference),
				zap.Int("attempt", attempt),
			)
			candidate.ID = uuid.New()
			candidate.Reference = models.NewApprovalReference(candidate.ID, candidate.CreatedAt)
			continue
		default:
			return nil, false, fmt.Errorf("failed to create approval request: %w", err)
		}

		existing, err := r.FindPending(ctx, req.RuleID, req.Subject)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
}

func (r *ApprovalRepository) insertPending(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	query := `
		INSERT INTO governance_approval_requests (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (rule_id, subject_model, subject_id) WHERE state = 'pending' DO NOTHING
		RETURNING ` + approvalColumns

	executor := GetExecutor(ctx, r.db)
	return scanApproval(executor.QueryRowContext(ctx, query,
		req.ID,
		req.Reference,
		req.RuleID,
		req.Subject.Model,
		req.Subject.ID,
		req.CompanyID,
		models.ApprovalStatePending,
		req.Category,
		req.Notes,
		pq.Array(req.Approvers),
		req.RequestedBy,
		req.PreviousState,
		req.CreatedAt,
		req.UpdatedAt,
		req.DecidedBy,
		req.DecidedAt,
		req.DecisionReason,
		req.ConsumedAt,
		req.EscalationLevel,
		req.EscalatedAt,
	))
}

// GetByID retrieves a request by ID
func (r *ApprovalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM governance_approval_requests WHERE id = $1`
	return r.queryOne(ctx, "get approval request", query, id)
}

// FindPending returns the pending request for a rule and subject
func (r *ApprovalRepository) FindPending(ctx context.Context, ruleID uuid.UUID, subject models.SubjectRef) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + `
		FROM governance_approval_requests
		WHERE rule_id = $1 AND subject_model = $2 AND subject_id = $3 AND state = 'pending'`
	return r.queryOne(ctx, "find pending approval request", query, ruleID, subject.Model, subject.ID)
}

// ListPendingBySubject returns the pending requests of a subject, oldest first
func (r *ApprovalRepository) ListPendingBySubject(ctx context.Context, subject models.SubjectRef) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + `
		FROM governance_approval_requests
		WHERE subject_model = $1 AND subject_id = $2 AND state = 'pending'
		ORDER BY created_at ASC`
	return r.queryMany(ctx, query, subject.Model, subject.ID)
}

// FindConsumable returns the oldest approved, unconsumed request for a rule and subject
func (r *ApprovalRepository) FindConsumable(ctx context.Context, ruleID uuid.UUID, subject models.SubjectRef) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + `
		FROM governance_approval_requests
		WHERE rule_id = $1 AND subject_model = $2 AND subject_id = $3
		  AND state = 'approved' AND consumed_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1`
	return r.queryOne(ctx, "find consumable approval request", query, ruleID, subject.Model, subject.ID)
}

// Decide moves a pending request to a terminal state
func (r *ApprovalRepository) Decide(ctx context.Context, id uuid.UUID, to models.ApprovalState, decidedBy, reason string, at time.Time) (*models.ApprovalRequest, error) {
	query := `
		UPDATE governance_approval_requests
		SET state = $2, decided_by = $3, decided_at = $4, decision_reason = $5, updated_at = $4
		WHERE id = $1 AND state = 'pending'
		RETURNING ` + approvalColumns

	executor := GetExecutor(ctx, r.db)
	req, err := scanApproval(executor.QueryRowContext(ctx, query, id, to, decidedBy, at, reason))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.missOrConflict(ctx, id)
		}
		return nil, fmt.Errorf("failed to decide approval request: %w", err)
	}

	r.logger.Debug("approval request decided",
		zap.String("id", id.String()),
		zap.String("state", string(to)),
	)
	return req, nil
}

// MarkConsumed stamps an approved request as used
func (r *ApprovalRepository) MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE governance_approval_requests
		SET consumed_at = $2, updated_at = $2
		WHERE id = $1 AND state = 'approved' AND consumed_at IS NULL`
	return r.execCAS(ctx, "mark approval request consumed", query, id, at)
}

// DeletePending removes a request that is still pending
func (r *ApprovalRepository) DeletePending(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM governance_approval_requests WHERE id = $1 AND state = 'pending'`
	return r.execCAS(ctx, "delete approval request", query, id)
}

// ListOverdue returns pending requests whose approvers were assigned before
// the cutoff, longest waiting first
func (r *ApprovalRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + `
		FROM governance_approval_requests
		WHERE state = 'pending' AND COALESCE(escalated_at, created_at) < $1
		ORDER BY COALESCE(escalated_at, created_at) ASC, created_at ASC
		LIMIT $2`
	return r.queryMany(ctx, query, cutoff, limit)
}

// Reassign replaces the approvers of a pending request and records the escalation level
func (r *ApprovalRepository) Reassign(ctx context.Context, id uuid.UUID, approvers []string, level int, at time.Time) error {
	query := `
		UPDATE governance_approval_requests
		SET approvers = $2, escalation_level = $3, escalated_at = $4, updated_at = $4
		WHERE id = $1 AND state = 'pending'`
	return r.execCAS(ctx, "reassign approval request", query, id, pq.Array(approvers), level, at)
}

func (r *ApprovalRepository) execCAS(ctx context.Context, op, query string, id uuid.UUID, args ...interface{}) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// missOrConflict tells a missing row apart from one in the wrong state
func (r *ApprovalRepository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM governance_approval_requests WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check approval request: %w", err)
	}
	if !exists {
		return repositories.ErrNotFound
	}
	return repositories.ErrStateConflict
}

func (r *ApprovalRepository) queryOne(ctx context.Context, op, query string, args ...interface{}) (*models.ApprovalRequest, error) {
	executor := GetExecutor(ctx, r.db)
	req, err := scanApproval(executor.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return req, nil
}

func (r *ApprovalRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]*models.ApprovalRequest, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}
	defer rows.Close()

	reqs := make([]*models.ApprovalRequest, 0)
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval request rows: %w", err)
	}
	return reqs, nil
}

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	req := &models.ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.Reference,
		&req.RuleID,
		&req.Subject.Model,
		&req.Subject.ID,
		&req.CompanyID,
		&req.State,
		&req.Category,
		&req.Notes,
		pq.Array(&req.Approvers),
		&req.RequestedBy,
		&req.PreviousState,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.DecisionReason,
		&req.ConsumedAt,
		&req.EscalationLevel,
		&req.EscalatedAt,
	)
	if err != nil {
		return nil, err
	}
	if req.Approvers == nil {
		req.Approvers = []string{}
	}
	return req, nil
}
