package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
)

type pendingKey struct {
	ruleID  uuid.UUID
	subject models.SubjectRef
}

// ApprovalRepository keeps approval requests in memory. A single mutex
// serializes writers, which gives find-or-create its atomicity.
type ApprovalRepository struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*models.ApprovalRequest
	pending  map[pendingKey]uuid.UUID
}

// NewApprovalRepository creates an empty approval repository
func NewApprovalRepository() *ApprovalRepository {
	return &ApprovalRepository{
		requests: make(map[uuid.UUID]*models.ApprovalRequest),
		pending:  make(map[pendingKey]uuid.UUID),
	}
}

var _ repositories.ApprovalRepository = (*ApprovalRepository)(nil)

func clone(req *models.ApprovalRequest) *models.ApprovalRequest {
	cp := *req
	cp.Approvers = append([]string(nil), req.Approvers...)
	return &cp
}

// FindOrCreatePending returns the pending request for (rule, subject) or stores req
func (r *ApprovalRepository) FindOrCreatePending(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pendingKey{ruleID: req.RuleID, subject: req.Subject}
	if id, ok := r.pending[key]; ok {
		return clone(r.requests[id]), false, nil
	}

	stored := clone(req)
	stored.State = models.ApprovalStatePending
	r.requests[stored.ID] = stored
	r.pending[key] = stored.ID
	return clone(stored), true, nil
}

// GetByID retrieves a request by ID
func (r *ApprovalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return clone(req), nil
}

// FindPending returns the pending request for a rule and subject
func (r *ApprovalRepository) FindPending(ctx context.Context, ruleID uuid.UUID, subject models.SubjectRef) (*models.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.pending[pendingKey{ruleID: ruleID, subject: subject}]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return clone(r.requests[id]), nil
}

// ListPendingBySubject returns the pending requests of a subject, oldest first
func (r *ApprovalRepository) ListPendingBySubject(ctx context.Context, subject models.SubjectRef) ([]*models.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ApprovalRequest, 0)
	for key, id := range r.pending {
		if key.subject == subject {
			out = append(out, clone(r.requests[id]))
		}
	}
	sortByCreated(out)
	return out, nil
}

// FindConsumable returns the oldest approved, unconsumed request for a rule and subject
func (r *ApprovalRepository) FindConsumable(ctx context.Context, ruleID uuid.UUID, subject models.SubjectRef) (*models.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *models.ApprovalRequest
	for _, req := range r.requests {
		if req.RuleID != ruleID || req.Subject != subject || !req.IsConsumable() {
			continue
		}
		if found == nil || req.CreatedAt.Before(found.CreatedAt) {
			found = req
		}
	}
	if found == nil {
		return nil, repositories.ErrNotFound
	}
	return clone(found), nil
}

// Decide moves a pending request to a terminal state
func (r *ApprovalRepository) Decide(ctx context.Context, id uuid.UUID, to models.ApprovalState, decidedBy, reason string, at time.Time) (*models.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if !req.IsPending() {
		return nil, repositories.ErrStateConflict
	}

	req.State = to
	req.DecidedBy = &decidedBy
	req.DecidedAt = &at
	req.DecisionReason = reason
	req.UpdatedAt = at
	delete(r.pending, pendingKey{ruleID: req.RuleID, subject: req.Subject})
	return clone(req), nil
}

// MarkConsumed stamps an approved request as used
func (r *ApprovalRepository) MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if !req.IsConsumable() {
		return repositories.ErrStateConflict
	}
	req.ConsumedAt = &at
	req.UpdatedAt = at
	return nil
}

// DeletePending removes a request that is still pending
func (r *ApprovalRepository) DeletePending(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if !req.IsPending() {
		return repositories.ErrStateConflict
	}
	delete(r.pending, pendingKey{ruleID: req.RuleID, subject: req.Subject})
	delete(r.requests, id)
	return nil
}

// ListOverdue returns pending requests whose approvers were assigned before
// the cutoff, longest waiting first
func (r *ApprovalRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*models.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ApprovalRequest, 0)
	for _, id := range r.pending {
		req := r.requests[id]
		if req.EscalationAnchor().Before(cutoff) {
			out = append(out, clone(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].EscalationAnchor(), out[j].EscalationAnchor()
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reassign replaces the approvers of a pending request
func (r *ApprovalRepository) Reassign(ctx context.Context, id uuid.UUID, approvers []string, level int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if !req.IsPending() {
		return repositories.ErrStateConflict
	}
	req.Approvers = append([]string(nil), approvers...)
	req.EscalationLevel = level
	req.EscalatedAt = &at
	req.UpdatedAt = at
	return nil
}

func sortByCreated(reqs []*models.ApprovalRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
