package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
)

// AuditRepository appends audit logs to a slice
type AuditRepository struct {
	mu   sync.RWMutex
	logs []*models.AuditLog
}

// NewAuditRepository creates an empty audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

var _ repositories.AuditRepository = (*AuditRepository)(nil)

// Insert appends an audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

// GetBySubject returns the logs of a subject, newest first
func (r *AuditRepository) GetBySubject(ctx context.Context, subject models.SubjectRef, limit, offset int) ([]*models.AuditLog, error) {
	return r.filter(func(l *models.AuditLog) bool {
		return l.SubjectModel == subject.Model && l.SubjectID == subject.ID
	}, limit, offset), nil
}

// GetByRule returns the logs of a rule, newest first
func (r *AuditRepository) GetByRule(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	return r.filter(func(l *models.AuditLog) bool {
		return l.RuleID != nil && *l.RuleID == ruleID
	}, limit, offset), nil
}

// All returns every stored entry in insertion order
func (r *AuditRepository) All() []*models.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*models.AuditLog(nil), r.logs...)
}

func (r *AuditRepository) filter(keep func(*models.AuditLog) bool, limit, offset int) []*models.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AuditLog, 0)
	for i := len(r.logs) - 1; i >= 0; i-- {
		if keep(r.logs[i]) {
			out = append(out, r.logs[i])
		}
	}
	if offset >= len(out) {
		return []*models.AuditLog{}
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
