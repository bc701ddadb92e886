// Package memory provides goroutine-safe in-process repositories used by
// tests, local runs and the fixture loader.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
)

// RuleRepository keeps rules and overrides in memory
type RuleRepository struct {
	mu        sync.RWMutex
	rules     map[uuid.UUID]*models.Rule
	overrides map[uuid.UUID]*models.LimitOverride
}

// NewRuleRepository creates an empty rule repository
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		rules:     make(map[uuid.UUID]*models.Rule),
		overrides: make(map[uuid.UUID]*models.LimitOverride),
	}
}

var _ repositories.RuleRepository = (*RuleRepository)(nil)

// PutRule inserts or replaces a rule
func (r *RuleRepository) PutRule(rule *models.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rule
	r.rules[rule.ID] = &cp
}

// PutOverride inserts or replaces an override
func (r *RuleRepository) PutOverride(o *models.LimitOverride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.overrides[o.ID] = &cp
}

// ListActive returns copies of the active rules of a model and company
func (r *RuleRepository) ListActive(ctx context.Context, modelName, companyID string) ([]*models.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Rule, 0)
	for _, rule := range r.rules {
		if rule.Active && rule.ModelName == modelName && rule.CompanyID == companyID {
			cp := *rule
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetByID retrieves a rule by ID
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

// ListOverrides returns the overrides of a rule for one limit kind
func (r *RuleRepository) ListOverrides(ctx context.Context, ruleID uuid.UUID, kind models.LimitKind) ([]*models.LimitOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.LimitOverride, 0)
	for _, o := range r.overrides {
		if o.RuleID == ruleID && o.Kind == kind {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DeleteExpiredOverrides removes overrides that lapsed before now
func (r *RuleRepository) DeleteExpiredOverrides(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, o := range r.overrides {
		if o.IsExpired(now) {
			delete(r.overrides, id)
			removed++
		}
	}
	return removed, nil
}
