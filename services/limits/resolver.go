// Package limits resolves the effective threshold of a rule for an acting
// identity set. Authority is additive: holding any one identity with a more
// generous override is enough.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/upb/matrix-governance/models"
	"go.uber.org/zap"
)

// Specificity weights of matched scope dimensions
const (
	WeightCategory     = 4
	WeightBranch       = 1
	WeightBusinessUnit = 1
)

// OverrideSource loads the override rows of a rule
type OverrideSource interface {
	ListOverrides(ctx context.Context, ruleID uuid.UUID, kind models.LimitKind) ([]*models.LimitOverride, error)
}

// Resolver computes effective limits from a rule and its overrides
type Resolver struct {
	source OverrideSource
	now    func() time.Time
	logger *zap.Logger
}

// NewResolver creates a resolver backed by the given override source
func NewResolver(source OverrideSource, logger *zap.Logger) *Resolver {
	return &Resolver{
		source: source,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock used to expire overrides
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the effective ceiling for a discount or price-variance limit
func (r *Resolver) Resolve(ctx context.Context, rule *models.Rule, kind models.LimitKind, identities []models.Identity, scope models.ScopeContext) (decimal.Decimal, error) {
	global, err := GlobalThreshold(rule, kind)
	if err != nil {
		return decimal.Zero, err
	}
	if kind == models.LimitKindMarginFloor {
		return decimal.Zero, fmt.Errorf("margin floor is resolved with ResolveFloor")
	}

	rows, err := r.source.ListOverrides(ctx, rule.ID, kind)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load %s overrides: %w", kind, err)
	}

	limit := ResolveCeiling(global, rows, identities, scope, r.now())
	r.logger.Debug("limit resolved",
		zap.String("rule", rule.Code),
		zap.String("kind", string(kind)),
		zap.String("global", global.String()),
		zap.String("limit", limit.String()),
		zap.Int("identities", len(identities)),
	)
	return limit, nil
}

// ResolveFloor returns the effective minimum margin
func (r *Resolver) ResolveFloor(ctx context.Context, rule *models.Rule, identities []models.Identity, scope models.ScopeContext) (decimal.Decimal, error) {
	rows, err := r.source.ListOverrides(ctx, rule.ID, models.LimitKindMarginFloor)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load margin floor overrides: %w", err)
	}

	floor := ResolveFloorValue(rule.Margin.GlobalMinimum, rows, identities, scope, r.now())
	r.logger.Debug("margin floor resolved",
		zap.String("rule", rule.Code),
		zap.String("global", rule.Margin.GlobalMinimum.String()),
		zap.String("floor", floor.String()),
	)
	return floor, nil
}

// GlobalThreshold returns the rule-wide value of a limit kind
func GlobalThreshold(rule *models.Rule, kind models.LimitKind) (decimal.Decimal, error) {
	switch kind {
	case models.LimitKindDiscount:
		return rule.Discount.GlobalLimit, nil
	case models.LimitKindMarginFloor:
		return rule.Margin.GlobalMinimum, nil
	case models.LimitKindPriceVariance:
		return rule.Price.GlobalMaxVariance, nil
	}
	return decimal.Zero, fmt.Errorf("unknown limit kind %q", kind)
}

// Specificity scores how precisely an override targets the scope. The second
// result is false when a non-empty scope field of the override does not match.
func Specificity(o *models.LimitOverride, scope models.ScopeContext) (int, bool) {
	score := 0
	if o.CategoryID != "" {
		if o.CategoryID != scope.CategoryID {
			return 0, false
		}
		score += WeightCategory
	}
	if o.BranchID != "" {
		if o.BranchID != scope.BranchID {
			return 0, false
		}
		score += WeightBranch
	}
	if o.BusinessUnitID != "" {
		if o.BusinessUnitID != scope.BusinessUnitID {
			return 0, false
		}
		score += WeightBusinessUnit
	}
	return score, true
}

// ResolveCeiling folds overrides into the maximum of the global value and the
// most specific matching row of each held identity. Ties in specificity go to
// the larger value.
func ResolveCeiling(global decimal.Decimal, rows []*models.LimitOverride, identities []models.Identity, scope models.ScopeContext, now time.Time) decimal.Decimal {
	result := global
	for _, id := range identities {
		held := func(o *models.LimitOverride) bool { return o.HeldBy(id) }
		if best, ok := mostSpecific(rows, held, scope, now, decimal.Decimal.GreaterThan); ok && best.GreaterThan(result) {
			result = best
		}
	}
	return result
}

// ResolveFloorValue computes a margin floor. The baseline is the most specific
// matching scope-only row, or the global minimum when none matches. Each held
// identity may lower it with its own best row; ties go to the smaller value.
func ResolveFloorValue(global decimal.Decimal, rows []*models.LimitOverride, identities []models.Identity, scope models.ScopeContext, now time.Time) decimal.Decimal {
	result := global
	if baseline, ok := mostSpecific(rows, (*models.LimitOverride).IsScopeOnly, scope, now, decimal.Decimal.GreaterThan); ok {
		result = baseline
	}
	for _, id := range identities {
		held := func(o *models.LimitOverride) bool { return o.HeldBy(id) }
		if best, ok := mostSpecific(rows, held, scope, now, decimal.Decimal.LessThan); ok && best.LessThan(result) {
			result = best
		}
	}
	return result
}

func mostSpecific(
	rows []*models.LimitOverride,
	include func(*models.LimitOverride) bool,
	scope models.ScopeContext,
	now time.Time,
	prefer func(decimal.Decimal, decimal.Decimal) bool,
) (decimal.Decimal, bool) {
	var (
		best      decimal.Decimal
		bestScore = -1
	)
	for _, o := range rows {
		if o.IsExpired(now) || !include(o) {
			continue
		}
		score, ok := Specificity(o, scope)
		if !ok {
			continue
		}
		if score > bestScore || (score == bestScore && prefer(o.LimitValue, best)) {
			best = o.LimitValue
			bestScore = score
		}
	}
	return best, bestScore >= 0
}
