package governance

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/services/condition"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ruleInput is everything a check may read about one evaluation
type ruleInput struct {
	rule       *models.Rule
	subject    models.SubjectAccessor
	identities []models.Identity
	scope      models.ScopeContext
	bindings   condition.Bindings
}

// ruleOutcome collects the findings of one rule
type ruleOutcome struct {
	violations []Violation
	warnings   []string
	internal   []string
}

func (o *ruleOutcome) violate(in *ruleInput, category models.ViolationCategory, format string, args ...interface{}) {
	o.violations = append(o.violations, Violation{
		RuleID:   in.rule.ID,
		RuleCode: in.rule.Code,
		Category: category,
		Message:  in.rule.Label() + ": " + fmt.Sprintf(format, args...),
	})
}

func (o *ruleOutcome) warn(in *ruleInput, format string, args ...interface{}) {
	o.warnings = append(o.warnings, in.rule.Label()+": "+fmt.Sprintf(format, args...))
}

// check is one of the fixed checks a rule can enable
type check struct {
	name    string
	enabled func(*models.Rule) bool
	run     func(ctx context.Context, e *Engine, in *ruleInput, out *ruleOutcome) error
}

// checks run in this order for every applicable rule
var checks = []check{
	{name: "matrix", enabled: func(r *models.Rule) bool { return r.Matrix.Enabled }, run: checkMatrix},
	{name: "discount", enabled: func(r *models.Rule) bool { return r.Discount.Enabled }, run: checkDiscount},
	{name: "margin", enabled: func(r *models.Rule) bool { return r.Margin.Enabled }, run: checkMargin},
	{name: "price", enabled: func(r *models.Rule) bool { return r.Price.Enabled }, run: checkPrice},
	{name: "legacy", enabled: func(r *models.Rule) bool { return r.Legacy.Enabled() }, run: checkLegacy},
}

// runCheck isolates one check: a returned error or a panic becomes an internal
// error tagged with the rule code, and the remaining checks still run.
func (e *Engine) runCheck(ctx context.Context, c check, in *ruleInput, out *ruleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("governance check panicked",
				zap.String("rule", in.rule.Code),
				zap.String("check", c.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			trace.SpanFromContext(ctx).AddEvent("panic.recovered", trace.WithAttributes(
				attribute.String("rule", in.rule.Code),
				attribute.String("check", c.name),
			))
			out.internal = append(out.internal, internalError(in.rule, fmt.Sprint(r)))
		}
	}()

	if err := c.run(ctx, e, in, out); err != nil {
		e.logger.Error("governance check failed",
			zap.String("rule", in.rule.Code),
			zap.String("check", c.name),
			zap.Error(err),
		)
		out.internal = append(out.internal, internalError(in.rule, err.Error()))
	}
}

func internalError(rule *models.Rule, detail string) string {
	return fmt.Sprintf("[%s] internal error: %s", rule.Code, detail)
}

func pct(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

func checkMatrix(ctx context.Context, e *Engine, in *ruleInput, out *ruleOutcome) error {
	m := in.rule.Matrix
	branch := in.subject.GetBranch()
	unit := in.subject.GetBusinessUnit()

	if branch == nil {
		if m.BranchRequired {
			out.violate(in, models.ViolationMatrix, "branch is required")
		}
	} else if len(m.AllowedBranchIDs) > 0 && !contains(m.AllowedBranchIDs, branch.ID) {
		out.violate(in, models.ViolationMatrix, "branch %s is not allowed (allowed: %s)", displayName(branch.Name, branch.ID), strings.Join(m.AllowedBranchIDs, ", "))
	}

	if unit == nil {
		if m.BusinessUnitRequired {
			out.violate(in, models.ViolationMatrix, "business unit is required")
		}
	} else if len(m.AllowedBusinessUnitIDs) > 0 && !contains(m.AllowedBusinessUnitIDs, unit.ID) {
		out.violate(in, models.ViolationMatrix, "business unit %s is not allowed (allowed: %s)", displayName(unit.Name, unit.ID), strings.Join(m.AllowedBusinessUnitIDs, ", "))
	}

	if branch != nil && unit != nil && !unit.OperatesIn(branch.ID) {
		out.violate(in, models.ViolationMatrix, "business unit %s does not operate in branch %s", displayName(unit.Name, unit.ID), displayName(branch.Name, branch.ID))
	}
	return nil
}

func checkDiscount(ctx context.Context, e *Engine, in *ruleInput, out *ruleOutcome) error {
	limit, err := e.resolver.Resolve(ctx, in.rule, models.LimitKindDiscount, in.identities, in.scope)
	if err != nil {
		return err
	}
	discount := in.subject.GetDiscountPercent()
	if discount.GreaterThan(limit) {
		out.violate(in, models.ViolationDiscount, "discount %s exceeds the allowed %s", pct(discount), pct(limit))
	}
	return nil
}

func checkMargin(ctx context.Context, e *Engine, in *ruleInput, out *ruleOutcome) error {
	floor, err := e.resolver.ResolveFloor(ctx, in.rule, in.identities, in.scope)
	if err != nil {
		return err
	}
	margin := in.subject.GetMarginInputs().MarginPercent()
	switch {
	case margin.LessThan(floor):
		out.violate(in, models.ViolationMargin, "margin %s is below the minimum %s", pct(margin), pct(floor))
	case margin.LessThan(floor.Add(in.rule.Margin.WarningBand)):
		out.warn(in, "margin %s is near the minimum %s", pct(margin), pct(floor))
	}
	return nil
}

func checkPrice(ctx context.Context, e *Engine, in *ruleInput, out *ruleOutcome) error {
	variance, ok := in.subject.GetMarginInputs().VariancePercent()
	if !ok {
		return nil
	}
	limit, err := e.resolver.Resolve(ctx, in.rule, models.LimitKindPriceVariance, in.identities, in.scope)
	if err != nil {
		return err
	}
	if variance.GreaterThan(limit) {
		out.violate(in, models.ViolationPrice, "price variance %s exceeds the allowed %s", pct(variance), pct(limit))
	}
	return nil
}

// checkLegacy asserts the legacy expression. An expression that cannot be
// evaluated does not hold.
func checkLegacy(ctx context.Context, e *Engine, in *ruleInput, out *ruleOutcome) error {
	holds, err := e.conditions.Eval(in.rule.Legacy.Expr, in.bindings)
	if err != nil {
		e.logger.Warn("legacy expression failed",
			zap.String("rule", in.rule.Code),
			zap.Error(err),
		)
	}
	if holds {
		return nil
	}
	msg := in.rule.Legacy.Message
	if msg == "" {
		msg = in.rule.ErrorMessage
	}
	if msg == "" {
		msg = "rule condition not met"
	}
	out.violate(in, models.ViolationOther, "%s", msg)
	return nil
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
