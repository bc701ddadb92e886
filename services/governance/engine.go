// Package governance evaluates governed documents against their rules and
// aggregates the findings into a Verdict.
package governance

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/upb/matrix-governance/internal/authority"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
	"github.com/upb/matrix-governance/services/condition"
	"github.com/upb/matrix-governance/services/limits"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/upb/matrix-governance/services/governance"

// EvaluationRequest describes one evaluation pass
type EvaluationRequest struct {
	Subject            models.SubjectAccessor
	Trigger            models.TriggerEvent
	ActorID            string
	CallerIsPrivileged bool
	// Waived lists rules whose approval is already granted for this subject
	Waived []uuid.UUID
}

// Engine evaluates rules. It is safe for concurrent use.
type Engine struct {
	rules      repositories.RuleRepository
	cache      *RuleCache
	conditions *condition.Evaluator
	resolver   *limits.Resolver
	authority  authority.Provider
	tracer     trace.Tracer
	logger     *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithCache serves rule sets from the given cache
func WithCache(cache *RuleCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithTracer replaces the global tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// NewEngine creates a rule engine
func NewEngine(
	rules repositories.RuleRepository,
	conditions *condition.Evaluator,
	resolver *limits.Resolver,
	provider authority.Provider,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		rules:      rules,
		conditions: conditions,
		resolver:   resolver,
		authority:  provider,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache returns the rule cache, or nil when rules are read straight from the repository
func (e *Engine) Cache() *RuleCache {
	return e.cache
}

// Evaluate runs every applicable rule against the subject. It never fails:
// infrastructure problems come back as an invalid verdict.
func (e *Engine) Evaluate(ctx context.Context, req EvaluationRequest) (verdict Verdict) {
	if req.CallerIsPrivileged {
		return Pass()
	}
	if req.Subject == nil {
		return Verdict{Valid: false, Errors: []string{"internal error: no subject to evaluate"}}
	}

	ref := req.Subject.Ref()
	ctx, span := e.tracer.Start(ctx, "governance.evaluate", trace.WithAttributes(
		attribute.String("subject.model", ref.Model),
		attribute.String("subject.id", ref.ID),
		attribute.String("trigger", string(req.Trigger)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule evaluation panicked", zap.String("subject", ref.String()), zap.Any("panic", r))
			span.SetStatus(codes.Error, "panic")
			verdict = Verdict{Valid: false, Errors: []string{fmt.Sprintf("internal error: %v", r)}}
		}
	}()

	rules, err := e.applicableRules(ctx, ref.Model, req.Subject.GetCompanyID(), req.Trigger)
	if err != nil {
		e.logger.Error("failed to load governance rules", zap.String("subject", ref.String()), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "rules unavailable")
		return Verdict{Valid: false, Errors: []string{"internal error: failed to load governance rules: " + err.Error()}}
	}

	identities, user := e.actor(ctx, req.ActorID)
	in := ruleInput{
		subject:    req.Subject,
		identities: identities,
		scope:      models.ScopeOf(req.Subject),
		bindings:   condition.Bind(req.Subject, user),
	}

	waived := make(map[uuid.UUID]bool, len(req.Waived))
	for _, id := range req.Waived {
		waived[id] = true
	}

	verdict = Pass()
	for _, rule := range rules {
		if waived[rule.ID] {
			continue
		}
		if rule.ConditionExpr != "" && !e.conditions.Evaluate(ctx, rule.ConditionExpr, in.bindings) {
			continue
		}

		in.rule = rule
		out := e.evaluateRule(ctx, &in)
		verdict.EvaluatedRules = append(verdict.EvaluatedRules, rule.Code)
		verdict.Warnings = append(verdict.Warnings, out.warnings...)
		for _, msg := range out.internal {
			verdict.AddError(msg)
		}
		if len(out.violations) == 0 {
			continue
		}

		verdict.Violations = append(verdict.Violations, out.violations...)
		if rule.RequiresApproval {
			for _, v := range out.violations {
				verdict.AddWarning(v.Message + ". Approval will be requested.")
			}
			verdict.RequiresApproval = true
			verdict.TriggeringRuleID = rule.ID
			verdict.TriggeringCategory = out.violations[0].Category
			break
		}
		for _, v := range out.violations {
			message := v.Message
			if rule.ErrorMessage != "" && v.Category != models.ViolationOther {
				message += " (" + rule.ErrorMessage + ")"
			}
			verdict.AddError(message)
		}
	}

	span.SetAttributes(
		attribute.Bool("verdict.valid", verdict.Valid),
		attribute.Bool("verdict.requires_approval", verdict.RequiresApproval),
		attribute.Int("rules.evaluated", len(verdict.EvaluatedRules)),
	)
	e.logger.Debug("subject evaluated",
		zap.String("subject", ref.String()),
		zap.String("trigger", string(req.Trigger)),
		zap.Bool("valid", verdict.Valid),
		zap.Bool("requires_approval", verdict.RequiresApproval),
		zap.Strings("rules", verdict.EvaluatedRules),
	)
	return verdict
}

func (e *Engine) evaluateRule(ctx context.Context, in *ruleInput) ruleOutcome {
	var out ruleOutcome
	for _, c := range checks {
		if c.enabled(in.rule) {
			e.runCheck(ctx, c, in, &out)
		}
	}
	return out
}

// actor loads the identities of the acting user. A lookup failure leaves the
// actor with no identities, so only global thresholds apply.
func (e *Engine) actor(ctx context.Context, actorID string) ([]models.Identity, condition.User) {
	user := condition.User{ID: actorID}
	if actorID == "" || e.authority == nil {
		return nil, user
	}
	identities, personas, groups, err := authority.Identities(ctx, e.authority, actorID)
	if err != nil {
		e.logger.Warn("failed to load actor authorities", zap.String("actor", actorID), zap.Error(err))
		return nil, user
	}
	for _, p := range personas {
		user.Personas = append(user.Personas, p.ID)
	}
	user.Groups = groups
	return identities, user
}

// applicableRules returns the active rules of the scope for a trigger, in
// evaluation order
func (e *Engine) applicableRules(ctx context.Context, modelName, companyID string, trigger models.TriggerEvent) ([]*models.Rule, error) {
	all, err := e.orderedRules(ctx, modelName, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Rule, 0, len(all))
	for _, r := range all {
		if r.Active && r.MatchesTrigger(trigger) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *Engine) orderedRules(ctx context.Context, modelName, companyID string) ([]*models.Rule, error) {
	key := CacheKey{ModelName: modelName, CompanyID: companyID}
	if e.cache != nil {
		if rules, ok := e.cache.GetRules(key); ok {
			return rules, nil
		}
	}

	rules, err := e.rules.ListActive(ctx, modelName, companyID)
	if err != nil {
		return nil, err
	}
	SortRules(rules)

	if e.cache != nil {
		e.cache.SetRules(key, rules)
	}
	return rules, nil
}

// SortRules orders rules by sequence, breaking ties by ID bytes
func SortRules(rules []*models.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Sequence != rules[j].Sequence {
			return rules[i].Sequence < rules[j].Sequence
		}
		return bytes.Compare(rules[i].ID[:], rules[j].ID[:]) < 0
	})
}
