package governance

import (
	"fmt"

	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/services"
	"github.com/upb/matrix-governance/services/condition"
	"github.com/upb/matrix-governance/utils"
)

// ValidateRule checks a rule and its overrides before they are saved or
// loaded. Conditions are parsed here so a broken expression never reaches
// the engine.
func ValidateRule(rule *models.Rule, overrides []*models.LimitOverride) error {
	if err := utils.ValidateStruct(rule); err != nil {
		return services.Wrap(services.ErrInvalidRule, err)
	}
	if !rule.HasChecks() {
		return services.Wrap(services.ErrInvalidRule, fmt.Errorf("rule %s enables no checks", rule.Code))
	}
	if rule.RuleType == models.RuleTypeLegacy && !rule.Legacy.Enabled() {
		return services.Wrap(services.ErrInvalidRule, fmt.Errorf("legacy rule %s has no expression", rule.Code))
	}

	if rule.ConditionExpr != "" {
		if _, err := condition.Parse(rule.ConditionExpr); err != nil {
			return services.Wrap(services.ErrInvalidCondition, err).WithDetail("field", "condition_expr")
		}
	}
	if rule.Legacy.Enabled() {
		if _, err := condition.Parse(rule.Legacy.Expr); err != nil {
			return services.Wrap(services.ErrInvalidCondition, err).WithDetail("field", "legacy_expr")
		}
	}

	for _, o := range overrides {
		if err := ValidateOverride(rule, o); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOverride checks one override row against its rule
func ValidateOverride(rule *models.Rule, o *models.LimitOverride) error {
	if err := utils.ValidateStruct(o); err != nil {
		return services.Wrap(services.ErrInvalidRule, err)
	}
	if o.RuleID != rule.ID {
		return services.Wrap(services.ErrInvalidRule, fmt.Errorf("override %s belongs to another rule", o.ID))
	}
	if o.IsScopeOnly() && o.Kind != models.LimitKindMarginFloor {
		return services.Wrap(services.ErrInvalidRule, fmt.Errorf("%s override needs a persona or group", o.Kind))
	}
	return nil
}
