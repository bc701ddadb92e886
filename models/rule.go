package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleType classifies what a governance rule mainly enforces
type RuleType string

const (
	RuleTypeMatrixValidation RuleType = "matrix_validation"
	RuleTypeDiscountLimit    RuleType = "discount_limit"
	RuleTypeMarginProtection RuleType = "margin_protection"
	RuleTypePriceOverride    RuleType = "price_override"
	RuleTypeApproval         RuleType = "approval_workflow"
	RuleTypeLegacy           RuleType = "legacy"
)

// TriggerEvent is the document event that causes a rule to be evaluated
type TriggerEvent string

const (
	TriggerAlways        TriggerEvent = "always"
	TriggerOnCreate      TriggerEvent = "on_create"
	TriggerOnWrite       TriggerEvent = "on_write"
	TriggerOnStateChange TriggerEvent = "on_state_change"
)

// DefaultMarginWarningBand is the distance above the margin floor that still raises a warning
var DefaultMarginWarningBand = decimal.NewFromInt(5)

// MatrixCheck requires branch and business-unit dimensions on a subject
type MatrixCheck struct {
	Enabled                bool     `json:"enabled" db:"enforce_matrix"`
	BranchRequired         bool     `json:"branch_required" db:"branch_required"`
	BusinessUnitRequired   bool     `json:"business_unit_required" db:"business_unit_required"`
	AllowedBranchIDs       []string `json:"allowed_branch_ids,omitempty" db:"allowed_branch_ids"`
	AllowedBusinessUnitIDs []string `json:"allowed_business_unit_ids,omitempty" db:"allowed_business_unit_ids"`
}

// DiscountCheck caps the discount percent granted on a subject
type DiscountCheck struct {
	Enabled     bool            `json:"enabled" db:"enforce_discount_limit"`
	GlobalLimit decimal.Decimal `json:"global_limit" db:"global_discount_limit" validate:"gte=0,lte=100"`
}

// MarginCheck enforces a minimum margin percent
type MarginCheck struct {
	Enabled       bool            `json:"enabled" db:"enforce_margin_protection"`
	GlobalMinimum decimal.Decimal `json:"global_minimum" db:"global_minimum_margin" validate:"gte=0,lte=100"`
	WarningBand   decimal.Decimal `json:"warning_band" db:"warning_margin_threshold" validate:"gte=0,lte=100"`
}

// PriceCheck caps how far the charged price may drift from the list price
type PriceCheck struct {
	Enabled           bool            `json:"enabled" db:"enforce_price_override"`
	GlobalMaxVariance decimal.Decimal `json:"global_max_variance" db:"global_max_price_variance" validate:"gte=0,lte=100"`
}

// LegacyCheck is a free-standing assertion that must hold for the subject
type LegacyCheck struct {
	Expr    string `json:"expr,omitempty" db:"legacy_expr"`
	Message string `json:"message,omitempty" db:"legacy_message"`
}

// Enabled reports whether the legacy assertion is configured
func (l LegacyCheck) Enabled() bool {
	return strings.TrimSpace(l.Expr) != ""
}

// Rule is a scoped governance policy enabling one or more checks
type Rule struct {
	ID                   uuid.UUID     `json:"id" db:"id"`
	Code                 string        `json:"code" db:"code" validate:"required,max=32"`
	Name                 string        `json:"name" db:"name" validate:"required,max=255"`
	ModelName            string        `json:"model_name" db:"model_name" validate:"required"`
	CompanyID            string        `json:"company_id" db:"company_id" validate:"required"`
	RuleType             RuleType      `json:"rule_type" db:"rule_type" validate:"required,oneof=matrix_validation discount_limit margin_protection price_override approval_workflow legacy"`
	TriggerEvent         TriggerEvent  `json:"trigger_event" db:"trigger_event" validate:"required,oneof=always on_create on_write on_state_change"`
	Sequence             int           `json:"sequence" db:"sequence" validate:"gte=0"`
	Active               bool          `json:"active" db:"active"`
	ConditionExpr        string        `json:"condition_expr,omitempty" db:"condition_expr"`
	Matrix               MatrixCheck   `json:"matrix"`
	Discount             DiscountCheck `json:"discount"`
	Margin               MarginCheck   `json:"margin"`
	Price                PriceCheck    `json:"price"`
	Legacy               LegacyCheck   `json:"legacy"`
	RequiresApproval     bool          `json:"requires_approval" db:"require_approval"`
	ApproverGroupIDs     []string      `json:"approver_group_ids,omitempty" db:"approver_group_ids"`
	FallbackApproverIDs  []string      `json:"fallback_approver_ids,omitempty" db:"fallback_approver_ids"`
	EscalationPersonaIDs []string      `json:"escalation_persona_ids,omitempty" db:"escalation_persona_ids"`
	ErrorMessage         string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Rule model
func (Rule) TableName() string {
	return "governance_rules"
}

// NewRule creates an active rule scoped to a model and company
func NewRule(code, name, modelName, companyID string, ruleType RuleType, trigger TriggerEvent, sequence int) *Rule {
	now := time.Now()
	return &Rule{
		ID:           uuid.New(),
		Code:         code,
		Name:         name,
		ModelName:    modelName,
		CompanyID:    companyID,
		RuleType:     ruleType,
		TriggerEvent: trigger,
		Sequence:     sequence,
		Active:       true,
		Margin:       MarginCheck{WarningBand: DefaultMarginWarningBand},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Label is the prefix used in every verdict message produced for this rule
func (r *Rule) Label() string {
	return fmt.Sprintf("[%s] %s", r.Code, r.Name)
}

// MatchesTrigger reports whether the rule runs for the given event
func (r *Rule) MatchesTrigger(event TriggerEvent) bool {
	return r.TriggerEvent == TriggerAlways || r.TriggerEvent == event
}

// HasChecks reports whether at least one check is enabled
func (r *Rule) HasChecks() bool {
	return r.Matrix.Enabled || r.Discount.Enabled || r.Margin.Enabled || r.Price.Enabled || r.Legacy.Enabled()
}

// Describe renders a one-line summary of the enabled checks
func (r *Rule) Describe() string {
	parts := make([]string, 0, 6)
	if r.Matrix.Enabled {
		var dims []string
		if r.Matrix.BranchRequired {
			dims = append(dims, "branch")
		}
		if r.Matrix.BusinessUnitRequired {
			dims = append(dims, "business unit")
		}
		if len(dims) > 0 {
			parts = append(parts, "requires "+strings.Join(dims, " and "))
		} else {
			parts = append(parts, "matrix validation")
		}
	}
	if r.Discount.Enabled {
		parts = append(parts, fmt.Sprintf("max discount %s%%", r.Discount.GlobalLimit.String()))
	}
	if r.Margin.Enabled {
		parts = append(parts, fmt.Sprintf("min margin %s%%", r.Margin.GlobalMinimum.String()))
	}
	if r.Price.Enabled {
		parts = append(parts, fmt.Sprintf("max price variance %s%%", r.Price.GlobalMaxVariance.String()))
	}
	if r.Legacy.Enabled() {
		parts = append(parts, "custom condition")
	}
	if r.RequiresApproval {
		parts = append(parts, "approval on violation")
	}
	if len(parts) == 0 {
		return "no checks configured"
	}
	return strings.Join(parts, ", ")
}
