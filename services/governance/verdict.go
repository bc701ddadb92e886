package governance

import (
	"strings"

	"github.com/google/uuid"
	"github.com/upb/matrix-governance/models"
)

// Violation is one failed check of one rule
type Violation struct {
	RuleID   uuid.UUID                `json:"rule_id"`
	RuleCode string                   `json:"rule_code"`
	Category models.ViolationCategory `json:"category"`
	Message  string                   `json:"message"`
}

// Verdict is the outcome of evaluating a subject against its rules
type Verdict struct {
	Valid              bool                     `json:"valid"`
	Errors             []string                 `json:"errors,omitempty"`
	Warnings           []string                 `json:"warnings,omitempty"`
	RequiresApproval   bool                     `json:"requires_approval"`
	TriggeringRuleID   uuid.UUID                `json:"triggering_rule_id,omitempty"`
	TriggeringCategory models.ViolationCategory `json:"triggering_category,omitempty"`
	Violations         []Violation              `json:"violations,omitempty"`
	EvaluatedRules     []string                 `json:"evaluated_rules,omitempty"`
}

// Pass returns a valid verdict with no findings
func Pass() Verdict {
	return Verdict{Valid: true}
}

// Allowed reports whether the action may proceed without an approval
func (v Verdict) Allowed() bool {
	return v.Valid && !v.RequiresApproval
}

// HasTrigger reports whether a rule asked for approval
func (v Verdict) HasTrigger() bool {
	return v.RequiresApproval && v.TriggeringRuleID != uuid.Nil
}

// AddWarning appends a warning
func (v *Verdict) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// AddError appends an error and invalidates the verdict
func (v *Verdict) AddError(msg string) {
	v.Errors = append(v.Errors, msg)
	v.Valid = false
}

// Summary joins errors and warnings into one line for notes and audit entries
func (v Verdict) Summary() string {
	parts := make([]string, 0, len(v.Errors)+len(v.Warnings))
	parts = append(parts, v.Errors...)
	parts = append(parts, v.Warnings...)
	return strings.Join(parts, "; ")
}

// ViolationsOf returns the violations raised by one rule
func (v Verdict) ViolationsOf(ruleID uuid.UUID) []Violation {
	var out []Violation
	for _, vi := range v.Violations {
		if vi.RuleID == ruleID {
			out = append(out, vi)
		}
	}
	return out
}
