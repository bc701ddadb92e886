package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LimitKind selects which rule threshold an override adjusts
type LimitKind string

const (
	LimitKindDiscount      LimitKind = "discount"
	LimitKindMarginFloor   LimitKind = "margin_floor"
	LimitKindPriceVariance LimitKind = "price_variance"
)

// IdentityKind distinguishes personas from security groups
type IdentityKind string

const (
	IdentityPersona IdentityKind = "persona"
	IdentityGroup   IdentityKind = "group"
)

// Identity is one authority held by the acting user
type Identity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// PersonaIdentity builds a persona identity
func PersonaIdentity(id string) Identity {
	return Identity{Kind: IdentityPersona, ID: id}
}

// GroupIdentity builds a group identity
func GroupIdentity(id string) Identity {
	return Identity{Kind: IdentityGroup, ID: id}
}

// ScopeContext carries the subject dimensions used to match overrides
type ScopeContext struct {
	BranchID       string `json:"branch_id,omitempty"`
	BusinessUnitID string `json:"business_unit_id,omitempty"`
	CategoryID     string `json:"category_id,omitempty"`
}

// LimitOverride grants a persona or group a different threshold within a scope.
// Empty scope fields match any value. Margin floor rows may omit the identity,
// in which case they apply to everyone in scope.
type LimitOverride struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	RuleID         uuid.UUID       `json:"rule_id" db:"rule_id"`
	Kind           LimitKind       `json:"kind" db:"kind" validate:"required,oneof=discount margin_floor price_variance"`
	PersonaID      string          `json:"persona_id,omitempty" db:"persona_id" validate:"excluded_with=GroupID"`
	GroupID        string          `json:"group_id,omitempty" db:"group_id"`
	BranchID       string          `json:"branch_id,omitempty" db:"branch_id"`
	BusinessUnitID string          `json:"business_unit_id,omitempty" db:"business_unit_id"`
	CategoryID     string          `json:"category_id,omitempty" db:"category_id"`
	LimitValue     decimal.Decimal `json:"limit_value" db:"limit_value" validate:"gte=0,lte=100"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the LimitOverride model
func (LimitOverride) TableName() string {
	return "governance_limit_overrides"
}

// NewLimitOverride creates an override for a persona or group
func NewLimitOverride(ruleID uuid.UUID, kind LimitKind, identity Identity, value decimal.Decimal) *LimitOverride {
	o := &LimitOverride{
		ID:         uuid.New(),
		RuleID:     ruleID,
		Kind:       kind,
		LimitValue: value,
		CreatedAt:  time.Now(),
	}
	switch identity.Kind {
	case IdentityPersona:
		o.PersonaID = identity.ID
	case IdentityGroup:
		o.GroupID = identity.ID
	}
	return o
}

// WithScope narrows the override to a branch, business unit and category
func (o *LimitOverride) WithScope(scope ScopeContext) *LimitOverride {
	o.BranchID = scope.BranchID
	o.BusinessUnitID = scope.BusinessUnitID
	o.CategoryID = scope.CategoryID
	return o
}

// WithExpiry sets the instant after which the override no longer applies
func (o *LimitOverride) WithExpiry(at time.Time) *LimitOverride {
	o.ExpiresAt = &at
	return o
}

// HeldBy reports whether the override targets the identity
func (o *LimitOverride) HeldBy(id Identity) bool {
	switch id.Kind {
	case IdentityPersona:
		return o.PersonaID != "" && o.PersonaID == id.ID
	case IdentityGroup:
		return o.GroupID != "" && o.GroupID == id.ID
	}
	return false
}

// IsScopeOnly reports whether the override has no persona or group
func (o *LimitOverride) IsScopeOnly() bool {
	return o.PersonaID == "" && o.GroupID == ""
}

// IsExpired reports whether the override has lapsed at the given instant
func (o *LimitOverride) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}
