package models

// Capability is an approval right carried by a persona
type Capability string

const (
	CapabilityApproveDiscounts        Capability = "can_approve_discounts"
	CapabilityApproveMarginExceptions Capability = "can_approve_margin_exceptions"
	CapabilityApprovePriceOverrides   Capability = "can_approve_price_overrides"
	CapabilityApproveMatrixExceptions Capability = "can_approve_matrix_exceptions"
)

// CapabilityFor maps a violation category to the capability needed to approve it
func CapabilityFor(category ViolationCategory) (Capability, bool) {
	switch category {
	case ViolationDiscount:
		return CapabilityApproveDiscounts, true
	case ViolationMargin:
		return CapabilityApproveMarginExceptions, true
	case ViolationPrice:
		return CapabilityApprovePriceOverrides, true
	case ViolationMatrix:
		return CapabilityApproveMatrixExceptions, true
	}
	return "", false
}

// Persona is a business role held by a user, limited to branches and business units.
// Empty scope lists mean the persona applies everywhere.
type Persona struct {
	ID                 string       `json:"id" yaml:"id" validate:"required"`
	Name               string       `json:"name" yaml:"name"`
	CompanyID          string       `json:"company_id,omitempty" yaml:"company_id"`
	Capabilities       []Capability `json:"capabilities,omitempty" yaml:"capabilities" validate:"dive,oneof=can_approve_discounts can_approve_margin_exceptions can_approve_price_overrides can_approve_matrix_exceptions"`
	ScopeBranches      []string     `json:"scope_branches,omitempty" yaml:"scope_branches"`
	ScopeBusinessUnits []string     `json:"scope_business_units,omitempty" yaml:"scope_business_units"`
}

// Can reports whether the persona carries the capability
func (p *Persona) Can(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Covers reports whether the persona's scope includes the branch and business
// unit. An empty branch or business unit is not filtered on.
func (p *Persona) Covers(branchID, businessUnitID string) bool {
	return scopeIncludes(p.ScopeBranches, branchID) && scopeIncludes(p.ScopeBusinessUnits, businessUnitID)
}

func scopeIncludes(scope []string, id string) bool {
	if id == "" || len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if s == id {
			return true
		}
	}
	return false
}

// Identities flattens personas and groups into the identity list used for limit resolution
func Identities(personas []Persona, groups []string) []Identity {
	out := make([]Identity, 0, len(personas)+len(groups))
	for _, p := range personas {
		out = append(out, PersonaIdentity(p.ID))
	}
	for _, g := range groups {
		out = append(out, GroupIdentity(g))
	}
	return out
}
