package models

import "github.com/shopspring/decimal"

// Branch is an operating location
type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BusinessUnit is an organizational division that operates in a set of branches
type BusinessUnit struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	BranchIDs []string `json:"branch_ids,omitempty"`
}

// OperatesIn reports whether the business unit is allowed in the branch.
// A unit without an explicit branch list operates everywhere.
func (b *BusinessUnit) OperatesIn(branchID string) bool {
	if len(b.BranchIDs) == 0 {
		return true
	}
	for _, id := range b.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}

// MarginInputs are the already-computed price figures of a subject
type MarginInputs struct {
	Cost      decimal.Decimal `json:"cost"`
	Price     decimal.Decimal `json:"price"`
	ListPrice decimal.Decimal `json:"list_price"`
}

// MarginPercent returns (price - cost) / price * 100, or zero when price is zero
func (m MarginInputs) MarginPercent() decimal.Decimal {
	if m.Price.IsZero() {
		return decimal.Zero
	}
	return m.Price.Sub(m.Cost).Div(m.Price).Mul(decimal.NewFromInt(100))
}

// VariancePercent returns |price - list| / list * 100. The second result is
// false when no list price is known.
func (m MarginInputs) VariancePercent() (decimal.Decimal, bool) {
	if !m.ListPrice.IsPositive() {
		return decimal.Zero, false
	}
	return m.Price.Sub(m.ListPrice).Div(m.ListPrice).Mul(decimal.NewFromInt(100)).Abs(), true
}

// FieldDiff lists the fields a pending write would change, keyed by field name
type FieldDiff map[string]any

// SubjectAccessor is implemented once per governed document type. The engine
// only reads a subject through these methods.
type SubjectAccessor interface {
	Ref() SubjectRef
	GetCompanyID() string
	// GetBranch returns nil when no branch is set.
	GetBranch() *Branch
	// GetBusinessUnit returns nil when no business unit is set.
	GetBusinessUnit() *BusinessUnit
	GetCategoryID() string
	GetAmount() decimal.Decimal
	GetDiscountPercent() decimal.Decimal
	GetMarginInputs() MarginInputs
	GetState() string
	SetState(state string) error
	IsProtectedFieldChanged(diff FieldDiff) bool
}

// ScopeOf derives the override scope of a subject
func ScopeOf(s SubjectAccessor) ScopeContext {
	scope := ScopeContext{CategoryID: s.GetCategoryID()}
	if b := s.GetBranch(); b != nil {
		scope.BranchID = b.ID
	}
	if bu := s.GetBusinessUnit(); bu != nil {
		scope.BusinessUnitID = bu.ID
	}
	return scope
}
