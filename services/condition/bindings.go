package condition

import (
	"sort"

	"github.com/upb/matrix-governance/models"
)

// Declared fields. A condition may reference nothing else.
const (
	FieldSubjectModel          = "subject.model"
	FieldSubjectCompanyID      = "subject.company_id"
	FieldSubjectState          = "subject.state"
	FieldSubjectBranchID       = "subject.branch_id"
	FieldSubjectBusinessUnitID = "subject.business_unit_id"
	FieldSubjectCategoryID     = "subject.category_id"
	FieldSubjectAmount         = "subject.amount"
	FieldSubjectDiscount       = "subject.discount_percent"
	FieldSubjectCost           = "subject.cost"
	FieldSubjectPrice          = "subject.price"
	FieldSubjectListPrice      = "subject.list_price"
	FieldUserID                = "user.id"
	FieldUserPersonas          = "user.personas"
	FieldUserGroups            = "user.groups"
)

var declaredFields = map[string]ValueKind{
	FieldSubjectModel:          KindString,
	FieldSubjectCompanyID:      KindString,
	FieldSubjectState:          KindString,
	FieldSubjectBranchID:       KindString,
	FieldSubjectBusinessUnitID: KindString,
	FieldSubjectCategoryID:     KindString,
	FieldSubjectAmount:         KindNumber,
	FieldSubjectDiscount:       KindNumber,
	FieldSubjectCost:           KindNumber,
	FieldSubjectPrice:          KindNumber,
	FieldSubjectListPrice:      KindNumber,
	FieldUserID:                KindString,
	FieldUserPersonas:          KindList,
	FieldUserGroups:            KindList,
}

// DeclaredFields returns the sorted names of all referenceable fields
func DeclaredFields() []string {
	names := make([]string, 0, len(declaredFields))
	for name := range declaredFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsDeclared reports whether a field may be referenced
func IsDeclared(field string) bool {
	_, ok := declaredFields[field]
	return ok
}

// User is the acting identity exposed to conditions
type User struct {
	ID       string
	Personas []string
	Groups   []string
}

// Bindings maps declared field names to their values for one evaluation
type Bindings map[string]Value

// Lookup returns the bound value, or Null for a declared field left unbound
func (b Bindings) Lookup(field string) Value {
	if v, ok := b[field]; ok {
		return v
	}
	return Null
}

// Bind reads every declared field from a subject and the acting user
func Bind(subject models.SubjectAccessor, user User) Bindings {
	ref := subject.Ref()
	inputs := subject.GetMarginInputs()
	scope := models.ScopeOf(subject)

	return Bindings{
		FieldSubjectModel:          String(ref.Model),
		FieldSubjectCompanyID:      String(subject.GetCompanyID()),
		FieldSubjectState:          String(subject.GetState()),
		FieldSubjectBranchID:       OptionalString(scope.BranchID),
		FieldSubjectBusinessUnitID: OptionalString(scope.BusinessUnitID),
		FieldSubjectCategoryID:     OptionalString(scope.CategoryID),
		FieldSubjectAmount:         Number(subject.GetAmount()),
		FieldSubjectDiscount:       Number(subject.GetDiscountPercent()),
		FieldSubjectCost:           Number(inputs.Cost),
		FieldSubjectPrice:          Number(inputs.Price),
		FieldSubjectListPrice:      Number(inputs.ListPrice),
		FieldUserID:                OptionalString(user.ID),
		FieldUserPersonas:          Strings(user.Personas),
		FieldUserGroups:            Strings(user.Groups),
	}
}
