// Package subjecttest provides an in-memory governed document for tests.
package subjecttest

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/upb/matrix-governance/models"
)

// Document is a mutable SubjectAccessor. Protected lists the field names whose
// change is blocked while the document is locked.
type Document struct {
	mu sync.Mutex

	Model        string
	ID           string
	CompanyID    string
	Branch       *models.Branch
	BusinessUnit *models.BusinessUnit
	CategoryID   string
	Amount       decimal.Decimal
	Discount     decimal.Decimal
	Inputs       models.MarginInputs
	State        string
	Protected    []string

	SetStateErr error
}

// NewDocument creates a draft sale order in company acme
func NewDocument(id string) *Document {
	return &Document{
		Model:     "sale.order",
		ID:        id,
		CompanyID: "acme",
		State:     "draft",
		Protected: []string{"amount", "discount_percent", "price"},
	}
}

// WithDiscount sets the discount percent
func (d *Document) WithDiscount(pct float64) *Document {
	d.Discount = decimal.NewFromFloat(pct)
	return d
}

// WithPricing sets cost, price and list price
func (d *Document) WithPricing(cost, price, list float64) *Document {
	d.Inputs = models.MarginInputs{
		Cost:      decimal.NewFromFloat(cost),
		Price:     decimal.NewFromFloat(price),
		ListPrice: decimal.NewFromFloat(list),
	}
	return d
}

// WithScope sets branch, business unit and category
func (d *Document) WithScope(branchID, businessUnitID, categoryID string) *Document {
	if branchID != "" {
		d.Branch = &models.Branch{ID: branchID, Name: branchID}
	}
	if businessUnitID != "" {
		d.BusinessUnit = &models.BusinessUnit{ID: businessUnitID, Name: businessUnitID}
	}
	d.CategoryID = categoryID
	return d
}

func (d *Document) Ref() models.SubjectRef {
	return models.SubjectRef{Model: d.Model, ID: d.ID}
}

func (d *Document) GetCompanyID() string                  { return d.CompanyID }
func (d *Document) GetBranch() *models.Branch             { return d.Branch }
func (d *Document) GetBusinessUnit() *models.BusinessUnit { return d.BusinessUnit }
func (d *Document) GetCategoryID() string                 { return d.CategoryID }
func (d *Document) GetAmount() decimal.Decimal            { return d.Amount }
func (d *Document) GetDiscountPercent() decimal.Decimal   { return d.Discount }
func (d *Document) GetMarginInputs() models.MarginInputs  { return d.Inputs }

func (d *Document) GetState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State
}

func (d *Document) SetState(state string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SetStateErr != nil {
		return d.SetStateErr
	}
	d.State = state
	return nil
}

func (d *Document) IsProtectedFieldChanged(diff models.FieldDiff) bool {
	for _, field := range d.Protected {
		if _, ok := diff[field]; ok {
			return true
		}
	}
	return false
}

var _ models.SubjectAccessor = (*Document)(nil)
