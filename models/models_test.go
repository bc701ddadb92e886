package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Rule tests
func TestNewRule(t *testing.T) {
	rule := NewRule("GR0001", "Discount Limit", "sale.order", "acme", RuleTypeDiscountLimit, TriggerOnStateChange, 10)

	assert.NotEqual(t, uuid.Nil, rule.ID)
	assert.Equal(t, "GR0001", rule.Code)
	assert.True(t, rule.Active)
	assert.True(t, rule.Margin.WarningBand.Equal(DefaultMarginWarningBand))
	assert.Equal(t, rule.CreatedAt, rule.UpdatedAt)
	assert.Equal(t, "[GR0001] Discount Limit", rule.Label())
}

func TestRule_TableName(t *testing.T) {
	assert.Equal(t, "governance_rules", Rule{}.TableName())
}

func TestRule_MatchesTrigger(t *testing.T) {
	tests := []struct {
		name    string
		trigger TriggerEvent
		event   TriggerEvent
		want    bool
	}{
		{"always matches write", TriggerAlways, TriggerOnWrite, true},
		{"always matches state change", TriggerAlways, TriggerOnStateChange, true},
		{"exact match", TriggerOnCreate, TriggerOnCreate, true},
		{"mismatch", TriggerOnCreate, TriggerOnStateChange, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &Rule{TriggerEvent: tt.trigger}
			assert.Equal(t, tt.want, rule.MatchesTrigger(tt.event))
		})
	}
}

func TestRule_Describe(t *testing.T) {
	rule := NewRule("GR0002", "Sales", "sale.order", "acme", RuleTypeMatrixValidation, TriggerAlways, 1)
	assert.Equal(t, "no checks configured", rule.Describe())
	assert.False(t, rule.HasChecks())

	rule.Matrix = MatrixCheck{Enabled: true, BranchRequired: true, BusinessUnitRequired: true}
	rule.Discount = DiscountCheck{Enabled: true, GlobalLimit: decimal.NewFromInt(5)}
	rule.RequiresApproval = true

	assert.True(t, rule.HasChecks())
	assert.Equal(t, "requires branch and business unit, max discount 5%, approval on violation", rule.Describe())
}

// LimitOverride tests
func TestNewLimitOverride(t *testing.T) {
	ruleID := uuid.New()

	persona := NewLimitOverride(ruleID, LimitKindDiscount, PersonaIdentity("regional_manager"), decimal.NewFromInt(15))
	assert.Equal(t, "regional_manager", persona.PersonaID)
	assert.Empty(t, persona.GroupID)
	assert.True(t, persona.HeldBy(PersonaIdentity("regional_manager")))
	assert.False(t, persona.HeldBy(GroupIdentity("regional_manager")))

	group := NewLimitOverride(ruleID, LimitKindDiscount, GroupIdentity("sales_leads"), decimal.NewFromInt(10))
	assert.Equal(t, "sales_leads", group.GroupID)
	assert.True(t, group.HeldBy(GroupIdentity("sales_leads")))

	scopeOnly := NewLimitOverride(ruleID, LimitKindMarginFloor, Identity{}, decimal.NewFromInt(10))
	assert.True(t, scopeOnly.IsScopeOnly())
}

func TestLimitOverride_IsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := NewLimitOverride(uuid.New(), LimitKindDiscount, PersonaIdentity("p"), decimal.NewFromInt(1))

	assert.False(t, o.IsExpired(now))

	o.WithExpiry(now)
	assert.True(t, o.IsExpired(now))
	assert.False(t, o.IsExpired(now.Add(-time.Second)))
}

// ApprovalRequest tests
func TestNewApprovalRequest(t *testing.T) {
	ruleID := uuid.New()
	ref := SubjectRef{Model: "sale.order", ID: "SO042"}

	req := NewApprovalRequest(ruleID, ref, "acme", "alice")

	assert.NotEqual(t, uuid.Nil, req.ID)
	assert.Equal(t, ApprovalStatePending, req.State)
	assert.True(t, req.IsPending())
	assert.False(t, req.IsTerminal())
	assert.False(t, req.IsConsumable())
	assert.Regexp(t, `^AR-\d{8}-[0-9A-F]{8}$`, req.Reference)
	assert.Equal(t, "sale.order/SO042", req.Subject.String())
	assert.Equal(t, req.CreatedAt, req.EscalationAnchor())
}

func TestApprovalRequest_Consumable(t *testing.T) {
	req := NewApprovalRequest(uuid.New(), SubjectRef{Model: "m", ID: "1"}, "acme", "alice")
	req.State = ApprovalStateApproved
	assert.True(t, req.IsConsumable())

	now := time.Now()
	req.ConsumedAt = &now
	assert.False(t, req.IsConsumable())
	assert.True(t, req.IsTerminal())
}

func TestDecision_TargetState(t *testing.T) {
	state, ok := DecisionApprove.TargetState()
	assert.True(t, ok)
	assert.Equal(t, ApprovalStateApproved, state)

	state, ok = DecisionReject.TargetState()
	assert.True(t, ok)
	assert.Equal(t, ApprovalStateRejected, state)

	_, ok = Decision("maybe").TargetState()
	assert.False(t, ok)
}

func TestApprovalRequest_JSONMarshaling(t *testing.T) {
	req := NewApprovalRequest(uuid.New(), SubjectRef{Model: "account.move", ID: "INV/1"}, "acme", "bob")
	req.Approvers = []string{"carol"}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded ApprovalRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Subject, decoded.Subject)
	assert.True(t, decoded.HasApprover("carol"))
}

// Subject tests
func TestMarginInputs_MarginPercent(t *testing.T) {
	tests := []struct {
		name  string
		cost  int64
		price int64
		want  string
	}{
		{"healthy margin", 60, 100, "40"},
		{"thin margin", 60, 70, "14.29"},
		{"zero price", 10, 0, "0"},
		{"loss", 120, 100, "-20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := MarginInputs{Cost: decimal.NewFromInt(tt.cost), Price: decimal.NewFromInt(tt.price)}
			assert.Equal(t, tt.want, in.MarginPercent().Round(2).String())
		})
	}
}

func TestMarginInputs_VariancePercent(t *testing.T) {
	in := MarginInputs{Price: decimal.NewFromInt(80), ListPrice: decimal.NewFromInt(100)}
	v, ok := in.VariancePercent()
	require.True(t, ok)
	assert.Equal(t, "20", v.String())

	_, ok = MarginInputs{Price: decimal.NewFromInt(80)}.VariancePercent()
	assert.False(t, ok)
}

func TestBusinessUnit_OperatesIn(t *testing.T) {
	anywhere := &BusinessUnit{ID: "retail"}
	assert.True(t, anywhere.OperatesIn("dubai"))

	local := &BusinessUnit{ID: "retail", BranchIDs: []string{"dubai"}}
	assert.True(t, local.OperatesIn("dubai"))
	assert.False(t, local.OperatesIn("riyadh"))
}

// Persona tests
func TestPersona_CanAndCovers(t *testing.T) {
	p := Persona{
		ID:            "regional_manager",
		Capabilities:  []Capability{CapabilityApproveDiscounts},
		ScopeBranches: []string{"dubai"},
	}

	assert.True(t, p.Can(CapabilityApproveDiscounts))
	assert.False(t, p.Can(CapabilityApproveMarginExceptions))
	assert.True(t, p.Covers("dubai", "any-bu"))
	assert.False(t, p.Covers("riyadh", "any-bu"))
	assert.True(t, p.Covers("", ""), "a subject without branch is not filtered on branch")

	p.ScopeBusinessUnits = []string{"retail"}
	assert.True(t, p.Covers("dubai", ""))
	assert.False(t, p.Covers("dubai", "wholesale"))
}

func TestCapabilityFor(t *testing.T) {
	c, ok := CapabilityFor(ViolationMargin)
	assert.True(t, ok)
	assert.Equal(t, CapabilityApproveMarginExceptions, c)

	_, ok = CapabilityFor(ViolationOther)
	assert.False(t, ok)
}

func TestIdentities(t *testing.T) {
	ids := Identities([]Persona{{ID: "p1"}}, []string{"g1", "g2"})
	assert.Equal(t, []Identity{PersonaIdentity("p1"), GroupIdentity("g1"), GroupIdentity("g2")}, ids)
}

// AuditLog tests
func TestNewAuditLog(t *testing.T) {
	ruleID := uuid.New()
	log := NewAuditLog("acme", AuditActionApprovalRequested, "approval_request").
		WithActor("alice").
		WithRule(ruleID).
		WithSubject(SubjectRef{Model: "sale.order", ID: "SO1"}).
		WithDetails(map[string]string{"reference": "AR-1"})

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, "alice", log.ActorID)
	require.NotNil(t, log.RuleID)
	assert.Equal(t, ruleID, *log.RuleID)
	assert.Equal(t, "sale.order", log.SubjectModel)
	assert.JSONEq(t, `{"reference":"AR-1"}`, string(log.Details))

	assert.Nil(t, NewAuditLog("acme", AuditActionVerdictEvaluated, "rule").WithRule(uuid.Nil).RuleID)
}
