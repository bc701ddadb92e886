package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/matrix-governance/models"
)

func TestWorkflow_EscalateOverdue(t *testing.T) {
	f := newFixture(t)
	rule := discountRule()
	rule.EscalationPersonaIDs = []string{"finance_controller", "ceo"}
	f.rules.PutRule(rule)
	doc := dubaiOrder("SO001", 20)
	ctx := context.Background()

	_, _, err := transition(f, doc, "sales_rep")
	require.NoError(t, err)
	request := pendingFor(t, f, doc)[0]
	start := request.CreatedAt

	n, err := f.workflow.EscalateOverdue(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "not overdue yet")

	first := start.Add(49 * time.Hour)
	n, err = f.workflow.EscalateOverdue(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	escalated, err := f.approvals.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, escalated.EscalationLevel)
	assert.Equal(t, []string{"fc_user"}, escalated.Approvers)
	require.NotNil(t, escalated.EscalatedAt)
	assert.True(t, first.Equal(*escalated.EscalatedAt))

	// the timeout restarts from the escalation
	n, err = f.workflow.EscalateOverdue(ctx, first.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	second := first.Add(49 * time.Hour)
	n, err = f.workflow.EscalateOverdue(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	escalated, err = f.approvals.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, escalated.EscalationLevel)
	assert.Equal(t, []string{"boss"}, escalated.Approvers)

	// no third level: the request stays with its approvers
	n, err = f.workflow.EscalateOverdue(ctx, second.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	escalated, err = f.approvals.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, escalated.EscalationLevel)

	assert.Equal(t, 2, f.auditor.count(models.AuditActionApprovalEscalated))

	// the new approver can decide
	decided, err := decide(f, request.ID, models.DecisionApprove, "boss", "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStateApproved, decided.State)
}

func TestWorkflow_EscalateOverdue_SkipsRequestsWithoutLevels(t *testing.T) {
	f := newFixture(t)
	f.rules.PutRule(discountRule())
	doc := dubaiOrder("SO002", 20)

	_, _, err := transition(f, doc, "sales_rep")
	require.NoError(t, err)
	request := pendingFor(t, f, doc)[0]

	n, err := f.workflow.EscalateOverdue(context.Background(), request.CreatedAt.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := f.approvals.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"rm_other", "rm_user"}, stored.Approvers)
	assert.Zero(t, stored.EscalationLevel)
}

func TestWorkflow_EscalateOverdue_PersonaWithoutHolders(t *testing.T) {
	f := newFixture(t)
	rule := discountRule()
	rule.EscalationPersonaIDs = []string{"retired_role"}
	f.rules.PutRule(rule)
	doc := dubaiOrder("SO003", 20)

	_, _, err := transition(f, doc, "sales_rep")
	require.NoError(t, err)
	request := pendingFor(t, f, doc)[0]

	n, err := f.workflow.EscalateOverdue(context.Background(), request.CreatedAt.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.auditor.count(models.AuditActionApprovalEscalated))
}

func TestWorkflow_EscalateOverdue_BatchSize(t *testing.T) {
	f := newFixture(t)
	WithSettings(Settings{MinRejectionReasonChars: 10, EscalationTimeout: time.Hour, EscalationBatchSize: 2})(f.workflow)
	rule := discountRule()
	rule.EscalationPersonaIDs = []string{"finance_controller"}
	f.rules.PutRule(rule)

	var latest time.Time
	for _, id := range []string{"B1", "B2", "B3"} {
		doc := dubaiOrder(id, 20)
		_, _, err := transition(f, doc, "sales_rep")
		require.NoError(t, err)
		latest = pendingFor(t, f, doc)[0].CreatedAt
	}

	now := latest.Add(2 * time.Hour)
	n, err := f.workflow.EscalateOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.workflow.EscalateOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "escalated requests are no longer overdue")
}

func TestWorkflow_EscalateOverdue_StuckRequestsDoNotBlockTheBatch(t *testing.T) {
	f := newFixture(t)
	WithSettings(Settings{MinRejectionReasonChars: 10, EscalationTimeout: time.Hour, EscalationBatchSize: 1})(f.workflow)
	ctx := context.Background()

	noLevels := discountRule()
	withLevel := discountRule()
	withLevel.Code = "GR0002"
	withLevel.EscalationPersonaIDs = []string{"finance_controller"}
	f.rules.PutRule(noLevels)
	f.rules.PutRule(withLevel)

	start := time.Now().UTC().Add(-100 * time.Hour)
	stuck := models.NewApprovalRequest(noLevels.ID, models.SubjectRef{Model: "sale.order", ID: "OLD"}, "acme", "sales_rep")
	stuck.CreatedAt = start
	stuck.Approvers = []string{"rm_user"}
	fresh := models.NewApprovalRequest(withLevel.ID, models.SubjectRef{Model: "sale.order", ID: "NEW"}, "acme", "sales_rep")
	fresh.CreatedAt = start.Add(time.Hour)
	fresh.Approvers = []string{"rm_user"}
	for _, req := range []*models.ApprovalRequest{stuck, fresh} {
		_, _, err := f.approvals.FindOrCreatePending(ctx, req)
		require.NoError(t, err)
	}

	now := start.Add(72 * time.Hour)
	escalated := 0
	for i := 0; i < 5; i++ {
		n, err := f.workflow.EscalateOverdue(ctx, now)
		require.NoError(t, err)
		escalated += n
	}
	assert.Equal(t, 1, escalated)

	got, err := f.approvals.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel)
	assert.Equal(t, []string{"fc_user"}, got.Approvers)

	got, err = f.approvals.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Zero(t, got.EscalationLevel)
	assert.Equal(t, []string{"rm_user"}, got.Approvers)
	require.NotNil(t, got.EscalatedAt)
	assert.True(t, now.Equal(*got.EscalatedAt), "checked again one timeout later")
}

func TestWorkflow_EscalateOverdue_RuleDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := models.NewApprovalRequest(discountRule().ID, models.SubjectRef{Model: "sale.order", ID: "GONE"}, "acme", "sales_rep")
	req.CreatedAt = time.Now().UTC().Add(-72 * time.Hour)
	_, _, err := f.approvals.FindOrCreatePending(ctx, req)
	require.NoError(t, err)

	now := time.Now().UTC()
	n, err := f.workflow.EscalateOverdue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	overdue, err := f.approvals.ListOverdue(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}
