// Package approval turns approval-requiring verdicts into approval requests
// and gates document transitions on their decisions.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/matrix-governance/internal/authority"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
	"github.com/upb/matrix-governance/services"
	"go.uber.org/zap"
)

// Auditor receives governance audit entries. Recording must not block.
type Auditor interface {
	Record(log *models.AuditLog)
}

// Coordinator creates approval requests and routes them to approvers
type Coordinator struct {
	approvals         repositories.ApprovalRepository
	authority         authority.Provider
	auditor           Auditor
	fallbackApprovers []string
	logger            *zap.Logger
}

// NewCoordinator creates a coordinator. fallbackApprovers are used when a rule
// routes to nobody and names no fallback of its own.
func NewCoordinator(
	approvals repositories.ApprovalRepository,
	provider authority.Provider,
	auditor Auditor,
	fallbackApprovers []string,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		approvals:         approvals,
		authority:         provider,
		auditor:           auditor,
		fallbackApprovers: authority.SortedUnique(fallbackApprovers),
		logger:            logger,
	}
}

// RequestApproval returns the pending request of the rule for the subject,
// creating it when none exists. Concurrent callers get the same request.
func (c *Coordinator) RequestApproval(
	ctx context.Context,
	rule *models.Rule,
	subject models.SubjectAccessor,
	actorID string,
	category models.ViolationCategory,
	summary string,
) (*models.ApprovalRequest, error) {
	ref := subject.Ref()

	existing, err := c.approvals.FindPending(ctx, rule.ID, ref)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up pending approval: %w", err)
	}

	approvers, err := c.FindApprovers(ctx, rule, subject, category)
	if err != nil {
		return nil, err
	}

	req := models.NewApprovalRequest(rule.ID, ref, subject.GetCompanyID(), actorID)
	req.Category = category
	req.Notes = summary
	req.Approvers = approvers
	req.PreviousState = subject.GetState()

	stored, created, err := c.approvals.FindOrCreatePending(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}
	if !created {
		return stored, nil
	}

	c.logger.Info("approval requested",
		zap.String("reference", stored.Reference),
		zap.String("rule", rule.Code),
		zap.String("subject", ref.String()),
		zap.String("category", string(category)),
		zap.Strings("approvers", stored.Approvers),
	)
	c.record(models.NewAuditLog(stored.CompanyID, models.AuditActionApprovalRequested, "approval_request").
		WithActor(actorID).
		WithResource(stored.ID).
		WithSubject(ref).
		WithRule(rule.ID).
		WithDetails(map[string]interface{}{
			"reference": stored.Reference,
			"category":  stored.Category,
			"approvers": stored.Approvers,
			"summary":   summary,
		}))

	if len(stored.Approvers) == 0 {
		c.logger.Warn("approval request has no approvers",
			zap.String("reference", stored.Reference),
			zap.String("rule", rule.Code),
		)
		c.record(models.NewAuditLog(stored.CompanyID, models.AuditActionApproversMissing, "approval_request").
			WithResource(stored.ID).
			WithSubject(ref).
			WithRule(rule.ID).
			WithDetails(map[string]interface{}{"reference": stored.Reference, "category": stored.Category}))
	}
	return stored, nil
}

// FindApprovers resolves who may decide a violation of the rule, in priority
// order: members of the rule's approver groups, then holders of a persona
// carrying the category's capability within the subject's scope, then the
// rule's fallback approvers, then the global fallback approvers.
func (c *Coordinator) FindApprovers(
	ctx context.Context,
	rule *models.Rule,
	subject models.SubjectAccessor,
	category models.ViolationCategory,
) ([]string, error) {
	var members []string
	for _, groupID := range rule.ApproverGroupIDs {
		users, err := c.authority.GetGroupMembers(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load members of group %s: %w", groupID, err)
		}
		members = append(members, users...)
	}
	if approvers := authority.SortedUnique(members); len(approvers) > 0 {
		return approvers, nil
	}

	if capability, ok := models.CapabilityFor(category); ok {
		scope := models.ScopeOf(subject)
		holders, err := c.authority.FindHolders(ctx, authority.HolderQuery{
			CompanyID:      subject.GetCompanyID(),
			Capability:     capability,
			BranchID:       scope.BranchID,
			BusinessUnitID: scope.BusinessUnitID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to find %s holders: %w", capability, err)
		}
		if approvers := authority.SortedUnique(holders); len(approvers) > 0 {
			return approvers, nil
		}
	}

	if approvers := authority.SortedUnique(rule.FallbackApproverIDs); len(approvers) > 0 {
		return approvers, nil
	}
	return c.fallbackApprovers, nil
}

// escalationApprovers returns the holders of the persona assigned to an
// escalation level. The bool is false when the rule defines no such level.
func (c *Coordinator) escalationApprovers(ctx context.Context, rule *models.Rule, companyID string, level int) (string, []string, bool, error) {
	if level < 1 || level > len(rule.EscalationPersonaIDs) {
		return "", nil, false, nil
	}
	personaID := rule.EscalationPersonaIDs[level-1]
	holders, err := c.authority.FindHolders(ctx, authority.HolderQuery{CompanyID: companyID, PersonaID: personaID})
	if err != nil {
		return personaID, nil, true, fmt.Errorf("failed to find holders of %s: %w", personaID, err)
	}
	return personaID, authority.SortedUnique(holders), true, nil
}

func (c *Coordinator) record(log *models.AuditLog) {
	if c.auditor != nil {
		c.auditor.Record(log)
	}
}

// notFound maps a repository miss to the approval-request sentinel
func notFound(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.Wrap(services.ErrApprovalRequestNotFound, err)
	}
	return fmt.Errorf("failed to load approval request: %w", err)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
