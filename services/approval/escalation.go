package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
	"go.uber.org/zap"
)

// EscalateOverdue hands pending requests that waited longer than the
// escalation timeout to the persona of their rule's next escalation level.
// Requests that cannot be escalated stay with their approvers and are checked
// again one timeout later. It returns the number of requests escalated.
func (w *Workflow) EscalateOverdue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-w.settings.EscalationTimeout)
	overdue, err := w.approvals.ListOverdue(ctx, cutoff, w.settings.EscalationBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue approvals: %w", err)
	}

	escalated := 0
	for _, req := range overdue {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		ok, err := w.escalate(ctx, req, now)
		if err != nil {
			w.logger.Error("failed to escalate approval request",
				zap.String("reference", req.Reference),
				zap.Error(err),
			)
			continue
		}
		if ok {
			escalated++
		}
	}

	if len(overdue) > 0 {
		w.logger.Info("escalation sweep finished",
			zap.Int("overdue", len(overdue)),
			zap.Int("escalated", escalated),
		)
	}
	return escalated, nil
}

func (w *Workflow) escalate(ctx context.Context, req *models.ApprovalRequest, now time.Time) (bool, error) {
	rule, err := w.rules.GetByID(ctx, req.RuleID)
	if errors.Is(err, repositories.ErrNotFound) {
		w.logger.Warn("rule of overdue approval request is gone",
			zap.String("reference", req.Reference),
			zap.String("rule_id", req.RuleID.String()),
		)
		_, err := w.reassign(ctx, req, req.Approvers, req.EscalationLevel, now)
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("failed to load rule %s: %w", req.RuleID, err)
	}

	level := req.EscalationLevel + 1
	personaID, approvers, ok, err := w.coordinator.escalationApprovers(ctx, rule, req.CompanyID, level)
	if err != nil {
		return false, err
	}
	if !ok {
		_, err := w.reassign(ctx, req, req.Approvers, req.EscalationLevel, now)
		return false, err
	}
	if len(approvers) == 0 {
		w.logger.Warn("escalation persona has no holders",
			zap.String("reference", req.Reference),
			zap.String("persona", personaID),
			zap.Int("level", level),
		)
		_, err := w.reassign(ctx, req, req.Approvers, req.EscalationLevel, now)
		return false, err
	}

	applied, err := w.reassign(ctx, req, approvers, level, now)
	if err != nil || !applied {
		return false, err
	}

	w.logger.Info("approval escalated",
		zap.String("reference", req.Reference),
		zap.Int("level", level),
		zap.String("persona", personaID),
		zap.Strings("approvers", approvers),
	)
	w.coordinator.record(models.NewAuditLog(req.CompanyID, models.AuditActionApprovalEscalated, "approval_request").
		WithResource(req.ID).
		WithSubject(req.Subject).
		WithRule(req.RuleID).
		WithDetails(map[string]interface{}{
			"reference":          req.Reference,
			"level":              level,
			"persona":            personaID,
			"approvers":          approvers,
			"previous_approvers": req.Approvers,
		}))
	return true, nil
}

// reassign stores the approvers and level of a request and restarts its
// escalation timeout. Keeping the current approvers and level defers the next
// check by one timeout. It reports false when the request is no longer pending.
func (w *Workflow) reassign(ctx context.Context, req *models.ApprovalRequest, approvers []string, level int, now time.Time) (bool, error) {
	err := w.approvals.Reassign(ctx, req.ID, approvers, level, now)
	if errors.Is(err, repositories.ErrStateConflict) || errors.Is(err, repositories.ErrNotFound) {
		// decided or recalled since it was listed
		return false, nil
	}
	return err == nil, err
}
