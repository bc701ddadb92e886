package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/matrix-governance/config"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
	"github.com/upb/matrix-governance/services"
	"github.com/upb/matrix-governance/services/governance"
	"github.com/upb/matrix-governance/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/upb/matrix-governance/services/approval"

// LockState tells whether a governed document may be edited
type LockState string

const (
	LockEditable              LockState = "editable"
	LockLockedPendingApproval LockState = "locked_pending_approval"
)

// Actions blocked while a document awaits approval
var lockedActions = map[string]bool{
	"send":    true,
	"print":   true,
	"preview": true,
}

// Evaluator is the part of the rule engine the workflow needs
type Evaluator interface {
	Evaluate(ctx context.Context, req governance.EvaluationRequest) governance.Verdict
}

// Settings tunes the workflow
type Settings struct {
	MinRejectionReasonChars int
	EscalationTimeout       time.Duration
	EscalationBatchSize     int
}

// SettingsFrom reads the workflow settings from the governance config
func SettingsFrom(cfg config.GovernanceConfig) Settings {
	return Settings{
		MinRejectionReasonChars: cfg.MinRejectionReasonChars,
		EscalationTimeout:       cfg.EscalationTimeout,
		EscalationBatchSize:     cfg.EscalationBatchSize,
	}
}

// DefaultSettings returns the settings used when none are configured
func DefaultSettings() Settings {
	return Settings{
		MinRejectionReasonChars: 10,
		EscalationTimeout:       48 * time.Hour,
		EscalationBatchSize:     100,
	}
}

// TransitionRequest asks to move a document to another state
type TransitionRequest struct {
	Subject            models.SubjectAccessor
	RequestedState     string
	ActorID            string
	CallerIsPrivileged bool
}

// DecideRequest records an approver's decision
type DecideRequest struct {
	RequestID          uuid.UUID
	Decision           models.Decision
	DeciderID          string
	Reason             string
	CallerIsPrivileged bool
}

// Workflow gates document transitions behind approval requests
type Workflow struct {
	engine      Evaluator
	coordinator *Coordinator
	rules       repositories.RuleRepository
	approvals   repositories.ApprovalRepository
	txMgr       repositories.TransactionManager
	settings    Settings
	tracer      trace.Tracer
	logger      *zap.Logger
	now         func() time.Time
}

// WorkflowOption configures a Workflow
type WorkflowOption func(*Workflow)

// WithSettings overrides the default settings
func WithSettings(s Settings) WorkflowOption {
	return func(w *Workflow) { w.settings = s }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// WithWorkflowTracer replaces the global tracer
func WithWorkflowTracer(tracer trace.Tracer) WorkflowOption {
	return func(w *Workflow) { w.tracer = tracer }
}

// NewWorkflow creates an approval workflow
func NewWorkflow(
	engine Evaluator,
	coordinator *Coordinator,
	rules repositories.RuleRepository,
	approvals repositories.ApprovalRepository,
	txMgr repositories.TransactionManager,
	logger *zap.Logger,
	opts ...WorkflowOption,
) *Workflow {
	w := &Workflow{
		engine:      engine,
		coordinator: coordinator,
		rules:       rules,
		approvals:   approvals,
		txMgr:       txMgr,
		settings:    DefaultSettings(),
		tracer:      otel.Tracer(tracerName),
		logger:      logger,
		now:         nowUTC,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TryTransition evaluates the subject and moves it to the requested state
// when governance allows. Approved requests for the subject waive their rule
// and are consumed by the transition they unblock. An error is returned only
// for infrastructure failures or a lost race on an approval.
func (w *Workflow) TryTransition(ctx context.Context, req TransitionRequest) (bool, governance.Verdict, error) {
	ref := req.Subject.Ref()
	ctx, span := w.tracer.Start(ctx, "governance.try_transition", trace.WithAttributes(
		attribute.String("subject.model", ref.Model),
		attribute.String("subject.id", ref.ID),
		attribute.String("requested_state", req.RequestedState),
	))
	defer span.End()

	if req.CallerIsPrivileged {
		return w.privilegedTransition(ctx, req)
	}

	var (
		waived  []uuid.UUID
		granted []*models.ApprovalRequest
		verdict governance.Verdict
	)
	for {
		verdict = w.engine.Evaluate(ctx, governance.EvaluationRequest{
			Subject: req.Subject,
			Trigger: models.TriggerOnStateChange,
			ActorID: req.ActorID,
			Waived:  waived,
		})
		if !verdict.Valid || !verdict.RequiresApproval {
			break
		}

		approved, err := w.approvals.FindConsumable(ctx, verdict.TriggeringRuleID, ref)
		if errors.Is(err, repositories.ErrNotFound) {
			break
		}
		if err != nil {
			span.RecordError(err)
			return false, verdict, fmt.Errorf("failed to look up granted approvals: %w", err)
		}
		if containsID(waived, approved.RuleID) {
			return false, verdict, services.WrapInternal("rule evaluated again after being waived", nil)
		}
		waived = append(waived, approved.RuleID)
		granted = append(granted, approved)
	}
	span.SetAttributes(attribute.Int("approvals.granted", len(granted)))

	if !verdict.Valid {
		w.logger.Info("transition blocked",
			zap.String("subject", ref.String()),
			zap.String("requested_state", req.RequestedState),
			zap.Strings("errors", verdict.Errors),
		)
		w.coordinator.record(models.NewAuditLog(req.Subject.GetCompanyID(), models.AuditActionVerdictEvaluated, "subject").
			WithActor(req.ActorID).
			WithSubject(ref).
			WithDetails(map[string]interface{}{
				"requested_state": req.RequestedState,
				"errors":          verdict.Errors,
				"warnings":        verdict.Warnings,
			}))
		return false, verdict, nil
	}

	if verdict.RequiresApproval {
		return w.requestApproval(ctx, req, verdict)
	}

	if err := w.commit(ctx, req, granted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return false, verdict, err
	}
	return true, verdict, nil
}

func (w *Workflow) privilegedTransition(ctx context.Context, req TransitionRequest) (bool, governance.Verdict, error) {
	ref := req.Subject.Ref()
	from := req.Subject.GetState()
	if err := req.Subject.SetState(req.RequestedState); err != nil {
		return false, governance.Pass(), fmt.Errorf("failed to set state of %s: %w", ref, err)
	}

	w.logger.Info("privileged transition",
		zap.String("subject", ref.String()),
		zap.String("actor", req.ActorID),
		zap.String("from", from),
		zap.String("to", req.RequestedState),
	)
	w.coordinator.record(models.NewAuditLog(req.Subject.GetCompanyID(), models.AuditActionPrivilegedOverride, "subject").
		WithActor(req.ActorID).
		WithSubject(ref).
		WithDetails(map[string]interface{}{"from": from, "to": req.RequestedState}))
	return true, governance.Pass(), nil
}

func (w *Workflow) requestApproval(ctx context.Context, req TransitionRequest, verdict governance.Verdict) (bool, governance.Verdict, error) {
	rule, err := w.rules.GetByID(ctx, verdict.TriggeringRuleID)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, verdict, services.Wrap(services.ErrRuleNotFound, err).WithDetail("rule_id", verdict.TriggeringRuleID.String())
	}
	if err != nil {
		return false, verdict, fmt.Errorf("failed to load triggering rule: %w", err)
	}

	approval, err := w.coordinator.RequestApproval(ctx, rule, req.Subject, req.ActorID, verdict.TriggeringCategory, verdict.Summary())
	if err != nil {
		return false, verdict, err
	}

	if len(approval.Approvers) == 0 {
		verdict.AddWarning(fmt.Sprintf("Approval request %s has no approvers configured", approval.Reference))
	} else {
		verdict.AddWarning(fmt.Sprintf("Approval request %s sent to: %s", approval.Reference, strings.Join(approval.Approvers, ", ")))
	}
	return false, verdict, nil
}

// commit consumes the granted approvals and sets the state in one transaction
func (w *Workflow) commit(ctx context.Context, req TransitionRequest, granted []*models.ApprovalRequest) error {
	ref := req.Subject.Ref()
	at := w.now()

	err := services.WithTransaction(ctx, w.txMgr, func(ctx context.Context) error {
		for _, approval := range granted {
			if err := w.approvals.MarkConsumed(ctx, approval.ID, at); err != nil {
				if errors.Is(err, repositories.ErrStateConflict) {
					return services.Wrap(services.ErrConcurrentUpdate, err).WithDetail("request", approval.Reference)
				}
				return fmt.Errorf("failed to consume approval %s: %w", approval.Reference, err)
			}
		}
		if err := req.Subject.SetState(req.RequestedState); err != nil {
			return fmt.Errorf("failed to set state of %s: %w", ref, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, approval := range granted {
		w.coordinator.record(models.NewAuditLog(approval.CompanyID, models.AuditActionApprovalConsumed, "approval_request").
			WithActor(req.ActorID).
			WithResource(approval.ID).
			WithSubject(ref).
			WithRule(approval.RuleID).
			WithDetails(map[string]interface{}{"reference": approval.Reference, "to": req.RequestedState}))
	}
	return nil
}

// Decide approves or rejects a pending request
func (w *Workflow) Decide(ctx context.Context, req DecideRequest) (*models.ApprovalRequest, error) {
	to, ok := req.Decision.TargetState()
	if !ok {
		return nil, services.Wrap(services.ErrInvalidDecision, fmt.Errorf("unknown decision %q", req.Decision))
	}

	current, err := w.approvals.GetByID(ctx, req.RequestID)
	if err != nil {
		return nil, notFound(err)
	}
	if !current.IsPending() {
		return repeatedDecision(current, to, req.DeciderID)
	}

	if !req.CallerIsPrivileged {
		if !current.HasApprover(req.DeciderID) {
			return nil, services.Wrap(services.ErrNotAnApprover, nil).WithDetail("request", current.Reference)
		}
		if req.DeciderID == current.RequestedBy {
			return nil, services.Wrap(services.ErrSelfApproval, nil).WithDetail("request", current.Reference)
		}
	}

	reason := strings.TrimSpace(req.Reason)
	if to == models.ApprovalStateRejected {
		if err := utils.ValidateStringLength(reason, "reason", w.settings.MinRejectionReasonChars, 0); err != nil {
			return nil, services.Wrap(services.ErrReasonTooShort, err).WithDetail("min_chars", w.settings.MinRejectionReasonChars)
		}
	}

	decided, err := w.approvals.Decide(ctx, current.ID, to, req.DeciderID, reason, w.now())
	if errors.Is(err, repositories.ErrStateConflict) {
		latest, getErr := w.approvals.GetByID(ctx, current.ID)
		if getErr != nil {
			return nil, notFound(getErr)
		}
		return repeatedDecision(latest, to, req.DeciderID)
	}
	if err != nil {
		return nil, notFound(err)
	}

	w.logger.Info("approval decided",
		zap.String("reference", decided.Reference),
		zap.String("state", string(decided.State)),
		zap.String("decider", req.DeciderID),
		zap.Bool("privileged", req.CallerIsPrivileged),
	)
	w.coordinator.record(models.NewAuditLog(decided.CompanyID, models.AuditActionApprovalDecided, "approval_request").
		WithActor(req.DeciderID).
		WithResource(decided.ID).
		WithSubject(decided.Subject).
		WithRule(decided.RuleID).
		WithDetails(map[string]interface{}{
			"reference":  decided.Reference,
			"decision":   req.Decision,
			"reason":     reason,
			"privileged": req.CallerIsPrivileged,
		}))
	return decided, nil
}

// repeatedDecision answers a decision on a request that is no longer pending.
// The same decider repeating the same decision gets the stored request back.
func repeatedDecision(current *models.ApprovalRequest, to models.ApprovalState, deciderID string) (*models.ApprovalRequest, error) {
	if current.State == to && current.DecidedBy != nil && *current.DecidedBy == deciderID {
		return current, nil
	}
	return nil, services.Wrap(services.ErrRequestAlreadyDecided, nil).
		WithDetail("request", current.Reference).
		WithDetail("state", string(current.State))
}

// Recall withdraws a pending request. Only its requester may do so.
func (w *Workflow) Recall(ctx context.Context, requestID uuid.UUID, callerID string) error {
	current, err := w.approvals.GetByID(ctx, requestID)
	if err != nil {
		return notFound(err)
	}
	if current.RequestedBy != callerID {
		return services.Wrap(services.ErrNotTheRequester, nil).WithDetail("request", current.Reference)
	}
	if !current.IsPending() {
		return services.Wrap(services.ErrRequestNotPending, nil).WithDetail("state", string(current.State))
	}

	if err := w.approvals.DeletePending(ctx, requestID); err != nil {
		if errors.Is(err, repositories.ErrStateConflict) {
			return services.Wrap(services.ErrRequestNotPending, err)
		}
		return notFound(err)
	}

	w.logger.Info("approval recalled", zap.String("reference", current.Reference), zap.String("caller", callerID))
	w.coordinator.record(models.NewAuditLog(current.CompanyID, models.AuditActionApprovalRecalled, "approval_request").
		WithActor(callerID).
		WithResource(current.ID).
		WithSubject(current.Subject).
		WithRule(current.RuleID).
		WithDetails(map[string]interface{}{"reference": current.Reference}))
	return nil
}

// LockState reports whether the document has pending approval requests
func (w *Workflow) LockState(ctx context.Context, ref models.SubjectRef) (LockState, error) {
	pending, err := w.approvals.ListPendingBySubject(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to list pending approvals: %w", err)
	}
	if len(pending) > 0 {
		return LockLockedPendingApproval, nil
	}
	return LockEditable, nil
}

// IsEditable reports whether the document has no pending approval requests
func (w *Workflow) IsEditable(ctx context.Context, ref models.SubjectRef) (bool, error) {
	state, err := w.LockState(ctx, ref)
	if err != nil {
		return false, err
	}
	return state == LockEditable, nil
}

// GuardWrite rejects a write that changes a protected field of a locked document
func (w *Workflow) GuardWrite(ctx context.Context, subject models.SubjectAccessor, diff models.FieldDiff) error {
	if !subject.IsProtectedFieldChanged(diff) {
		return nil
	}
	editable, err := w.IsEditable(ctx, subject.Ref())
	if err != nil {
		return err
	}
	if !editable {
		return services.Wrap(services.ErrProtectedFieldWrite, nil).WithDetail("subject", subject.Ref().String())
	}
	return nil
}

// GuardAction rejects send, print and preview on a locked document
func (w *Workflow) GuardAction(ctx context.Context, subject models.SubjectAccessor, action string) error {
	if !lockedActions[action] {
		return nil
	}
	editable, err := w.IsEditable(ctx, subject.Ref())
	if err != nil {
		return err
	}
	if !editable {
		return services.Wrap(services.ErrActionBlocked, nil).
			WithDetail("subject", subject.Ref().String()).
			WithDetail("action", action)
	}
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
