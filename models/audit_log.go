package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of governance action being audited
type AuditAction string

const (
	AuditActionVerdictEvaluated   AuditAction = "verdict_evaluated"
	AuditActionPrivilegedOverride AuditAction = "privileged_override"
	AuditActionApprovalRequested  AuditAction = "approval_requested"
	AuditActionApprovalDecided    AuditAction = "approval_decided"
	AuditActionApprovalRecalled   AuditAction = "approval_recalled"
	AuditActionApprovalEscalated  AuditAction = "approval_escalated"
	AuditActionApprovalConsumed   AuditAction = "approval_consumed"
	AuditActionApproversMissing   AuditAction = "approvers_missing"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	CompanyID    string          `json:"company_id" db:"company_id"`
	ActorID      string          `json:"actor_id,omitempty" db:"actor_id"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // rule, approval_request, subject
	ResourceID   *uuid.UUID      `json:"resource_id,omitempty" db:"resource_id"`
	SubjectModel string          `json:"subject_model,omitempty" db:"subject_model"`
	SubjectID    string          `json:"subject_id,omitempty" db:"subject_id"`
	RuleID       *uuid.UUID      `json:"rule_id,omitempty" db:"rule_id"`
	Details      json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "governance_audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(companyID string, action AuditAction, resourceType string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		CompanyID:    companyID,
		Action:       action,
		ResourceType: resourceType,
		Timestamp:    time.Now().UTC(),
	}
}

// WithActor sets the acting user
func (a *AuditLog) WithActor(actorID string) *AuditLog {
	a.ActorID = actorID
	return a
}

// WithResource sets the resource ID
func (a *AuditLog) WithResource(resourceID uuid.UUID) *AuditLog {
	a.ResourceID = &resourceID
	return a
}

// WithSubject sets the governed document
func (a *AuditLog) WithSubject(ref SubjectRef) *AuditLog {
	a.SubjectModel = ref.Model
	a.SubjectID = ref.ID
	return a
}

// WithRule sets the rule the entry concerns
func (a *AuditLog) WithRule(ruleID uuid.UUID) *AuditLog {
	if ruleID != uuid.Nil {
		a.RuleID = &ruleID
	}
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}
