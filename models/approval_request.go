package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ApprovalState is the lifecycle state of an approval request
type ApprovalState string

const (
	ApprovalStatePending  ApprovalState = "pending"
	ApprovalStateApproved ApprovalState = "approved"
	ApprovalStateRejected ApprovalState = "rejected"
)

// Decision is the outcome an approver submits
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// TargetState maps a decision to the request state it produces
func (d Decision) TargetState() (ApprovalState, bool) {
	switch d {
	case DecisionApprove:
		return ApprovalStateApproved, true
	case DecisionReject:
		return ApprovalStateRejected, true
	}
	return "", false
}

// ViolationCategory classifies which check triggered an approval
type ViolationCategory string

const (
	ViolationMatrix   ViolationCategory = "matrix"
	ViolationDiscount ViolationCategory = "discount"
	ViolationMargin   ViolationCategory = "margin"
	ViolationPrice    ViolationCategory = "price"
	ViolationOther    ViolationCategory = "other"
)

// SubjectRef identifies a governed document
type SubjectRef struct {
	Model string `json:"model" db:"subject_model"`
	ID    string `json:"id" db:"subject_id"`
}

func (r SubjectRef) String() string {
	return r.Model + "/" + r.ID
}

// ApprovalRequest tracks a decision task gating a document transition
type ApprovalRequest struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	Reference       string            `json:"reference" db:"reference"`
	RuleID          uuid.UUID         `json:"rule_id" db:"rule_id"`
	Subject         SubjectRef        `json:"subject"`
	CompanyID       string            `json:"company_id" db:"company_id"`
	State           ApprovalState     `json:"state" db:"state"`
	Category        ViolationCategory `json:"category" db:"category"`
	Notes           string            `json:"notes,omitempty" db:"notes"`
	Approvers       []string          `json:"approvers" db:"approvers"`
	RequestedBy     string            `json:"requested_by" db:"requested_by"`
	PreviousState   string            `json:"previous_state,omitempty" db:"previous_state"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
	DecidedBy       *string           `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt       *time.Time        `json:"decided_at,omitempty" db:"decided_at"`
	DecisionReason  string            `json:"decision_reason,omitempty" db:"decision_reason"`
	ConsumedAt      *time.Time        `json:"consumed_at,omitempty" db:"consumed_at"`
	EscalationLevel int               `json:"escalation_level" db:"escalation_level"`
	EscalatedAt     *time.Time        `json:"escalated_at,omitempty" db:"escalated_at"` // last escalation or escalation check
}

// TableName returns the table name for the ApprovalRequest model
func (ApprovalRequest) TableName() string {
	return "governance_approval_requests"
}

// NewApprovalRequest creates a pending request for a rule and subject
func NewApprovalRequest(ruleID uuid.UUID, subject SubjectRef, companyID, requestedBy string) *ApprovalRequest {
	now := time.Now().UTC()
	id := uuid.New()
	return &ApprovalRequest{
		ID:          id,
		Reference:   NewApprovalReference(id, now),
		RuleID:      ruleID,
		Subject:     subject,
		CompanyID:   companyID,
		State:       ApprovalStatePending,
		Category:    ViolationOther,
		Approvers:   []string{},
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewApprovalReference renders the human readable request code
func NewApprovalReference(id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("AR-%s-%s", at.Format("20060102"), strings.ToUpper(id.String()[:8]))
}

// IsPending reports whether the request still awaits a decision
func (a *ApprovalRequest) IsPending() bool {
	return a.State == ApprovalStatePending
}

// IsTerminal reports whether the request has been decided
func (a *ApprovalRequest) IsTerminal() bool {
	return a.State == ApprovalStateApproved || a.State == ApprovalStateRejected
}

// IsConsumable reports whether an approval can still unblock its transition
func (a *ApprovalRequest) IsConsumable() bool {
	return a.State == ApprovalStateApproved && a.ConsumedAt == nil
}

// HasApprover reports whether the user is one of the routed approvers
func (a *ApprovalRequest) HasApprover(userID string) bool {
	for _, id := range a.Approvers {
		if id == userID {
			return true
		}
	}
	return false
}

// EscalationAnchor is the instant the current approvers were assigned
func (a *ApprovalRequest) EscalationAnchor() time.Time {
	if a.EscalatedAt != nil {
		return *a.EscalatedAt
	}
	return a.CreatedAt
}
