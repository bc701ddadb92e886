package memory

import (
	"context"

	"github.com/upb/matrix-governance/repositories"
)

// TransactionManager runs functions directly. The in-memory repositories are
// individually atomic, so there is nothing to roll back.
type TransactionManager struct{}

// NewTransactionManager creates a pass-through transaction manager
func NewTransactionManager() repositories.TransactionManager {
	return TransactionManager{}
}

// Begin returns a no-op transaction
func (TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return transaction{ctx: ctx}, nil
}

// InTransaction executes fn with a no-op transaction
func (m TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, _ := m.Begin(ctx)
	return fn(ctx, tx)
}

type transaction struct {
	ctx context.Context
}

func (transaction) Commit() error              { return nil }
func (transaction) Rollback() error            { return nil }
func (t transaction) Context() context.Context { return t.ctx }

// NewRepositories wires the in-memory repositories together
func NewRepositories() (*repositories.Repositories, *RuleRepository) {
	rules := NewRuleRepository()
	return &repositories.Repositories{
		Rules:     rules,
		Approvals: NewApprovalRepository(),
		AuditLogs: NewAuditRepository(),
	}, rules
}
