package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/repositories"
	"go.uber.org/zap"
)

const ruleColumns = `
	id, code, name, model_name, company_id, rule_type, trigger_event, sequence, active,
	condition_expr, enforce_matrix, branch_required, business_unit_required,
	allowed_branch_ids, allowed_business_unit_ids,
	enforce_discount_limit, global_discount_limit,
	enforce_margin_protection, global_minimum_margin, warning_margin_threshold,
	enforce_price_override, global_max_price_variance,
	legacy_expr, legacy_message,
	require_approval, approver_group_ids, fallback_approver_ids, escalation_persona_ids,
	error_message, created_at, updated_at`

const overrideColumns = `
	id, rule_id, kind, persona_id, group_id, branch_id, business_unit_id, category_id,
	limit_value, expires_at, created_at`

// RuleRepository implements the repositories.RuleRepository interface
type RuleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *DB, logger *zap.Logger) repositories.RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

// ListActive returns the active rules of a model and company
func (r *RuleRepository) ListActive(ctx context.Context, modelName, companyID string) ([]*models.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM governance_rules
		WHERE model_name = $1 AND company_id = $2 AND active = true`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, modelName, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule rows: %w", err)
	}

	r.logger.Debug("rules loaded",
		zap.String("model", modelName),
		zap.String("company_id", companyID),
		zap.Int("count", len(rules)),
	)
	return rules, nil
}

// GetByID retrieves a rule by ID
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM governance_rules WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	rule, err := scanRule(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListOverrides returns every override of a rule for one limit kind
func (r *RuleRepository) ListOverrides(ctx context.Context, ruleID uuid.UUID, kind models.LimitKind) ([]*models.LimitOverride, error) {
	query := `SELECT ` + overrideColumns + `
		FROM governance_limit_overrides
		WHERE rule_id = $1 AND kind = $2`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, ruleID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list limit overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]*models.LimitOverride, 0)
	for rows.Next() {
		o := &models.LimitOverride{}
		if err := rows.Scan(
			&o.ID,
			&o.RuleID,
			&o.Kind,
			&o.PersonaID,
			&o.GroupID,
			&o.BranchID,
			&o.BusinessUnitID,
			&o.CategoryID,
			&o.LimitValue,
			&o.ExpiresAt,
			&o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan limit override: %w", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating limit override rows: %w", err)
	}
	return overrides, nil
}

// DeleteExpiredOverrides removes overrides that lapsed before now
func (r *RuleRepository) DeleteExpiredOverrides(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM governance_limit_overrides WHERE expires_at IS NOT NULL AND expires_at <= $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired overrides: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if removed > 0 {
		r.logger.Info("expired limit overrides removed", zap.Int64("count", removed))
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.Rule, error) {
	rule := &models.Rule{}
	err := row.Scan(
		&rule.ID,
		&rule.Code,
		&rule.Name,
		&rule.ModelName,
		&rule.CompanyID,
		&rule.RuleType,
		&rule.TriggerEvent,
		&rule.Sequence,
		&rule.Active,
		&rule.ConditionExpr,
		&rule.Matrix.Enabled,
		&rule.Matrix.BranchRequired,
		&rule.Matrix.BusinessUnitRequired,
		pq.Array(&rule.Matrix.AllowedBranchIDs),
		pq.Array(&rule.Matrix.AllowedBusinessUnitIDs),
		&rule.Discount.Enabled,
		&rule.Discount.GlobalLimit,
		&rule.Margin.Enabled,
		&rule.Margin.GlobalMinimum,
		&rule.Margin.WarningBand,
		&rule.Price.Enabled,
		&rule.Price.GlobalMaxVariance,
		&rule.Legacy.Expr,
		&rule.Legacy.Message,
		&rule.RequiresApproval,
		pq.Array(&rule.ApproverGroupIDs),
		pq.Array(&rule.FallbackApproverIDs),
		pq.Array(&rule.EscalationPersonaIDs),
		&rule.ErrorMessage,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}
