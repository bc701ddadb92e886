package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/matrix-governance/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB adopts an already opened pool
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema initializes the governance schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS governance_rules (
			id UUID PRIMARY KEY,
			code VARCHAR(32) NOT NULL,
			name VARCHAR(255) NOT NULL,
			model_name VARCHAR(128) NOT NULL,
			company_id VARCHAR(64) NOT NULL,
			rule_type VARCHAR(32) NOT NULL,
			trigger_event VARCHAR(32) NOT NULL DEFAULT 'always',
			sequence INTEGER NOT NULL DEFAULT 10,
			active BOOLEAN NOT NULL DEFAULT true,
			condition_expr TEXT NOT NULL DEFAULT '',
			enforce_matrix BOOLEAN NOT NULL DEFAULT false,
			branch_required BOOLEAN NOT NULL DEFAULT false,
			business_unit_required BOOLEAN NOT NULL DEFAULT false,
			allowed_branch_ids TEXT[] NOT NULL DEFAULT '{}',
			allowed_business_unit_ids TEXT[] NOT NULL DEFAULT '{}',
			enforce_discount_limit BOOLEAN NOT NULL DEFAULT false,
			global_discount_limit NUMERIC(7, 4) NOT NULL DEFAULT 0,
			enforce_margin_protection BOOLEAN NOT NULL DEFAULT false,
			global_minimum_margin NUMERIC(7, 4) NOT NULL DEFAULT 0,
			warning_margin_threshold NUMERIC(7, 4) NOT NULL DEFAULT 5,
			enforce_price_override BOOLEAN NOT NULL DEFAULT false,
			global_max_price_variance NUMERIC(7, 4) NOT NULL DEFAULT 0,
			legacy_expr TEXT NOT NULL DEFAULT '',
			legacy_message TEXT NOT NULL DEFAULT '',
			require_approval BOOLEAN NOT NULL DEFAULT false,
			approver_group_ids TEXT[] NOT NULL DEFAULT '{}',
			fallback_approver_ids TEXT[] NOT NULL DEFAULT '{}',
			escalation_persona_ids TEXT[] NOT NULL DEFAULT '{}',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(company_id, code)
		);

		CREATE TABLE IF NOT EXISTS governance_limit_overrides (
			id UUID PRIMARY KEY,
			rule_id UUID NOT NULL REFERENCES governance_rules(id) ON DELETE CASCADE,
			kind VARCHAR(32) NOT NULL,
			persona_id VARCHAR(64) NOT NULL DEFAULT '',
			group_id VARCHAR(64) NOT NULL DEFAULT '',
			branch_id VARCHAR(64) NOT NULL DEFAULT '',
			business_unit_id VARCHAR(64) NOT NULL DEFAULT '',
			category_id VARCHAR(64) NOT NULL DEFAULT '',
			limit_value NUMERIC(7, 4) NOT NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (persona_id = '' OR group_id = '')
		);

		CREATE TABLE IF NOT EXISTS governance_approval_requests (
			id UUID PRIMARY KEY,
			reference VARCHAR(32) NOT NULL CONSTRAINT uq_approval_requests_reference UNIQUE,
			rule_id UUID NOT NULL REFERENCES governance_rules(id),
			subject_model VARCHAR(128) NOT NULL,
			subject_id VARCHAR(128) NOT NULL,
			company_id VARCHAR(64) NOT NULL,
			state VARCHAR(16) NOT NULL,
			category VARCHAR(16) NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			approvers TEXT[] NOT NULL DEFAULT '{}',
			requested_by VARCHAR(128) NOT NULL,
			previous_state VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			decided_by VARCHAR(128),
			decided_at TIMESTAMPTZ,
			decision_reason TEXT NOT NULL DEFAULT '',
			consumed_at TIMESTAMPTZ,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			escalated_at TIMESTAMPTZ
		);

		CREATE UNIQUE INDEX IF NOT EXISTS uq_approval_requests_pending
			ON governance_approval_requests(rule_id, subject_model, subject_id)
			WHERE state = 'pending';

		CREATE INDEX IF NOT EXISTS idx_governance_rules_scope ON governance_rules(model_name, company_id) WHERE active;
		CREATE INDEX IF NOT EXISTS idx_limit_overrides_rule_kind ON governance_limit_overrides(rule_id, kind);
		CREATE INDEX IF NOT EXISTS idx_limit_overrides_expires_at ON governance_limit_overrides(expires_at);
		CREATE INDEX IF NOT EXISTS idx_approval_requests_subject ON governance_approval_requests(subject_model, subject_id);
		CREATE INDEX IF NOT EXISTS idx_approval_requests_state ON governance_approval_requests(state);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit log table.
// Used on the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS governance_audit_logs (
			id UUID PRIMARY KEY,
			company_id VARCHAR(64) NOT NULL,
			actor_id VARCHAR(128) NOT NULL DEFAULT '',
			action VARCHAR(64) NOT NULL,
			resource_type VARCHAR(64) NOT NULL,
			resource_id UUID,
			subject_model VARCHAR(128) NOT NULL DEFAULT '',
			subject_id VARCHAR(128) NOT NULL DEFAULT '',
			rule_id UUID,
			details JSONB,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_subject ON governance_audit_logs(subject_model, subject_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_rule_id ON governance_audit_logs(rule_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON governance_audit_logs(action);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON governance_audit_logs(timestamp);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
