package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/matrix-governance/config"
	"github.com/upb/matrix-governance/internal/authority"
	"github.com/upb/matrix-governance/repositories"
	"github.com/upb/matrix-governance/repositories/memory"
	"github.com/upb/matrix-governance/repositories/postgres"
	"github.com/upb/matrix-governance/services/approval"
	"github.com/upb/matrix-governance/services/audit"
	"github.com/upb/matrix-governance/services/condition"
	"github.com/upb/matrix-governance/services/governance"
	"github.com/upb/matrix-governance/services/limits"
	"github.com/upb/matrix-governance/services/sweeper"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB // nil with the memory driver

	// Repository Factory, postgres driver only
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Rules     repositories.RuleRepository
	Approvals repositories.ApprovalRepository
	AuditLogs repositories.AuditRepository
	TxManager repositories.TransactionManager

	// MemoryRules is set with the memory driver so fixtures can be loaded
	MemoryRules *memory.RuleRepository

	// Governance
	Authority   authority.Provider
	RuleCache   *governance.RuleCache
	Engine      *governance.Engine
	Audit       *audit.AuditService
	Coordinator *approval.Coordinator
	Workflow    *approval.Workflow
	Sweeper     *sweeper.Sweeper
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initAuthority(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize authority: %w", err)
	}

	if err := deps.initGovernance(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize governance: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("condition_failure_policy", cfg.Governance.ConditionFailurePolicy),
	)
	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		return d.initDatabase(ctx, cfg)
	case config.StorageMemory:
		return d.initMemory(cfg)
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// initDatabase opens the PostgreSQL pool(s) and builds the repositories on them
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Storage.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.setRepositories(factory.NewRepositories(), factory.GetTransactionManager())
	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

func (d *Dependencies) initMemory(cfg *config.Config) error {
	repos, rules := memory.NewRepositories()
	if cfg.Storage.RulesFile != "" {
		n, err := rules.LoadRulesFile(cfg.Storage.RulesFile, governance.ValidateRule)
		if err != nil {
			return err
		}
		d.Logger.Info("rule fixtures loaded",
			zap.String("path", cfg.Storage.RulesFile),
			zap.Int("rules", n))
	}
	d.MemoryRules = rules
	d.setRepositories(repos, memory.NewTransactionManager())
	d.Logger.Warn("using in-memory storage, state is lost on restart")
	return nil
}

func (d *Dependencies) setRepositories(repos *repositories.Repositories, txMgr repositories.TransactionManager) {
	d.Rules = repos.Rules
	d.Approvals = repos.Approvals
	d.AuditLogs = repos.AuditLogs
	d.TxManager = txMgr
}

// initAuthority loads the persona catalog and picks the provider: casbin
// when a role graph is configured, the catalog's own assignments otherwise.
func (d *Dependencies) initAuthority(cfg *config.Config) error {
	var catalog *authority.Catalog
	if path := cfg.Authority.PersonaCatalogPath; path != "" {
		c, err := authority.LoadCatalog(path)
		if err != nil {
			return err
		}
		catalog = c
		d.Logger.Info("persona catalog loaded",
			zap.String("path", path),
			zap.Int("personas", len(c.Personas)))
	}

	if cfg.Authority.CasbinModelPath != "" {
		provider, err := authority.NewCasbinProvider(cfg.Authority.CasbinModelPath, cfg.Authority.CasbinPolicyPath, catalog)
		if err != nil {
			return err
		}
		d.Authority = provider
		d.Logger.Info("casbin authority provider initialized",
			zap.String("policy", cfg.Authority.CasbinPolicyPath))
		return nil
	}

	d.Authority = authority.NewStatic(catalog)
	if catalog == nil {
		d.Logger.Warn("no persona catalog configured, only global limits apply")
	}
	return nil
}

func (d *Dependencies) initGovernance(cfg *config.Config) error {
	d.RuleCache = governance.NewRuleCache(cfg.Governance.RuleCacheSize, cfg.Governance.RuleCacheTTL)
	d.Engine = governance.NewEngine(
		d.Rules,
		condition.NewEvaluator(cfg.Governance.FailClosed(), d.Logger),
		limits.NewResolver(d.Rules, d.Logger),
		d.Authority,
		d.Logger,
		governance.WithCache(d.RuleCache),
	)

	d.Audit = audit.NewAuditService(d.AuditLogs, d.Logger, audit.ConfigFrom(cfg.Audit))
	if err := d.Audit.Start(); err != nil {
		return err
	}

	d.Coordinator = approval.NewCoordinator(d.Approvals, d.Authority, d.Audit, cfg.Governance.FallbackApprovers, d.Logger)
	d.Workflow = approval.NewWorkflow(
		d.Engine,
		d.Coordinator,
		d.Rules,
		d.Approvals,
		d.TxManager,
		d.Logger,
		approval.WithSettings(approval.SettingsFrom(cfg.Governance)),
	)
	d.Sweeper = sweeper.New(d.Workflow, d.Rules, d.RuleCache, cfg.Governance.SweepInterval, d.Logger)
	return nil
}

// Close gracefully shuts down all dependencies. The audit sink drains before
// the database closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil && d.Audit.GetStats().Started {
		if err := d.Audit.Stop(d.Config.Audit.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}
	return nil
}
