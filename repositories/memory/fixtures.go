package memory

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/upb/matrix-governance/models"
	"gopkg.in/yaml.v3"
)

// RuleValidator checks a rule and its overrides before they are stored
type RuleValidator func(rule *models.Rule, overrides []*models.LimitOverride) error

type fixtureFile struct {
	Version int           `yaml:"version"`
	Rules   []fixtureRule `yaml:"rules"`
}

type fixtureRule struct {
	ID                 string             `yaml:"id"`
	Code               string             `yaml:"code"`
	Name               string             `yaml:"name"`
	Model              string             `yaml:"model"`
	Company            string             `yaml:"company"`
	Type               string             `yaml:"type"`
	Trigger            string             `yaml:"trigger"`
	Sequence           int                `yaml:"sequence"`
	Inactive           bool               `yaml:"inactive"`
	Condition          string             `yaml:"condition"`
	RequiresApproval   bool               `yaml:"requires_approval"`
	ApproverGroups     []string           `yaml:"approver_groups"`
	FallbackApprovers  []string           `yaml:"fallback_approvers"`
	EscalationPersonas []string           `yaml:"escalation_personas"`
	ErrorMessage       string             `yaml:"error_message"`
	Matrix             fixtureMatrix      `yaml:"matrix"`
	Discount           fixtureThreshold   `yaml:"discount"`
	Margin             fixtureMargin      `yaml:"margin"`
	Price              fixtureThreshold   `yaml:"price"`
	Legacy             models.LegacyCheck `yaml:"legacy"`
	Overrides          []fixtureOverride  `yaml:"overrides"`
}

type fixtureMatrix struct {
	Enabled              bool     `yaml:"enabled"`
	BranchRequired       bool     `yaml:"branch_required"`
	BusinessUnitRequired bool     `yaml:"business_unit_required"`
	AllowedBranches      []string `yaml:"allowed_branches"`
	AllowedBusinessUnits []string `yaml:"allowed_business_units"`
}

type fixtureThreshold struct {
	Enabled bool   `yaml:"enabled"`
	Limit   string `yaml:"limit"`
}

type fixtureMargin struct {
	Enabled     bool   `yaml:"enabled"`
	Minimum     string `yaml:"minimum"`
	WarningBand string `yaml:"warning_band"`
}

type fixtureOverride struct {
	Kind         string     `yaml:"kind"`
	Persona      string     `yaml:"persona"`
	Group        string     `yaml:"group"`
	Branch       string     `yaml:"branch"`
	BusinessUnit string     `yaml:"business_unit"`
	Category     string     `yaml:"category"`
	Limit        string     `yaml:"limit"`
	ExpiresAt    *time.Time `yaml:"expires_at"`
}

// LoadRulesFile reads a YAML rule fixture file into the repository
func (r *RuleRepository) LoadRulesFile(path string, validate RuleValidator) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rule fixtures: %w", err)
	}
	return r.LoadRules(b, validate)
}

// LoadRules parses YAML rule fixtures and stores every rule with its overrides.
// Nothing is stored when any rule fails to parse or validate.
func (r *RuleRepository) LoadRules(data []byte, validate RuleValidator) (int, error) {
	var ff fixtureFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return 0, fmt.Errorf("failed to parse rule fixtures: %w", err)
	}
	if ff.Version != 1 {
		return 0, errors.New("rule fixtures: unsupported version")
	}

	type loaded struct {
		rule      *models.Rule
		overrides []*models.LimitOverride
	}
	batch := make([]loaded, 0, len(ff.Rules))
	for i, fr := range ff.Rules {
		rule, overrides, err := fr.toModels()
		if err != nil {
			return 0, fmt.Errorf("rule fixtures: entry %d (%s): %w", i, fr.Code, err)
		}
		if validate != nil {
			if err := validate(rule, overrides); err != nil {
				return 0, fmt.Errorf("rule fixtures: entry %d (%s): %w", i, fr.Code, err)
			}
		}
		batch = append(batch, loaded{rule: rule, overrides: overrides})
	}

	for _, l := range batch {
		r.PutRule(l.rule)
		for _, o := range l.overrides {
			r.PutOverride(o)
		}
	}
	return len(batch), nil
}

func (fr fixtureRule) toModels() (*models.Rule, []*models.LimitOverride, error) {
	rule := models.NewRule(fr.Code, fr.Name, fr.Model, fr.Company,
		models.RuleType(fr.Type), models.TriggerEvent(fr.Trigger), fr.Sequence)
	if fr.ID != "" {
		id, err := uuid.Parse(fr.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid id: %w", err)
		}
		rule.ID = id
	}
	if rule.TriggerEvent == "" {
		rule.TriggerEvent = models.TriggerAlways
	}
	rule.Active = !fr.Inactive
	rule.ConditionExpr = strings.TrimSpace(fr.Condition)
	rule.RequiresApproval = fr.RequiresApproval
	rule.ApproverGroupIDs = fr.ApproverGroups
	rule.FallbackApproverIDs = fr.FallbackApprovers
	rule.EscalationPersonaIDs = fr.EscalationPersonas
	rule.ErrorMessage = fr.ErrorMessage
	rule.Legacy = fr.Legacy
	rule.Matrix = models.MatrixCheck{
		Enabled:                fr.Matrix.Enabled,
		BranchRequired:         fr.Matrix.BranchRequired,
		BusinessUnitRequired:   fr.Matrix.BusinessUnitRequired,
		AllowedBranchIDs:       fr.Matrix.AllowedBranches,
		AllowedBusinessUnitIDs: fr.Matrix.AllowedBusinessUnits,
	}

	var err error
	rule.Discount.Enabled = fr.Discount.Enabled
	if rule.Discount.GlobalLimit, err = parsePercent(fr.Discount.Limit); err != nil {
		return nil, nil, fmt.Errorf("discount limit: %w", err)
	}
	rule.Price.Enabled = fr.Price.Enabled
	if rule.Price.GlobalMaxVariance, err = parsePercent(fr.Price.Limit); err != nil {
		return nil, nil, fmt.Errorf("price variance: %w", err)
	}
	rule.Margin.Enabled = fr.Margin.Enabled
	if rule.Margin.GlobalMinimum, err = parsePercent(fr.Margin.Minimum); err != nil {
		return nil, nil, fmt.Errorf("margin minimum: %w", err)
	}
	if fr.Margin.WarningBand != "" {
		if rule.Margin.WarningBand, err = parsePercent(fr.Margin.WarningBand); err != nil {
			return nil, nil, fmt.Errorf("margin warning band: %w", err)
		}
	}

	overrides := make([]*models.LimitOverride, 0, len(fr.Overrides))
	for j, fo := range fr.Overrides {
		value, err := parsePercent(fo.Limit)
		if err != nil {
			return nil, nil, fmt.Errorf("override %d: %w", j, err)
		}
		o := &models.LimitOverride{
			ID:             uuid.New(),
			RuleID:         rule.ID,
			Kind:           models.LimitKind(fo.Kind),
			PersonaID:      fo.Persona,
			GroupID:        fo.Group,
			BranchID:       fo.Branch,
			BusinessUnitID: fo.BusinessUnit,
			CategoryID:     fo.Category,
			LimitValue:     value,
			ExpiresAt:      fo.ExpiresAt,
			CreatedAt:      rule.CreatedAt,
		}
		overrides = append(overrides, o)
	}
	return rule, overrides, nil
}

func parsePercent(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}
