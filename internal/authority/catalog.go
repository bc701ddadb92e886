package authority

import (
	"fmt"
	"os"

	"github.com/upb/matrix-governance/models"
	"github.com/upb/matrix-governance/utils"
	"gopkg.in/yaml.v3"
)

// Catalog is the YAML document describing personas and, for the static
// provider, who holds them.
//
//	personas:
//	  - id: regional_manager
//	    company_id: acme
//	    capabilities: [can_approve_discounts]
//	    scope_branches: [dubai]
//	assignments:
//	  alice: [regional_manager]
//	groups:
//	  sales_managers: [alice, bob]
type Catalog struct {
	Personas    []models.Persona    `yaml:"personas" validate:"dive"`
	Assignments map[string][]string `yaml:"assignments"`
	Groups      map[string][]string `yaml:"groups"`

	byID map[string]*models.Persona
}

// LoadCatalog reads and validates a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse persona catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	c.byID = make(map[string]*models.Persona, len(c.Personas))
	for i := range c.Personas {
		p := &c.Personas[i]
		if _, dup := c.byID[p.ID]; dup {
			return utils.NewFieldError("personas", "duplicate persona "+p.ID)
		}
		c.byID[p.ID] = p
	}
	for user, ids := range c.Assignments {
		for _, id := range ids {
			if _, ok := c.byID[id]; !ok {
				return utils.NewFieldError("assignments", fmt.Sprintf("user %s is assigned unknown persona %s", user, id))
			}
		}
	}
	return nil
}

// Persona looks up a persona definition
func (c *Catalog) Persona(id string) (models.Persona, bool) {
	if c.byID == nil {
		return models.Persona{}, false
	}
	p, ok := c.byID[id]
	if !ok {
		return models.Persona{}, false
	}
	return *p, true
}

// Matching returns the IDs of personas that satisfy the query
func (c *Catalog) Matching(q HolderQuery) []string {
	var ids []string
	for i := range c.Personas {
		if q.Matches(&c.Personas[i]) {
			ids = append(ids, c.Personas[i].ID)
		}
	}
	return ids
}
