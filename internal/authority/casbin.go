package authority

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/upb/matrix-governance/models"
)

// Role prefixes used in the casbin grouping policy. A user holds persona
// "regional_manager" through the line `g, alice, persona:regional_manager`
// and belongs to group "sales" through `g, alice, group:sales`.
const (
	personaRolePrefix = "persona:"
	groupRolePrefix   = "group:"
)

// CasbinProvider reads the user to persona and user to group graph from a
// casbin role manager. Persona definitions come from the catalog.
type CasbinProvider struct {
	enforcer *casbin.Enforcer
	catalog  *Catalog
}

// NewCasbinProvider loads the casbin model and policy files
func NewCasbinProvider(modelPath, policyPath string, catalog *Catalog) (*CasbinProvider, error) {
	adapter := fileadapter.NewAdapter(policyPath)
	enforcer, err := casbin.NewEnforcer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer.SetAdapter(adapter)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load casbin policy: %w", err)
	}
	return NewCasbinProviderFromEnforcer(enforcer, catalog), nil
}

// NewCasbinProviderFromEnforcer wraps an already configured enforcer
func NewCasbinProviderFromEnforcer(enforcer *casbin.Enforcer, catalog *Catalog) *CasbinProvider {
	if catalog == nil {
		catalog = &Catalog{}
	}
	if catalog.byID == nil {
		_ = catalog.index()
	}
	return &CasbinProvider{enforcer: enforcer, catalog: catalog}
}

var _ Provider = (*CasbinProvider)(nil)

// PersonaRole returns the casbin role name of a persona
func PersonaRole(personaID string) string {
	return personaRolePrefix + personaID
}

// GroupRole returns the casbin role name of a security group
func GroupRole(groupID string) string {
	return groupRolePrefix + groupID
}

func (p *CasbinProvider) rolesWithPrefix(userID, prefix string) ([]string, error) {
	roles, err := p.enforcer.GetRolesForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles of %s: %w", userID, err)
	}
	var ids []string
	for _, role := range roles {
		if id, ok := strings.CutPrefix(role, prefix); ok {
			ids = append(ids, id)
		}
	}
	return SortedUnique(ids), nil
}

// GetHeldPersonas returns the catalog personas a user holds in the role graph.
// Roles naming personas missing from the catalog are ignored.
func (p *CasbinProvider) GetHeldPersonas(ctx context.Context, userID string) ([]models.Persona, error) {
	ids, err := p.rolesWithPrefix(userID, personaRolePrefix)
	if err != nil {
		return nil, err
	}
	var out []models.Persona
	for _, id := range ids {
		if persona, ok := p.catalog.Persona(id); ok {
			out = append(out, persona)
		}
	}
	return out, nil
}

// GetGroupMemberships returns the groups a user belongs to
func (p *CasbinProvider) GetGroupMemberships(ctx context.Context, userID string) ([]string, error) {
	return p.rolesWithPrefix(userID, groupRolePrefix)
}

// GetGroupMembers returns the users of a group
func (p *CasbinProvider) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	users, err := p.enforcer.GetUsersForRole(GroupRole(groupID))
	if err != nil {
		return nil, fmt.Errorf("failed to read members of %s: %w", groupID, err)
	}
	return SortedUnique(users), nil
}

// FindHolders returns users holding a catalog persona that matches the query
func (p *CasbinProvider) FindHolders(ctx context.Context, q HolderQuery) ([]string, error) {
	var users []string
	for _, id := range p.catalog.Matching(q) {
		holders, err := p.enforcer.GetUsersForRole(PersonaRole(id))
		if err != nil {
			return nil, fmt.Errorf("failed to read holders of %s: %w", id, err)
		}
		users = append(users, holders...)
	}
	return SortedUnique(users), nil
}
