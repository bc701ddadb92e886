// Package authority answers who holds which persona and group. The governance
// core consumes it to build identity sets for limit resolution and to route
// approval requests.
package authority

import (
	"context"
	"sort"

	"github.com/upb/matrix-governance/models"
)

// Provider is the lookup the governance core reads authorities from
type Provider interface {
	// GetHeldPersonas returns the personas assigned to a user
	GetHeldPersonas(ctx context.Context, userID string) ([]models.Persona, error)

	// GetGroupMemberships returns the security groups a user belongs to
	GetGroupMemberships(ctx context.Context, userID string) ([]string, error)

	// GetGroupMembers returns the users of a security group
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// FindHolders returns the users holding a persona that satisfies the query
	FindHolders(ctx context.Context, q HolderQuery) ([]string, error)
}

// HolderQuery selects personas. Empty fields do not constrain.
type HolderQuery struct {
	CompanyID      string
	PersonaID      string
	Capability     models.Capability
	BranchID       string
	BusinessUnitID string
}

// Matches reports whether a persona satisfies the query
func (q HolderQuery) Matches(p *models.Persona) bool {
	if q.PersonaID != "" && p.ID != q.PersonaID {
		return false
	}
	if q.CompanyID != "" && p.CompanyID != "" && p.CompanyID != q.CompanyID {
		return false
	}
	if q.Capability != "" && !p.Can(q.Capability) {
		return false
	}
	return p.Covers(q.BranchID, q.BusinessUnitID)
}

// Identities loads the persona and group identities of a user
func Identities(ctx context.Context, p Provider, userID string) ([]models.Identity, []models.Persona, []string, error) {
	personas, err := p.GetHeldPersonas(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	groups, err := p.GetGroupMemberships(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	return models.Identities(personas, groups), personas, groups, nil
}

// SortedUnique drops blanks and duplicates and sorts the rest
func SortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
