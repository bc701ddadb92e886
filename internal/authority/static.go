package authority

import (
	"context"
	"sync"

	"github.com/upb/matrix-governance/models"
)

// Static serves authorities from an in-memory catalog. It backs tests and
// deployments that keep the role graph in the catalog file.
type Static struct {
	mu          sync.RWMutex
	catalog     *Catalog
	assignments map[string][]string // user -> persona IDs
	members     map[string][]string // group -> user IDs
}

// NewStatic creates a provider from a catalog, copying its assignments and groups
func NewStatic(catalog *Catalog) *Static {
	if catalog == nil {
		catalog = &Catalog{}
	}
	if catalog.byID == nil {
		_ = catalog.index()
	}
	s := &Static{
		catalog:     catalog,
		assignments: make(map[string][]string),
		members:     make(map[string][]string),
	}
	for user, ids := range catalog.Assignments {
		s.assignments[user] = append([]string(nil), ids...)
	}
	for group, users := range catalog.Groups {
		s.members[group] = append([]string(nil), users...)
	}
	return s
}

var _ Provider = (*Static)(nil)

// AddPersona registers a persona definition
func (s *Static) AddPersona(p models.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.catalog.byID[p.ID]; ok {
		*existing = p
		return
	}
	s.catalog.Personas = append(s.catalog.Personas, p)
	// appending may move the backing array
	_ = s.catalog.index()
}

// Assign gives a user a persona
func (s *Static) Assign(userID, personaID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[userID] = append(s.assignments[userID], personaID)
}

// AddToGroup adds a user to a security group
func (s *Static) AddToGroup(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID] = append(s.members[groupID], userID)
}

// GetHeldPersonas returns the persona definitions assigned to a user
func (s *Static) GetHeldPersonas(ctx context.Context, userID string) ([]models.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Persona
	for _, id := range SortedUnique(s.assignments[userID]) {
		if p, ok := s.catalog.Persona(id); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetGroupMemberships returns the groups a user belongs to
func (s *Static) GetGroupMemberships(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []string
	for group, users := range s.members {
		for _, u := range users {
			if u == userID {
				groups = append(groups, group)
				break
			}
		}
	}
	return SortedUnique(groups), nil
}

// GetGroupMembers returns the users of a group
func (s *Static) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SortedUnique(s.members[groupID]), nil
}

// FindHolders returns users assigned a persona matching the query
func (s *Static) FindHolders(ctx context.Context, q HolderQuery) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool)
	for _, id := range s.catalog.Matching(q) {
		wanted[id] = true
	}

	var users []string
	for user, ids := range s.assignments {
		for _, id := range ids {
			if wanted[id] {
				users = append(users, user)
				break
			}
		}
	}
	return SortedUnique(users), nil
}
