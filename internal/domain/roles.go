package domain

// RoleSet is a set of role identifiers.
type RoleSet map[string]struct{}

// NewRoleSet builds a set from role IDs, dropping empties.
func NewRoleSet(ids ...string) RoleSet {
	set := make(RoleSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Contains reports membership.
func (s RoleSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Intersect returns the role IDs present in both the slice and the set,
// preserving slice order.
func (s RoleSet) Intersect(ids []string) []string {
	var out []string
	for _, id := range ids {
		if s.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Added returns the role IDs present in after but absent from before.
func Added(before, after []string) []string {
	prior := NewRoleSet(before...)
	var out []string
	for _, id := range after {
		if !prior.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Missing returns the role IDs from want that are absent from have.
func Missing(want, have []string) []string {
	held := NewRoleSet(have...)
	var out []string
	for _, id := range want {
		if !held.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}
