package auth

import "sort"

// Permissions maps resource -> action -> granted.
type Permissions map[string]map[string]bool

// Lookup returns the explicit grant for resource/action if one is set.
func (p Permissions) Lookup(resource, action string) (granted, ok bool) {
	actions, found := p[resource]
	if !found {
		return false, false
	}
	granted, ok = actions[action]
	return granted, ok
}

// Clone returns a deep copy.
func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	out := make(Permissions, len(p))
	for res, actions := range p {
		cp := make(map[string]bool, len(actions))
		for a, v := range actions {
			cp[a] = v
		}
		out[res] = cp
	}
	return out
}

// PermissionSet resolves effective permissions of a user. User-level
// overrides win over role-level grants; absence at both levels denies.
type PermissionSet struct {
	Role Permissions
	User Permissions
}

// Has reports whether resource/action is granted.
func (s PermissionSet) Has(resource, action string) bool {
	if v, ok := s.User.Lookup(resource, action); ok {
		return v
	}
	if v, ok := s.Role.Lookup(resource, action); ok {
		return v
	}
	return false
}

// HasAll reports whether every listed action is granted.
func (s PermissionSet) HasAll(required map[string][]string) bool {
	for resource, actions := range required {
		for _, action := range actions {
			if !s.Has(resource, action) {
				return false
			}
		}
	}
	return true
}

// HasAnyOf reports whether at least one listed action is granted.
func (s PermissionSet) HasAnyOf(required map[string][]string) bool {
	for _, resource := range sortedKeys(required) {
		for _, action := range required[resource] {
			if s.Has(resource, action) {
				return true
			}
		}
	}
	return false
}

// HasAnyFor reports whether any action on resource is granted at either level.
func (s PermissionSet) HasAnyFor(resource string) bool {
	for _, v := range s.Role[resource] {
		if v {
			return true
		}
	}
	for _, v := range s.User[resource] {
		if v {
			return true
		}
	}
	return false
}

// Resource merges role and user grants for one resource, user winning.
func (s PermissionSet) Resource(resource string) map[string]bool {
	out := make(map[string]bool)
	for a, v := range s.Role[resource] {
		out[a] = v
	}
	for a, v := range s.User[resource] {
		out[a] = v
	}
	return out
}

// Effective merges every resource known at either level.
func (s PermissionSet) Effective() Permissions {
	out := make(Permissions)
	for res := range s.Role {
		out[res] = s.Resource(res)
	}
	for res := range s.User {
		out[res] = s.Resource(res)
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
