package auth

// Principal is the identity resolved from a bearer token.
type Principal struct {
	User    *User
	Role    *Role
	Session *Session
	Mode    TokenMode
}

// NewPrincipal constructs a principal for an authenticated session.
func NewPrincipal(user *User, role *Role, session *Session, mode TokenMode) Principal {
	return Principal{User: user, Role: role, Session: session, Mode: mode}
}

// Permissions returns the permission set used for authorization checks.
func (p Principal) Permissions() PermissionSet {
	var set PermissionSet
	if p.Role != nil {
		set.Role = p.Role.Permissions
	}
	if p.User != nil {
		set.User = p.User.Permissions
	}
	return set
}

// HasPermission reports whether the principal may perform action on resource.
func (p Principal) HasPermission(resource, action string) bool {
	return p.Permissions().Has(resource, action)
}
