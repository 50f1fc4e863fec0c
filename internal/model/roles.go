package model

// Role is the caller role carried in access tokens.
type Role string

const (
	RoleGuest Role = "GUEST"
	RoleStaff Role = "STAFF"
	RoleAdmin Role = "ADMIN"
	// RoleSystem is used by consumers and background jobs; it never comes
	// from a token.
	RoleSystem Role = "SYSTEM"
)

// Actor is whoever triggered an operation.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor acts on behalf of a background component.
func SystemActor(component string) Actor { return Actor{ID: component, Role: RoleSystem} }

// Privileged reports whether the actor may act on any guest's reservations.
func (a Actor) Privileged() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin || a.Role == RoleSystem
}
