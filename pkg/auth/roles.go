package auth

import "github.com/dd0wney/burrowdb/pkg/engine"

// Role grants a set of engine operations
type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleReader, RoleWriter, RoleAdmin:
		return true
	}
	return false
}

// Allows reports whether r may run op. Readers see data, writers change
// it, admins may also force a sweep.
func (r Role) Allows(op engine.Op) bool {
	switch op {
	case engine.OpGet, engine.OpKeys, engine.OpStats:
		return r.Valid()
	case engine.OpPut, engine.OpDelete:
		return r == RoleWriter || r == RoleAdmin
	case engine.OpSweep:
		return r == RoleAdmin
	}
	return false
}

// ParseRole converts s to a Role
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}
