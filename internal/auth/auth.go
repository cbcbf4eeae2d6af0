// Package auth defines the seam between the pipeline core and the
// authentication collaborator spec.md §1 places out of scope: the core
// only requires a Principal value, passed as an explicit argument per
// spec.md §9 "Request-scoped session access" rather than kept in
// ambient (e.g. session-global) storage.
package auth

import "github.com/google/uuid"

// Principal is the authenticated caller of an engine operation.
type Principal struct {
	UserID   uuid.UUID
	Username string
	Roles    []string
	Admin    bool
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}
