package models

import (
	"time"

	"github.com/google/uuid"
)

// User is created once by an administrator; it is never deleted, only
// deactivated, and its roles are mutated only by an admin.
type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	FullName     string     `json:"full_name"`
	Deactivated  bool       `gorm:"not null;default:false" json:"deactivated"`
	Roles        []*Role    `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

// HasRole reports whether the user holds the named role.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user holds the reserved "admin" role,
// which bypasses the stage-slot ownership check throughout the engine.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// Role is a static seed set loaded at schema init; name is primary.
type Role struct {
	Name        string `gorm:"primaryKey" json:"name"`
	Description string `json:"description"`
}

// UserRole is the many2many join row GORM manages for User.Roles.
type UserRole struct {
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoleName string    `gorm:"primaryKey"`
}

// RoleAdmin is the seeded role that bypasses stage-slot ownership
// checks in the task execution engine and source-table management.
const RoleAdmin = "admin"

// DefaultRoles is the static seed set loaded once at schema init.
var DefaultRoles = []*Role{
	{Name: RoleAdmin, Description: "administrator, bypasses stage-slot ownership checks"},
	{Name: "collector", Description: "runs collection-stage tasks"},
	{Name: "loader", Description: "runs load-stage tasks"},
	{Name: "checker", Description: "runs check-stage tasks"},
	{Name: "qa", Description: "runs qa-stage tasks"},
}
