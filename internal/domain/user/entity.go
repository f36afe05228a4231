package user

import "github.com/google/uuid"

// Role represents user role in the system (matches user_role enum)
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleBrand      Role = "brand"
	RoleInfluencer Role = "influencer"
)

// IsValidRole checks if role is one of the known roles
func IsValidRole(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleBrand, RoleInfluencer:
		return true
	}
	return false
}

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsAdmin returns true if actor is an admin
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsBrand returns true if actor is a brand
func (a Actor) IsBrand() bool {
	return a.Role == RoleBrand
}

// IsInfluencer returns true if actor is an influencer
func (a Actor) IsInfluencer() bool {
	return a.Role == RoleInfluencer
}

// Owns reports whether the actor is the given user or an admin.
func (a Actor) Owns(userID uuid.UUID) bool {
	return a.IsAdmin() || a.ID == userID
}
