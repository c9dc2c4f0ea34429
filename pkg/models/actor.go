package models

import "time"

// Role identifies the class of caller an actor belongs to.
type Role string

const (
	RoleClient    Role = "CLIENT"
	RoleTherapist Role = "THERAPIST"
	RoleAdmin     Role = "ADMIN"
)

// Roles lists every role the gateway recognizes.
var Roles = []Role{RoleClient, RoleTherapist, RoleAdmin}

// Valid returns true if r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Actor is the identity attached to a gateway operation.
// Authentication happens upstream; the gateway only consumes the result.
type Actor struct {
	ID   string
	Role Role
}

// Session represents an established session for an actor.
type Session struct {
	ID        string
	ActorID   string
	ActorRole Role
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Actor returns the actor bound to this session.
func (s *Session) Actor() Actor {
	return Actor{ID: s.ActorID, Role: s.ActorRole}
}

// IsExpired returns true if the session has passed its expiry time.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// IsRevoked returns true if the session has been revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}
