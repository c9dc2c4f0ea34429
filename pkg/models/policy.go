package models

import "time"

// FieldPolicy declares how one field of one entity is protected. Policies are
// loaded once at startup and never mutated at request time.
type FieldPolicy struct {
	Entity        string
	Field         string
	Encrypted     bool
	ReadableRoles []Role
	WritableRoles []Role
}

// Readable returns true if the role may see this field in a response.
func (p FieldPolicy) Readable(role Role) bool {
	return containsRole(p.ReadableRoles, role)
}

// Writable returns true if the role may supply this field on a write.
func (p FieldPolicy) Writable(role Role) bool {
	return containsRole(p.WritableRoles, role)
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CSRFToken is a signed, session-bound anti-forgery token. The signature is
// a keyed hash over value, session ID, and expiry, so forging one requires
// the signing secret. Tokens are verified, never mutated; a reissue creates
// a fresh token rather than reviving an old one.
type CSRFToken struct {
	Value     string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature []byte
}
