package auth

import "errors"

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer can watch device presence and read device records.
	RoleViewer Role = "viewer"

	// RoleClinician can also send and cancel prescriptions.
	RoleClinician Role = "clinician"

	// RoleAdmin can also read the message audit trail.
	RoleAdmin Role = "admin"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// Sentinel errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
