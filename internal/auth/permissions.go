package auth

import "slices"

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDeviceRead        Permission = "device:read"
	PermPrescriptionWrite Permission = "prescription:write"
	PermAuditRead         Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
	},
	RoleClinician: {
		PermDeviceRead,
		PermPrescriptionWrite,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermPrescriptionWrite,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
