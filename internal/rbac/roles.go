// Package rbac implements role-based permission enforcement for the SkyLink
// gateway. Roles form a closed set; an unknown or missing role claim resolves
// to the least-privileged default role, never to an escalated one. The
// role→permission matrix is fixed at process start and read-only thereafter.
package rbac

// Permission is a named capability required by a gateway operation.
type Permission string

const (
	PermWeatherRead    Permission = "weather:read"
	PermContactsRead   Permission = "contacts:read"
	PermTelemetryWrite Permission = "telemetry:write"
	PermTelemetryRead  Permission = "telemetry:read"
	PermConfigRead     Permission = "config:read"
	PermConfigWrite    Permission = "config:write"
	PermAuditRead      Permission = "audit:read"
)

// Role is one of the closed set of SkyLink roles.
type Role string

const (
	// RoleAircraftStandard is the default, least-privileged role.
	RoleAircraftStandard Role = "aircraft_standard"

	// RoleAircraftPremium extends the standard role with contacts access.
	RoleAircraftPremium Role = "aircraft_premium"

	// RoleGroundControl is for ground stations: read-heavy monitoring.
	RoleGroundControl Role = "ground_control"

	// RoleMaintenance is for diagnostics personnel.
	RoleMaintenance Role = "maintenance"

	// RoleAdmin has every permission.
	RoleAdmin Role = "admin"
)

// DefaultRole is applied when a token carries no role claim or an
// unrecognised one.
const DefaultRole = RoleAircraftStandard

// rolePermissions is the static role→permission matrix. Least privilege:
// each role holds only what its function requires.
var rolePermissions = map[Role]map[Permission]bool{
	RoleAircraftStandard: {
		PermWeatherRead:    true,
		PermTelemetryWrite: true,
	},
	RoleAircraftPremium: {
		PermWeatherRead:    true,
		PermContactsRead:   true,
		PermTelemetryWrite: true,
	},
	RoleGroundControl: {
		PermWeatherRead:   true,
		PermContactsRead:  true,
		PermTelemetryRead: true,
	},
	RoleMaintenance: {
		PermWeatherRead:    true,
		PermTelemetryWrite: true,
		PermTelemetryRead:  true,
		PermConfigRead:     true,
	},
	RoleAdmin: {
		PermWeatherRead:    true,
		PermContactsRead:   true,
		PermTelemetryWrite: true,
		PermTelemetryRead:  true,
		PermConfigRead:     true,
		PermConfigWrite:    true,
		PermAuditRead:      true,
	},
}

// RoleFromString maps a role claim to a Role. The fallback to DefaultRole is
// an explicit, visible branch: unknown strings degrade to least privilege.
func RoleFromString(s string) Role {
	switch Role(s) {
	case RoleAircraftStandard, RoleAircraftPremium, RoleGroundControl, RoleMaintenance, RoleAdmin:
		return Role(s)
	default:
		return DefaultRole
	}
}

// HasPermission reports whether role holds the permission.
func HasPermission(role Role, p Permission) bool {
	return rolePermissions[role][p]
}

// Permissions returns the permissions held by role, in no particular order.
func Permissions(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	return out
}
