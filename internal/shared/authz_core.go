package shared

// Core platform permissions.
const (
	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermAuditView = "audit.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermAuditView,
	}
}

// AllScopes is every permission the service checks, seeded at startup.
func AllScopes() []string {
	return append(CoreScopes(), InventoryScopes()...)
}
