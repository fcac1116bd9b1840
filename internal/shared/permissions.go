package shared

// Core platform permissions.
const (
	PermVillagesView   = "villages.view"
	PermVillagesCreate = "villages.create"
	PermVillagesUpdate = "villages.update"
	PermVillagesDelete = "villages.delete"

	PermPropertiesView   = "properties.view"
	PermPropertiesManage = "properties.manage"

	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermAuditView = "audit.view"

	// PermEmergencyOverride gates creation and administration of
	// emergency override grants.
	PermEmergencyOverride = "audit.emergency_override"
)

// CorePermissions lists all permissions known to the core platform.
func CorePermissions() []string {
	return []string{
		PermVillagesView,
		PermVillagesCreate,
		PermVillagesUpdate,
		PermVillagesDelete,
		PermPropertiesView,
		PermPropertiesManage,
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermAuditView,
		PermEmergencyOverride,
	}
}
