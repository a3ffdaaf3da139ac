package access

// Action names a gated operation.
type Action string

const (
	CreateEquipment Action = "create_equipment"
	AddMaintenance  Action = "add_maintenance"
	UploadSpec      Action = "upload_spec"
	UploadReport    Action = "upload_report"
	ViewEquipment   Action = "view_equipment"
	ViewQuotations  Action = "view_quotations"
	MarkMaintenance Action = "mark_maintenance"
	ReviewReport    Action = "review_report"
	ViewAudit       Action = "view_audit"
	ManageLibrary   Action = "manage_library"
	ViewLibrary     Action = "view_library"
)

// policy is fixed at compile time; nothing mutates it.
var policy = map[Role][]Action{
	RoleManager: {
		CreateEquipment, AddMaintenance, UploadSpec, UploadReport, ViewEquipment,
		ViewQuotations, MarkMaintenance, ReviewReport, ViewAudit, ManageLibrary, ViewLibrary,
	},
	RoleEngineer: {UploadReport, ViewEquipment, MarkMaintenance, ViewLibrary},
	RoleHeadRD:   {ViewQuotations},
	RoleGuest:    {ViewEquipment},
}

var allowed = func() map[Role]map[Action]struct{} {
	out := make(map[Role]map[Action]struct{}, len(policy))
	for role, actions := range policy {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		out[role] = set
	}
	return out
}()

// HasPermission reports whether role may perform action.
func HasPermission(role Role, action Action) bool {
	_, ok := allowed[role][action]
	return ok
}

// Permissions returns the actions granted to role in policy order.
func Permissions(role Role) []Action {
	actions := policy[role]
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// Actions lists every action that appears in the policy.
func Actions() []Action {
	return []Action{
		CreateEquipment, AddMaintenance, UploadSpec, UploadReport, ViewEquipment,
		ViewQuotations, MarkMaintenance, ReviewReport, ViewAudit, ManageLibrary, ViewLibrary,
	}
}
