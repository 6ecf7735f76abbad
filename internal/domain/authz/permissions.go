package authz

// Permission strings understood by the POS.
const (
	PermSalesCreate   = "sales:create"
	PermSalesView     = "sales:view"
	PermSalesVoid     = "sales:void"
	PermCartManage    = "cart:manage"
	PermProductsView  = "products:view"
	PermClientsView   = "clients:view"
	PermClientsCreate = "clients:create"
	PermCouponsApply  = "coupons:apply"
	PermCouponsManage = "coupons:manage"
	PermLoyaltyAccrue = "loyalty:accrue"
	PermLoyaltyAdjust = "loyalty:adjust"

	PermDiscountsApply = "discounts:apply"
	PermInventoryView  = "inventory:view"
	PermInventoryEdit  = "inventory:manage"
	PermReportsView    = "reports:view"
	PermReportsExport  = "reports:export"

	PermUsersView        = "users:view"
	PermUsersGrant       = "users:grant-permissions"
	PermUsersManage      = "users:manage"
	PermRolesManage      = "roles:manage"
	PermSettingsManage   = "settings:manage"
	PermHardwareManage   = "hardware:manage"
	PermCategoriesManage = "categories:manage"
)

// Table maps each role to its static permission set. A Table is read-only
// reference data: callers receive copies and never mutate the shared value.
type Table struct {
	sets map[Role]map[string]struct{}
}

// NewTable builds a Table from role -> permissions lists.
func NewTable(perms map[Role][]string) Table {
	sets := make(map[Role]map[string]struct{}, len(perms))
	for role, list := range perms {
		set := make(map[string]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		sets[role] = set
	}
	return Table{sets: sets}
}

// Has reports whether role's static set contains permission or the wildcard.
func (t Table) Has(role Role, permission string) bool {
	set, ok := t.sets[role]
	if !ok {
		return false
	}
	if _, ok := set[Wildcard]; ok {
		return true
	}
	_, ok = set[permission]
	return ok
}

// Wildcard reports whether role maps to the wildcard permission.
func (t Table) Wildcard(role Role) bool {
	_, ok := t.sets[role][Wildcard]
	return ok
}

// Permissions returns a copy of the static permission set for role.
func (t Table) Permissions(role Role) []string {
	set := t.sets[role]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

var (
	cashierPerms = []string{
		PermSalesCreate, PermSalesView, PermCartManage, PermProductsView,
		PermClientsView, PermClientsCreate, PermCouponsApply, PermLoyaltyAccrue,
	}
	supervisorPerms = append(clone(cashierPerms),
		PermDiscountsApply, PermSalesVoid, PermInventoryView, PermReportsView,
	)
	managerPerms = append(clone(supervisorPerms),
		PermInventoryEdit, PermCouponsManage, PermLoyaltyAdjust,
		PermUsersView, PermUsersGrant, PermReportsExport,
	)
	adminPerms = append(clone(managerPerms),
		PermUsersManage, PermRolesManage, PermSettingsManage,
		PermHardwareManage, PermCategoriesManage,
	)
)

// DefaultTable is the POS role table. Roles are cumulative and developers
// hold the wildcard.
func DefaultTable() Table {
	return NewTable(map[Role][]string{
		RoleCashier:    cashierPerms,
		RoleSupervisor: supervisorPerms,
		RoleManager:    managerPerms,
		RoleAdmin:      adminPerms,
		RoleDeveloper:  {Wildcard},
	})
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
