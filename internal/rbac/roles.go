package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
	// RoleBillingOperator may adjust wallets and AI credits; it is opt-in per route.
	RoleBillingOperator = "billing_operator"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsOptInRole(role string) bool { return role == RoleBillingOperator }
