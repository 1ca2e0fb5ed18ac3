/*
directory.go - Organizational directory collaborator

PURPOSE:
  The engine never stores people, roles or cost centers itself; it asks
  the Directory. Implementations live outside the core (see the
  directory package for the in-memory one).
*/

package plan

// Directory answers the membership and permission questions the engine
// needs. All methods are pure queries.
type Directory interface {
	// IsMember reports whether the user belongs to the role.
	IsMember(role RoleID, user UserID) bool

	// CanPlan reports whether the user may plan (create budgets,
	// propose allocations) for the cost center.
	CanPlan(costCenter CostCenterID, user UserID) bool

	// IsResourceAllowed reports whether the role may consume the
	// resource.
	IsResourceAllowed(role RoleID, resource ResourceID) bool

	// AllowsResource reports whether the cost center covers the
	// resource at all.
	AllowsResource(costCenter CostCenterID, resource ResourceID) bool

	// AllowsRole reports whether the cost center covers the role.
	AllowsRole(costCenter CostCenterID, role RoleID) bool

	// Roles lists the roles the user belongs to.
	Roles(user UserID) []RoleID
}
