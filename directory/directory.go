/*
directory.go - In-memory organizational directory

PURPOSE:
  Implements plan.Directory over plain maps: role membership, planners
  per cost center, allowed resources per role, and what each cost
  center covers. Populated at startup; the engine only reads it.
*/

package directory

import (
	"sync"

	"github.com/bonifacechacha/plan-lib/plan"
)

// Directory is the in-memory plan.Directory.
type Directory struct {
	mu        sync.RWMutex
	members   map[plan.RoleID]map[plan.UserID]bool
	planners  map[plan.CostCenterID]map[plan.UserID]bool
	roleRes   map[plan.RoleID]map[plan.ResourceID]bool
	ccRes     map[plan.CostCenterID]map[plan.ResourceID]bool
	ccRoles   map[plan.CostCenterID]map[plan.RoleID]bool
	userRoles map[plan.UserID][]plan.RoleID
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		members:   make(map[plan.RoleID]map[plan.UserID]bool),
		planners:  make(map[plan.CostCenterID]map[plan.UserID]bool),
		roleRes:   make(map[plan.RoleID]map[plan.ResourceID]bool),
		ccRes:     make(map[plan.CostCenterID]map[plan.ResourceID]bool),
		ccRoles:   make(map[plan.CostCenterID]map[plan.RoleID]bool),
		userRoles: make(map[plan.UserID][]plan.RoleID),
	}
}

// ============================================================================
// POPULATION
// ============================================================================

// AddMember puts the user into the role.
func (d *Directory) AddMember(role plan.RoleID, user plan.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[role] == nil {
		d.members[role] = make(map[plan.UserID]bool)
	}
	if !d.members[role][user] {
		d.members[role][user] = true
		d.userRoles[user] = append(d.userRoles[user], role)
	}
}

// AddPlanner lets the user plan for the cost center.
func (d *Directory) AddPlanner(costCenter plan.CostCenterID, user plan.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.planners[costCenter] == nil {
		d.planners[costCenter] = make(map[plan.UserID]bool)
	}
	d.planners[costCenter][user] = true
}

// AllowRoleResource lets the role consume the resource.
func (d *Directory) AllowRoleResource(role plan.RoleID, resource plan.ResourceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.roleRes[role] == nil {
		d.roleRes[role] = make(map[plan.ResourceID]bool)
	}
	d.roleRes[role][resource] = true
}

// AllowCostCenterResource puts the resource under the cost center.
func (d *Directory) AllowCostCenterResource(costCenter plan.CostCenterID, resource plan.ResourceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ccRes[costCenter] == nil {
		d.ccRes[costCenter] = make(map[plan.ResourceID]bool)
	}
	d.ccRes[costCenter][resource] = true
}

// AllowCostCenterRole puts the role under the cost center.
func (d *Directory) AllowCostCenterRole(costCenter plan.CostCenterID, role plan.RoleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ccRoles[costCenter] == nil {
		d.ccRoles[costCenter] = make(map[plan.RoleID]bool)
	}
	d.ccRoles[costCenter][role] = true
}

// ============================================================================
// plan.Directory
// ============================================================================

func (d *Directory) IsMember(role plan.RoleID, user plan.UserID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members[role][user]
}

func (d *Directory) CanPlan(costCenter plan.CostCenterID, user plan.UserID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.planners[costCenter][user]
}

func (d *Directory) IsResourceAllowed(role plan.RoleID, resource plan.ResourceID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roleRes[role][resource]
}

func (d *Directory) AllowsResource(costCenter plan.CostCenterID, resource plan.ResourceID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ccRes[costCenter][resource]
}

func (d *Directory) AllowsRole(costCenter plan.CostCenterID, role plan.RoleID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ccRoles[costCenter][role]
}

func (d *Directory) Roles(user plan.UserID) []plan.RoleID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]plan.RoleID(nil), d.userRoles[user]...)
}
