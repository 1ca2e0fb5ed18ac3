package directory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bonifacechacha/plan-lib/directory"
	"github.com/bonifacechacha/plan-lib/plan"
)

func TestMembership(t *testing.T) {
	d := directory.New()
	d.AddMember("engineering", "alice")
	d.AddMember("engineering", "alice")
	d.AddMember("finance", "alice")

	assert.True(t, d.IsMember("engineering", "alice"))
	assert.False(t, d.IsMember("engineering", "bob"))
	assert.False(t, d.IsMember("unknown", "alice"))

	// Duplicate AddMember does not duplicate the role listing
	assert.ElementsMatch(t, []plan.RoleID{"engineering", "finance"}, d.Roles("alice"))
	assert.Empty(t, d.Roles("bob"))
}

func TestPlanners(t *testing.T) {
	d := directory.New()
	d.AddPlanner("operations", "alice")

	assert.True(t, d.CanPlan("operations", "alice"))
	assert.False(t, d.CanPlan("operations", "bob"))
	assert.False(t, d.CanPlan("marketing", "alice"))
}

func TestCoverage(t *testing.T) {
	d := directory.New()
	d.AllowRoleResource("engineering", "laptops")
	d.AllowCostCenterResource("operations", "laptops")
	d.AllowCostCenterRole("operations", "engineering")

	assert.True(t, d.IsResourceAllowed("engineering", "laptops"))
	assert.False(t, d.IsResourceAllowed("engineering", "servers"))
	assert.True(t, d.AllowsResource("operations", "laptops"))
	assert.False(t, d.AllowsResource("operations", "servers"))
	assert.True(t, d.AllowsRole("operations", "engineering"))
	assert.False(t, d.AllowsRole("operations", "finance"))
}
