package service

import "provisioner/internal/config"

// PlanCatalog maps order-source plan descriptions to account-system plan ids.
type PlanCatalog struct {
	plans config.Plans
}

func NewPlanCatalog(plans config.Plans) PlanCatalog {
	return PlanCatalog{plans: plans}
}

// Resolve returns the plan id for description, or the default plan with
// matched=false when the description is unknown or empty.
func (c PlanCatalog) Resolve(description string) (id int, matched bool) {
	if id, ok := c.plans.PlanID(description); ok {
		return id, true
	}
	return c.plans.DefaultID, false
}

// PlansFor lists the plans a new account gets: the primary plan, then the
// bond fee when one is configured.
func (c PlanCatalog) PlansFor(description string) []int {
	primary, _ := c.Resolve(description)
	ids := []int{primary}
	if c.plans.BondFeeID > 0 {
		ids = append(ids, c.plans.BondFeeID)
	}
	return ids
}
