package service

import (
	"fmt"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
)

// basePlans is the fixed catalog. Only price ids vary per deployment.
var basePlans = []model.Plan{
	{ID: model.PlanStarter, Name: "Starter", Credits: 25, Price: 9.99},
	{ID: model.PlanPro, Name: "Pro", Credits: 100, Price: 29.99},
	{ID: model.PlanBusiness, Name: "Business", Credits: 500, Price: 99.99},
}

// PlanCatalog maps plan ids and provider price ids to plans.
//
// Price resolution is exact. An unknown price id is ErrInvalidPlan, never
// a fallback plan: granting the wrong bundle is worse than failing loudly.
type PlanCatalog struct {
	plans   []model.Plan
	byID    map[model.PlanID]model.Plan
	byPrice map[string]model.Plan
}

// NewPlanCatalog attaches price ids to the fixed plans. A plan without a
// price id is still listed but cannot be bought or resolved from a webhook.
func NewPlanCatalog(priceIDs map[model.PlanID]string) (*PlanCatalog, error) {
	c := &PlanCatalog{
		byID:    make(map[model.PlanID]model.Plan, len(basePlans)),
		byPrice: make(map[string]model.Plan, len(basePlans)),
	}

	for _, p := range basePlans {
		p.PriceID = priceIDs[p.ID]
		if p.PriceID != "" {
			if other, dup := c.byPrice[p.PriceID]; dup {
				return nil, fmt.Errorf("service/plan: price id %q used by both %s and %s", p.PriceID, other.ID, p.ID)
			}
			c.byPrice[p.PriceID] = p
		}
		c.byID[p.ID] = p
		c.plans = append(c.plans, p)
	}

	for id := range priceIDs {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("service/plan: price id configured for unknown plan %q", id)
		}
	}
	return c, nil
}

// Get returns the plan with the given id.
func (c *PlanCatalog) Get(id model.PlanID) (model.Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return model.Plan{}, apperror.InvalidPlan(string(id))
	}
	return p, nil
}

// ResolvePrice returns the plan sold under priceID.
func (c *PlanCatalog) ResolvePrice(priceID string) (model.Plan, error) {
	p, ok := c.byPrice[priceID]
	if !ok || priceID == "" {
		return model.Plan{}, apperror.InvalidPlan(priceID)
	}
	return p, nil
}

// List returns all plans in display order.
func (c *PlanCatalog) List() []model.Plan {
	out := make([]model.Plan, len(c.plans))
	copy(out, c.plans)
	return out
}
