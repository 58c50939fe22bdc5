package model

// PlanID names one of the fixed credit bundles.
type PlanID string

const (
	PlanStarter  PlanID = "starter"
	PlanPro      PlanID = "pro"
	PlanBusiness PlanID = "business"
)

// Plan is a credit bundle sold through the payment provider.
// Plans are static, only PriceID comes from configuration.
type Plan struct {
	ID      PlanID  `json:"id"`
	Name    string  `json:"name"`
	Credits int64   `json:"credits"`
	Price   float64 `json:"price"`
	PriceID string  `json:"priceId,omitempty"`
}
