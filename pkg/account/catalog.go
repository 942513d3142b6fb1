package account

// Plan describes a purchasable allotment of subtitle minutes. The catalog is
// static, loaded at process start, and shared by client and server.
type Plan struct {
	PlanID          string `json:"plan_id"`
	Name            string `json:"name"`
	MinutesIncluded int64  `json:"minutes_included"`
	PriceCents      int64  `json:"price_cents"`
	Audience        string `json:"audience"`
}

var planCatalog = []Plan{
	{
		PlanID:          "starter",
		Name:            "Starter",
		MinutesIncluded: 30,
		PriceCents:      9900,
		Audience:        "occasional creators subtitling a few shorts a month",
	},
	{
		PlanID:          "creator",
		Name:            "Creator",
		MinutesIncluded: 100,
		PriceCents:      29900,
		Audience:        "weekly uploaders with regular Tamil content",
	},
	{
		PlanID:          "pro",
		Name:            "Pro",
		MinutesIncluded: 300,
		PriceCents:      79900,
		Audience:        "daily channels and podcast publishers",
	},
	{
		PlanID:          "studio",
		Name:            "Studio",
		MinutesIncluded: 1000,
		PriceCents:      199900,
		Audience:        "agencies subtitling on behalf of clients",
	},
}

// Plans returns a copy of the plan catalog.
func Plans() []Plan {
	plans := make([]Plan, len(planCatalog))
	copy(plans, planCatalog)
	return plans
}

// PlanByID looks up a catalog entry.
func PlanByID(planID string) (Plan, bool) {
	for _, plan := range planCatalog {
		if plan.PlanID == planID {
			return plan, true
		}
	}
	return Plan{}, false
}
