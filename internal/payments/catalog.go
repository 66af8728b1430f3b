package payments

import "github.com/shopspring/decimal"

// Pack is a one-off credit bundle.
type Pack struct {
	SKU      string          `json:"sku"`
	Title    string          `json:"title"`
	Credits  decimal.Decimal `json:"credits"`
	PriceEUR decimal.Decimal `json:"price_eur"`
}

// Plan is a subscription tier; buying one sets the user's plan and grants its
// monthly credits up front.
type Plan struct {
	SKU      string          `json:"sku"`
	Title    string          `json:"title"`
	Credits  decimal.Decimal `json:"credits"`
	PriceEUR decimal.Decimal `json:"price_eur"`
}

var packs = []Pack{
	{SKU: "CREDITS_50", Title: "50 credits", Credits: decimal.NewFromInt(50), PriceEUR: decimal.NewFromFloat(4.99)},
	{SKU: "CREDITS_100", Title: "100 credits", Credits: decimal.NewFromInt(100), PriceEUR: decimal.NewFromFloat(8.99)},
	{SKU: "CREDITS_300", Title: "300 credits", Credits: decimal.NewFromInt(300), PriceEUR: decimal.NewFromFloat(23.99)},
}

var plans = []Plan{
	{SKU: "PLAN_START", Title: "Start", Credits: decimal.NewFromInt(120), PriceEUR: decimal.NewFromFloat(9.99)},
	{SKU: "PLAN_PRO", Title: "Pro", Credits: decimal.NewFromInt(400), PriceEUR: decimal.NewFromFloat(29.99)},
}

func Packs() []Pack { return packs }

func Plans() []Plan { return plans }

func FindPack(sku string) (Pack, bool) {
	for _, p := range packs {
		if p.SKU == sku {
			return p, true
		}
	}
	return Pack{}, false
}

func FindPlan(sku string) (Plan, bool) {
	for _, p := range plans {
		if p.SKU == sku {
			return p, true
		}
	}
	return Plan{}, false
}
