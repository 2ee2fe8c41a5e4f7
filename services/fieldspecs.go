package services

import "listing-harvester/models"

// Field names produced by the default table. The normalizer's mapping table
// also accepts the aliases sources commonly use.
const (
	FieldExternalID      = "external_id"
	FieldTitle           = "title"
	FieldURL             = "url"
	FieldDescription     = "description"
	FieldAskingPrice     = "asking_price"
	FieldMonthlyRevenue  = "monthly_revenue"
	FieldMonthlyProfit   = "monthly_profit"
	FieldAnnualRevenue   = "annual_revenue"
	FieldAnnualProfit    = "annual_profit"
	FieldRevenueMultiple = "revenue_multiple"
	FieldProfitMultiple  = "profit_multiple"
	FieldMultiple        = "multiple"
	FieldCategory        = "category"
	FieldPropertyType    = "property_type"
	FieldMonetization    = "monetization"
	FieldTrafficVerified = "traffic_verified"
	FieldRevenueVerified = "revenue_verified"
	FieldManuallyVetted  = "manually_vetted"
)

func sk(keys ...string) models.StrategySpec {
	return models.StrategySpec{Type: models.StrategyStructuredKey, Keys: keys}
}

func lt(labels ...string) models.StrategySpec {
	return models.StrategySpec{Type: models.StrategyLabeledText, Labels: labels}
}

func css(selector, attr string) models.StrategySpec {
	return models.StrategySpec{Type: models.StrategyCSSSelector, Selector: selector, Attr: attr}
}

func near(labels ...string) models.StrategySpec {
	return models.StrategySpec{Type: models.StrategyDOMProximity, Labels: labels}
}

func rx(pattern string) models.StrategySpec {
	return models.StrategySpec{Type: models.StrategyRegex, Pattern: pattern}
}

// DefaultFieldSpecs is the built-in extraction table for business-for-sale
// marketplaces. Deployments override it with a YAML file.
func DefaultFieldSpecs() []models.FieldSpec {
	maxMultiple := 100.0
	return []models.FieldSpec{
		{
			Name: FieldExternalID, Kind: models.KindString, MaxLength: 80,
			Strategies: []models.StrategySpec{
				sk("external_id", "listing_id", "listingId", "id", "uuid", "sku"),
				css("[data-listing-id]", "data-listing-id"),
				rx(`(?i)listing\s*(?:id|#)\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9-]{1,39})`),
			},
		},
		{
			Name: FieldTitle, Kind: models.KindString, MaxLength: 200,
			Strategies: []models.StrategySpec{
				sk("title", "name", "headline"),
				css("h1", ""),
				css(`meta[property="og:title"]`, "content"),
			},
			Fallback: []models.StrategySpec{
				{Type: models.StrategyReadability, Attr: "title"},
			},
		},
		{
			Name: FieldURL, Kind: models.KindString, MaxLength: 500,
			Strategies: []models.StrategySpec{
				sk("url", "permalink", "link", "listing_url"),
				css(`link[rel="canonical"]`, "href"),
				css(`meta[property="og:url"]`, "content"),
			},
		},
		{
			Name: FieldDescription, Kind: models.KindString, MaxLength: 2000,
			Strategies: []models.StrategySpec{
				sk("description", "summary", "pitch"),
				css(`meta[name="description"]`, "content"),
			},
			Fallback: []models.StrategySpec{
				{Type: models.StrategyReadability, Attr: "excerpt"},
			},
		},
		{
			Name: FieldAskingPrice, Kind: models.KindNumber,
			Strategies: []models.StrategySpec{
				sk("asking_price", "price", "listing_price", "financials.asking_price", "offers.price"),
				css(`[data-field="asking-price"], .asking-price, .listing-price`, ""),
				lt("Asking Price", "Listing Price", "Price"),
				near("Asking Price", "Price"),
			},
		},
		{
			Name: FieldMonthlyRevenue, Kind: models.KindNumber,
			Strategies: []models.StrategySpec{
				sk("monthly_revenue", "revenue_monthly", "avg_monthly_revenue", "financials.monthly_revenue", "revenue"),
				css(`[data-field="monthly-revenue"], .monthly-revenue`, ""),
				lt("Monthly Revenue", "Avg. Monthly Revenue", "Average Monthly Revenue", "Revenue / mo"),
				near("Monthly Revenue", "Avg. Monthly Revenue"),
			},
		},
		{
			Name: FieldMonthlyProfit, Kind: models.KindNumber,
			Strategies: []models.StrategySpec{
				sk("monthly_profit", "profit_monthly", "avg_monthly_profit", "net_profit", "financials.monthly_profit", "profit"),
				css(`[data-field="monthly-profit"], .monthly-profit`, ""),
				lt("Monthly Profit", "Monthly Net Profit", "Avg. Monthly Profit", "Average Monthly Profit", "Profit / mo"),
				near("Monthly Profit", "Monthly Net Profit", "Avg. Monthly Profit"),
			},
		},
		{
			Name: FieldAnnualRevenue, Kind: models.KindNumber,
			Strategies: []models.StrategySpec{
				sk("annual_revenue", "yearly_revenue", "ttm_revenue", "financials.annual_revenue"),
				lt("Annual Revenue", "TTM Revenue", "Yearly Revenue"),
			},
		},
		{
			Name: FieldAnnualProfit, Kind: models.KindNumber,
			Strategies: []models.StrategySpec{
				sk("annual_profit", "yearly_profit", "ttm_profit", "sde", "financials.annual_profit"),
				lt("Annual Profit", "TTM Profit", "Yearly Profit", "SDE"),
			},
		},
		{
			Name: FieldRevenueMultiple, Kind: models.KindNumber, Max: &maxMultiple,
			Strategies: []models.StrategySpec{
				sk("revenue_multiple", "multiple_revenue", "financials.revenue_multiple"),
				lt("Revenue Multiple"),
			},
		},
		{
			Name: FieldProfitMultiple, Kind: models.KindNumber, Max: &maxMultiple,
			Strategies: []models.StrategySpec{
				sk("profit_multiple", "earnings_multiple", "multiple_profit", "financials.profit_multiple"),
				lt("Profit Multiple", "Earnings Multiple"),
			},
		},
		{
			Name: FieldMultiple, Kind: models.KindNumber, Max: &maxMultiple,
			Strategies: []models.StrategySpec{
				sk("multiple", "valuation_multiple"),
				lt("Multiple", "Valuation Multiple"),
			},
		},
		{
			Name: FieldCategory, Kind: models.KindEnum,
			Strategies: []models.StrategySpec{
				sk("category", "niche", "industry", "vertical"),
				css(`[data-field="category"], .listing-category`, ""),
				lt("Category", "Niche", "Industry"),
				near("Category", "Niche", "Industry"),
			},
		},
		{
			Name: FieldPropertyType, Kind: models.KindEnum,
			Strategies: []models.StrategySpec{
				sk("property_type", "business_type", "asset_type", "type"),
				lt("Property Type", "Business Type", "Asset Type"),
				near("Property Type", "Business Type", "Type"),
			},
		},
		{
			Name: FieldMonetization, Kind: models.KindEnum,
			Strategies: []models.StrategySpec{
				sk("monetization", "monetization_method", "revenue_model", "monetizations.0"),
				lt("Monetization", "Monetization Method", "Revenue Model"),
				near("Monetization", "Revenue Model"),
			},
		},
		{
			Name: FieldTrafficVerified, Kind: models.KindBool,
			Strategies: []models.StrategySpec{
				sk("traffic_verified", "verification.traffic", "badges.traffic_verified"),
				lt("Traffic Verified"),
				rx(`(?i)\b(traffic\s+verified)\b`),
			},
		},
		{
			Name: FieldRevenueVerified, Kind: models.KindBool,
			Strategies: []models.StrategySpec{
				sk("revenue_verified", "verification.revenue", "badges.revenue_verified"),
				lt("Revenue Verified"),
				rx(`(?i)\b(revenue\s+verified)\b`),
			},
		},
		{
			Name: FieldManuallyVetted, Kind: models.KindBool,
			Strategies: []models.StrategySpec{
				sk("manually_vetted", "vetted", "verification.vetted", "badges.vetted"),
				lt("Manually Vetted"),
				rx(`(?i)\b(manually\s+vetted|vetted\s+listing)\b`),
			},
		},
	}
}
