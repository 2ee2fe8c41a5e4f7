package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"listing-harvester/utils"
)

// MappingVersion identifies the field-name → attribute table below. Bump it
// whenever an alias moves so stored listings can be traced to the mapping
// that produced them.
const MappingVersion = 3

type attribute int

const (
	attrUnknown attribute = iota
	attrExternalID
	attrTitle
	attrURL
	attrDescription
	attrAskingPrice
	attrMonthlyRevenue
	attrMonthlyProfit
	attrAnnualRevenue
	attrAnnualProfit
	attrRevenueMultiple
	attrProfitMultiple
	attrMultiple
	attrCategory
	attrPropertyType
	attrMonetization
	attrTrafficVerified
	attrRevenueVerified
	attrManuallyVetted
)

// fieldMapping maps extractor field names (folded, underscores) onto
// canonical listing attributes.
var fieldMapping = map[string]attribute{
	"external_id": attrExternalID,
	"listing_id":  attrExternalID,
	"id":          attrExternalID,

	"title":    attrTitle,
	"name":     attrTitle,
	"headline": attrTitle,

	"url":       attrURL,
	"link":      attrURL,
	"permalink": attrURL,

	"description": attrDescription,
	"summary":     attrDescription,

	"asking_price":  attrAskingPrice,
	"price":         attrAskingPrice,
	"listing_price": attrAskingPrice,

	"monthly_revenue":     attrMonthlyRevenue,
	"revenue":             attrMonthlyRevenue,
	"avg_monthly_revenue": attrMonthlyRevenue,

	"monthly_profit":     attrMonthlyProfit,
	"profit":             attrMonthlyProfit,
	"net_profit":         attrMonthlyProfit,
	"avg_monthly_profit": attrMonthlyProfit,

	"annual_revenue": attrAnnualRevenue,
	"yearly_revenue": attrAnnualRevenue,
	"ttm_revenue":    attrAnnualRevenue,

	"annual_profit": attrAnnualProfit,
	"yearly_profit": attrAnnualProfit,
	"ttm_profit":    attrAnnualProfit,
	"sde":           attrAnnualProfit,

	"revenue_multiple":   attrRevenueMultiple,
	"profit_multiple":    attrProfitMultiple,
	"earnings_multiple":  attrProfitMultiple,
	"multiple":           attrMultiple,
	"valuation_multiple": attrMultiple,

	"category": attrCategory,
	"niche":    attrCategory,
	"industry": attrCategory,

	"property_type": attrPropertyType,
	"business_type": attrPropertyType,
	"asset_type":    attrPropertyType,
	"type":          attrPropertyType,

	"monetization":        attrMonetization,
	"monetization_method": attrMonetization,
	"revenue_model":       attrMonetization,

	"traffic_verified": attrTrafficVerified,
	"revenue_verified": attrRevenueVerified,
	"manually_vetted":  attrManuallyVetted,
	"vetted":           attrManuallyVetted,
}

func mappingKey(field string) string {
	k := utils.FoldKey(field)
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(k)
}

func lookupAttribute(field string) attribute {
	return fieldMapping[mappingKey(field)]
}

// idAttribute reports whether the attribute is an identity rather than
// content field. A unit that only yields identity fields is a structural miss.
func idAttribute(a attribute) bool {
	return a == attrExternalID || a == attrURL
}

var categorySynonyms = map[string]string{
	"ecom":                  "Ecommerce",
	"ecommerce":             "Ecommerce",
	"e-commerce":            "Ecommerce",
	"e commerce":            "Ecommerce",
	"online store":          "Ecommerce",
	"shopify":               "Ecommerce",
	"dropshipping":          "Ecommerce",
	"amazon fba":            "Amazon FBA",
	"fba":                   "Amazon FBA",
	"saas":                  "SaaS",
	"software":              "SaaS",
	"software as a service": "SaaS",
	"content":               "Content",
	"content site":          "Content",
	"blog":                  "Content",
	"affiliate site":        "Content",
	"contenu editorial":     "Content",
	"app":                   "App",
	"apps":                  "App",
	"mobile app":            "App",
	"marketplace":           "Marketplace",
	"newsletter":            "Newsletter",
	"agency":                "Agency",
	"service":               "Service",
	"services":              "Service",
	"youtube":               "YouTube",
	"youtube channel":       "YouTube",
	"domain":                "Domain",
	"domains":               "Domain",
}

var monetizationSynonyms = map[string]string{
	"affiliate":         "Affiliate",
	"affiliates":        "Affiliate",
	"amazon associates": "Affiliate",
	"ads":               "Advertising",
	"adsense":           "Advertising",
	"display ads":       "Advertising",
	"advertising":       "Advertising",
	"subscription":      "Subscription",
	"subscriptions":     "Subscription",
	"recurring":         "Subscription",
	"saas":              "Subscription",
	"ecommerce":         "Product Sales",
	"e-commerce":        "Product Sales",
	"product sales":     "Product Sales",
	"dropshipping":      "Product Sales",
	"amazon fba":        "Product Sales",
	"services":          "Services",
	"service":           "Services",
	"lead gen":          "Lead Generation",
	"lead generation":   "Lead Generation",
	"sponsorship":       "Sponsorship",
	"sponsorships":      "Sponsorship",
	"digital products":  "Digital Products",
	"info products":     "Digital Products",
	"courses":           "Digital Products",
}

var propertyTypeSynonyms = map[string]string{
	"website":       "Website",
	"site":          "Website",
	"web site":      "Website",
	"app":           "App",
	"mobile app":    "App",
	"ios app":       "App",
	"android app":   "App",
	"saas":          "SaaS",
	"store":         "Store",
	"ecommerce":     "Store",
	"shopify store": "Store",
	"amazon store":  "Store",
	"fba":           "Store",
	"newsletter":    "Newsletter",
	"channel":       "Channel",
	"youtube":       "Channel",
	"domain":        "Domain",
	"business":      "Business",
}

// canonicalize looks raw up in table after folding. It reports whether the
// term was recognised; unknown terms are title-cased and kept.
func canonicalize(table map[string]string, raw string) (string, bool) {
	key := utils.FoldKey(raw)
	if key == "" {
		return "", true
	}
	if v, ok := table[key]; ok {
		return v, true
	}
	return titleCase(utils.NormaliseText(raw)), false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == strings.ToLower(w) {
			r, size := utf8.DecodeRuneInString(w)
			words[i] = string(unicode.ToUpper(r)) + w[size:]
		}
	}
	return strings.Join(words, " ")
}

// usdRates converts the currencies marketplaces commonly quote into USD.
var usdRates = map[string]float64{
	"USD": 1,
	"EUR": 1.08,
	"GBP": 1.27,
}

// sizeBands classify a listing by asking price, smallest first.
var sizeBands = []struct {
	upTo  float64
	label string
}{
	{10_000, "micro"},
	{100_000, "small"},
	{1_000_000, "medium"},
	{10_000_000, "large"},
}

func sizeCategory(price float64) string {
	for _, b := range sizeBands {
		if price < b.upTo {
			return b.label
		}
	}
	return "enterprise"
}
