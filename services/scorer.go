package services

import "listing-harvester/models"

// Quality weights. They sum to 100; a listing with every scored field
// populated and every verification flag set scores 100.
const (
	weightTitle           = 15
	weightAskingPrice     = 15
	weightCategory        = 12
	weightMonetization    = 8
	weightMonthlyRevenue  = 10
	weightMonthlyProfit   = 10
	weightTrafficVerified = 10
	weightRevenueVerified = 10
	weightManuallyVetted  = 10
)

// Score computes the 0–100 quality score of l from field completeness and
// verification flags. Populating a field never lowers the score.
func Score(l *models.Listing) int {
	if l == nil {
		return 0
	}
	score := 0
	if l.Title != "" {
		score += weightTitle
	}
	if l.AskingPrice != nil {
		score += weightAskingPrice
	}
	if l.Category != "" {
		score += weightCategory
	}
	if l.Monetization != "" {
		score += weightMonetization
	}
	if l.MonthlyRevenue != nil {
		score += weightMonthlyRevenue
	}
	if l.MonthlyProfit != nil {
		score += weightMonthlyProfit
	}
	if l.Verification.TrafficVerified {
		score += weightTrafficVerified
	}
	if l.Verification.RevenueVerified {
		score += weightRevenueVerified
	}
	if l.Verification.ManuallyVetted {
		score += weightManuallyVetted
	}
	if score > 100 {
		score = 100
	}
	return score
}
