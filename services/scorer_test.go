package services

import (
	"testing"

	"listing-harvester/models"
)

func fullListing() *models.Listing {
	return &models.Listing{
		ExternalID:     "full",
		Title:          "Everything Present",
		AskingPrice:    models.Float(50000),
		Category:       "SaaS",
		Monetization:   "Subscription",
		MonthlyRevenue: models.Float(4000),
		MonthlyProfit:  models.Float(2500),
		Verification: models.Verification{
			TrafficVerified: true,
			RevenueVerified: true,
			ManuallyVetted:  true,
		},
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		listing *models.Listing
		want    int
	}{
		{"nil", nil, 0},
		{"empty", &models.Listing{ExternalID: "x"}, 0},
		{"title price profit", &models.Listing{
			Title:         "SaaS Business",
			AskingPrice:   models.Float(25000),
			MonthlyProfit: models.Float(1200),
		}, 40},
		{"verification only", &models.Listing{
			Verification: models.Verification{RevenueVerified: true, ManuallyVetted: true},
		}, 20},
		{"everything", fullListing(), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.listing); got != tt.want {
				t.Errorf("Score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreIsMonotonic(t *testing.T) {
	fills := []func(*models.Listing){
		func(l *models.Listing) { l.Title = "t" },
		func(l *models.Listing) { l.AskingPrice = models.Float(1) },
		func(l *models.Listing) { l.Category = "Content" },
		func(l *models.Listing) { l.Monetization = "Affiliate" },
		func(l *models.Listing) { l.MonthlyRevenue = models.Float(1) },
		func(l *models.Listing) { l.MonthlyProfit = models.Float(1) },
		func(l *models.Listing) { l.Verification.TrafficVerified = true },
		func(l *models.Listing) { l.Verification.RevenueVerified = true },
		func(l *models.Listing) { l.Verification.ManuallyVetted = true },
		func(l *models.Listing) { l.Description = "not scored" },
	}
	l := &models.Listing{}
	prev := Score(l)
	for i, fill := range fills {
		fill(l)
		got := Score(l)
		if got < prev {
			t.Fatalf("fill %d lowered score from %d to %d", i, prev, got)
		}
		if got > 100 {
			t.Fatalf("score %d above 100", got)
		}
		prev = got
	}
	if prev != 100 {
		t.Errorf("final score = %d, want 100", prev)
	}
}
