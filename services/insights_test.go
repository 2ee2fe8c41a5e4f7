package services

import (
	"bytes"
	"strings"
	"testing"

	"listing-harvester/models"
	"listing-harvester/utils"
)

func sampleListings() []*models.Listing {
	return []*models.Listing{
		{ExternalID: "1", Title: "Niche Blog", AskingPrice: models.Float(20000), Category: "Content",
			ProfitMultiple: models.Float(2.5), SizeCategory: "small", QualityScore: 60,
			Verification: models.Verification{TrafficVerified: true}},
		{ExternalID: "2", Title: "Tiny Store", AskingPrice: models.Float(5000), Category: "Ecommerce",
			ProfitMultiple: models.Float(1.5), SizeCategory: "micro", QualityScore: 40},
		{ExternalID: "3", Title: "B2B SaaS", AskingPrice: models.Float(350000), Category: "SaaS",
			ProfitMultiple: models.Float(4), SizeCategory: "medium", QualityScore: 90},
		{ExternalID: "4", Title: "Mystery Asset", QualityScore: 15, LowConfidence: true},
		{ExternalID: "5", Title: "Deal Site", AskingPrice: models.Float(45000), Category: "Content",
			ProfitMultiple: models.Float(3), SizeCategory: "small", QualityScore: 60},
	}
}

func newTestInsights() (*InsightService, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewInsightService(utils.NewDiscardLogger()).WithOutput(&buf), &buf
}

func TestInsightCounts(t *testing.T) {
	svc, _ := newTestInsights()
	r := svc.Generate(sampleListings())
	if r.TotalListings != 5 || r.PricedListings != 4 {
		t.Errorf("total/priced = %d/%d, want 5/4", r.TotalListings, r.PricedListings)
	}
	if r.Verified != 1 || r.LowConfidence != 1 {
		t.Errorf("verified/low = %d/%d", r.Verified, r.LowConfidence)
	}
	if r.ListingsByCategory["Content"] != 2 || r.ListingsByCategory["Uncategorized"] != 1 {
		t.Errorf("by category = %v", r.ListingsByCategory)
	}
	if r.ListingsBySize["small"] != 2 {
		t.Errorf("by size = %v", r.ListingsBySize)
	}
	if r.AverageQuality != 53 {
		t.Errorf("AverageQuality = %v, want 53", r.AverageQuality)
	}
}

func TestInsightPrices(t *testing.T) {
	svc, _ := newTestInsights()
	r := svc.Generate(sampleListings())
	if r.AveragePrice != 105000 {
		t.Errorf("AveragePrice = %.2f, want 105000", r.AveragePrice)
	}
	if r.MinPrice != 5000 || r.MaxPrice != 350000 {
		t.Errorf("min/max = %.2f/%.2f", r.MinPrice, r.MaxPrice)
	}
	if r.MostExpensive == nil || r.MostExpensive.ExternalID != "3" {
		t.Errorf("MostExpensive = %+v", r.MostExpensive)
	}
	if r.MedianMultiple != 2.75 {
		t.Errorf("MedianMultiple = %v, want 2.75", r.MedianMultiple)
	}
}

func TestInsightTopQuality(t *testing.T) {
	svc, _ := newTestInsights()
	r := svc.Generate(sampleListings())
	var ids []string
	for _, l := range r.TopQuality {
		ids = append(ids, l.ExternalID)
	}
	if got := strings.Join(ids, ","); got != "3,1,5,2,4" {
		t.Errorf("top quality order = %s", got)
	}
}

func TestInsightEmpty(t *testing.T) {
	svc, buf := newTestInsights()
	r := svc.Generate(nil)
	if r.TotalListings != 0 || r.MostExpensive != nil {
		t.Errorf("summary of nothing = %+v", r)
	}
	svc.Print(r)
	if !strings.Contains(buf.String(), "No price data available") {
		t.Errorf("empty summary output:\n%s", buf.String())
	}
}

func TestInsightPrint(t *testing.T) {
	svc, buf := newTestInsights()
	svc.Print(svc.Generate(sampleListings()))
	out := buf.String()
	for _, want := range []string{"LISTING SUMMARY", "B2B SaaS", "Content", "2.75x"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestInsightPrintRun(t *testing.T) {
	svc, buf := newTestInsights()
	report := &models.RunReport{
		RunID:      "run-1",
		Seen:       3,
		Extracted:  2,
		Failed:     1,
		Aborted:    true,
		FieldRates: map[string]float64{"title": 2.0 / 3},
		Failures: []models.Failure{
			{Unit: "page 1 #2", Class: models.FailureStructural, Reason: "no fields extracted", Attempts: 2},
		},
	}
	svc.PrintRun(report)
	out := buf.String()
	for _, want := range []string{"run-1", "structural_change", "66.7%", "store unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
