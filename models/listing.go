package models

import (
	"fmt"
	"time"
)

// SourceKind discriminates how a RawContentUnit was obtained.
type SourceKind string

const (
	SourceAPI SourceKind = "api"
	SourceDOM SourceKind = "dom"
)

// RawContentUnit is one page or API object worth of material to extract from.
// It is created per fetch and never persisted.
type RawContentUnit struct {
	Kind      SourceKind
	Text      string         // rendered DOM / HTML text (SourceDOM)
	JSON      map[string]any // parsed API object (SourceAPI)
	Sequence  int
	Page      int
	URL       string
	FetchedAt time.Time
}

// Label identifies a unit in logs and failure lists.
func (u *RawContentUnit) Label() string {
	if u.URL != "" {
		return fmt.Sprintf("page %d #%d (%s)", u.Page, u.Sequence, u.URL)
	}
	return fmt.Sprintf("page %d #%d", u.Page, u.Sequence)
}

// Empty reports whether the unit carries no payload at all.
func (u *RawContentUnit) Empty() bool {
	return len(u.JSON) == 0 && u.Text == ""
}

// FieldExtractionResult is one field's extracted value. Value is a float64,
// string, bool or nil; nil always comes with zero confidence.
type FieldExtractionResult struct {
	Field      string
	Raw        string
	Value      any
	Confidence float64
	Strategy   string
}

// Found reports whether the field produced a value.
func (r FieldExtractionResult) Found() bool {
	return r.Value != nil
}

// Verification holds the trust signals a marketplace exposes for a listing.
type Verification struct {
	TrafficVerified bool `json:"traffic_verified" bson:"traffic_verified"`
	RevenueVerified bool `json:"revenue_verified" bson:"revenue_verified"`
	ManuallyVetted  bool `json:"manually_vetted" bson:"manually_vetted"`
}

// Listing is the canonical, normalized record and the unit of persistence.
type Listing struct {
	ExternalID  string `json:"external_id" bson:"external_id"`
	Title       string `json:"title" bson:"title"`
	URL         string `json:"url" bson:"url"`
	Description string `json:"description,omitempty" bson:"description"`

	AskingPrice      *float64 `json:"asking_price,omitempty" bson:"asking_price"`
	MonthlyRevenue   *float64 `json:"monthly_revenue,omitempty" bson:"monthly_revenue"`
	MonthlyProfit    *float64 `json:"monthly_profit,omitempty" bson:"monthly_profit"`
	AnnualRevenue    *float64 `json:"annual_revenue,omitempty" bson:"annual_revenue"`
	AnnualProfit     *float64 `json:"annual_profit,omitempty" bson:"annual_profit"`
	ProfitMargin     *float64 `json:"profit_margin,omitempty" bson:"profit_margin"`
	RevenueMultiple  *float64 `json:"revenue_multiple,omitempty" bson:"revenue_multiple"`
	ProfitMultiple   *float64 `json:"profit_multiple,omitempty" bson:"profit_multiple"`
	ReportedMultiple *float64 `json:"reported_multiple,omitempty" bson:"reported_multiple"`

	Category     string `json:"category,omitempty" bson:"category"`
	PropertyType string `json:"property_type,omitempty" bson:"property_type"`
	Monetization string `json:"monetization,omitempty" bson:"monetization"`
	SizeCategory string `json:"size_category,omitempty" bson:"size_category"`

	Verification Verification `json:"verification" bson:"verification"`

	QualityScore         int      `json:"quality_score" bson:"quality_score"`
	ExtractionConfidence float64  `json:"extraction_confidence" bson:"extraction_confidence"`
	LowConfidence        bool     `json:"low_confidence" bson:"low_confidence"`
	Warnings             []string `json:"warnings,omitempty" bson:"warnings"`

	RawSource   string    `json:"raw_source,omitempty" bson:"raw_source"`
	FirstSeenAt time.Time `json:"first_seen_at" bson:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" bson:"last_seen_at"`
}

// Warn records a consistency warning without rejecting the listing.
func (l *Listing) Warn(format string, args ...any) {
	l.Warnings = append(l.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks the constraints the stores enforce. It returns the first
// violation found.
func (l *Listing) Validate() error {
	if l.ExternalID == "" {
		return fmt.Errorf("external_id is required")
	}
	checks := []struct {
		name string
		v    *float64
	}{
		{"asking_price", l.AskingPrice},
		{"monthly_revenue", l.MonthlyRevenue},
		{"monthly_profit", l.MonthlyProfit},
		{"revenue_multiple", l.RevenueMultiple},
		{"profit_multiple", l.ProfitMultiple},
	}
	for _, c := range checks {
		if c.v != nil && *c.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", c.name, *c.v)
		}
	}
	if l.QualityScore < 0 || l.QualityScore > 100 {
		return fmt.Errorf("quality_score out of range: %d", l.QualityScore)
	}
	return nil
}

// Float returns a pointer to v; handy for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}

// Job is the descriptor the external dispatcher hands to a pass.
type Job struct {
	Category  string `json:"category,omitempty"`
	FirstPage int    `json:"first_page"`
	LastPage  int    `json:"last_page"` // 0 means until the source is exhausted
}
