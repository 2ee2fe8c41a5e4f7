package services

import (
	"math"
	"strings"
	"testing"

	"listing-harvester/models"
)

func apiUnit(obj map[string]any) *models.RawContentUnit {
	return &models.RawContentUnit{Kind: models.SourceAPI, JSON: obj, Page: 1, Sequence: 1}
}

func domUnit(url, body string) *models.RawContentUnit {
	return &models.RawContentUnit{Kind: models.SourceDOM, Text: body, URL: url, Page: 1, Sequence: 1}
}

func resultFor(t *testing.T, results []models.FieldExtractionResult, field string) models.FieldExtractionResult {
	t.Helper()
	for _, r := range results {
		if r.Field == field {
			return r
		}
	}
	t.Fatalf("no result for field %q", field)
	return models.FieldExtractionResult{}
}

func defaultExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultFieldSpecs())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

const contentSitePage = `<html><head><title>Content Site | Market</title></head><body>
<h1>Content Site</h1>
<div class="listing-category">Content</div>
<dl>
  <dt>Asking Price</dt><dd>$120,000</dd>
  <dt>Monthly Profit</dt><dd>$3,000</dd>
  <dt>Monetization</dt><dd>Display Ads</dd>
</dl>
<p>Revenue verified</p>
</body></html>`

func TestExtractAPIUnit(t *testing.T) {
	unit := apiUnit(map[string]any{
		"price":          "$25,000",
		"monthly_profit": "$1,200/mo",
		"title":          "SaaS Business",
	})
	results := defaultExtractor(t).Extract(unit, ModePrimary)

	if len(results) != len(DefaultFieldSpecs()) {
		t.Fatalf("got %d results, want one per field", len(results))
	}

	price := resultFor(t, results, FieldAskingPrice)
	if price.Value != 25000.0 || price.Confidence != 0.95 || price.Strategy != "structured_key" {
		t.Errorf("asking_price = %+v", price)
	}
	profit := resultFor(t, results, FieldMonthlyProfit)
	if profit.Value != 1200.0 || profit.Raw != "$1,200/mo" {
		t.Errorf("monthly_profit = %+v", profit)
	}
	if title := resultFor(t, results, FieldTitle); title.Value != "SaaS Business" {
		t.Errorf("title = %+v", title)
	}
	if rev := resultFor(t, results, FieldMonthlyRevenue); rev.Found() || rev.Confidence != 0 {
		t.Errorf("monthly_revenue should be missing, got %+v", rev)
	}
}

func TestExtractDOMUnit(t *testing.T) {
	unit := domUnit("https://market.test/listing/content-site-48213", contentSitePage)
	results := defaultExtractor(t).Extract(unit, ModePrimary)

	tests := []struct {
		field    string
		value    any
		strategy string
	}{
		{FieldTitle, "Content Site", "css_selector"},
		{FieldCategory, "Content", "css_selector"},
		{FieldAskingPrice, 120000.0, "labeled_text"},
		{FieldMonthlyProfit, 3000.0, "labeled_text"},
		{FieldMonetization, "Display Ads", "labeled_text"},
		{FieldRevenueVerified, true, "regex"},
	}
	for _, tt := range tests {
		r := resultFor(t, results, tt.field)
		if r.Value != tt.value {
			t.Errorf("%s = %v (%T), want %v", tt.field, r.Value, r.Value, tt.value)
		}
		if r.Strategy != tt.strategy {
			t.Errorf("%s strategy = %q, want %q", tt.field, r.Strategy, tt.strategy)
		}
	}
}

func TestExtractEarlierStrategyWins(t *testing.T) {
	unit := domUnit("", `<html><body>
		<span class="asking-price">$90,000</span>
		<p>Asking Price: $10</p>
	</body></html>`)
	r := resultFor(t, defaultExtractor(t).Extract(unit, ModePrimary), FieldAskingPrice)
	if r.Value != 90000.0 || r.Confidence != 0.85 {
		t.Errorf("asking_price = %+v, want css match", r)
	}
}

func TestExtractRejectsOutOfDomain(t *testing.T) {
	unit := apiUnit(map[string]any{"price": "$0", "asking_price": "n/a", "multiple": "450x"})
	results := defaultExtractor(t).Extract(unit, ModePrimary)
	if r := resultFor(t, results, FieldAskingPrice); r.Found() {
		t.Errorf("asking_price should be rejected, got %+v", r)
	}
	if r := resultFor(t, results, FieldMultiple); r.Found() {
		t.Errorf("multiple above max should be rejected, got %+v", r)
	}
}

func TestExtractZeroFields(t *testing.T) {
	unit := domUnit("", `<html><body><p>Nothing to see here.</p></body></html>`)
	results := defaultExtractor(t).Extract(unit, ModePrimary)
	if n := contentHits(results); n != 0 {
		t.Errorf("contentHits = %d, want 0", n)
	}
	for _, r := range results {
		if r.Found() {
			t.Errorf("%s unexpectedly found: %+v", r.Field, r)
		}
	}
}

func TestExtractFallbackMode(t *testing.T) {
	specs := []models.FieldSpec{{
		Name: "seller_rating",
		Kind: models.KindNumber,
		Strategies: []models.StrategySpec{
			{Type: models.StrategyCSSSelector, Selector: ".rating"},
		},
	}}
	e, err := NewExtractor(specs)
	if err != nil {
		t.Fatal(err)
	}
	unit := domUnit("", `<html><body><p>Seller Rating: 4</p></body></html>`)

	if r := e.Extract(unit, ModePrimary)[0]; r.Found() {
		t.Fatalf("primary mode should miss, got %+v", r)
	}
	r := e.Extract(unit, ModeFallback)[0]
	if r.Value != 4.0 {
		t.Fatalf("fallback value = %v", r.Value)
	}
	if !strings.HasPrefix(r.Strategy, "fallback:") {
		t.Errorf("strategy = %q, want fallback prefix", r.Strategy)
	}
	if want := 0.75 * genericConfidenceFactor; math.Abs(r.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", r.Confidence, want)
	}
}

func TestNewExtractorRejectsBadSpecs(t *testing.T) {
	good := models.StrategySpec{Type: models.StrategyRegex, Pattern: `x`}
	tests := []struct {
		name  string
		specs []models.FieldSpec
	}{
		{"empty", nil},
		{"unnamed", []models.FieldSpec{{Strategies: []models.StrategySpec{good}}}},
		{"duplicate", []models.FieldSpec{
			{Name: "a", Strategies: []models.StrategySpec{good}},
			{Name: "a", Strategies: []models.StrategySpec{good}},
		}},
		{"unknown kind", []models.FieldSpec{{Name: "a", Kind: "date", Strategies: []models.StrategySpec{good}}}},
		{"no strategies", []models.FieldSpec{{Name: "a"}}},
		{"bad regex", []models.FieldSpec{{Name: "a", Strategies: []models.StrategySpec{
			{Type: models.StrategyRegex, Pattern: `(`},
		}}}},
		{"bad selector", []models.FieldSpec{{Name: "a", Strategies: []models.StrategySpec{
			{Type: models.StrategyCSSSelector, Selector: `[[`},
		}}}},
		{"confidence out of range", []models.FieldSpec{{Name: "a", Strategies: []models.StrategySpec{
			{Type: models.StrategyRegex, Pattern: `x`, Confidence: 1.5},
		}}}},
		{"unknown strategy", []models.FieldSpec{{Name: "a", Strategies: []models.StrategySpec{
			{Type: "telepathy"},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewExtractor(tt.specs); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"$25,000", 25000, true},
		{"$1,200/mo", 1200, true},
		{"$1.2k", 1200, true},
		{"USD 3.5 million", 3500000, true},
		{"4.2x", 4.2, true},
		{"-$50", -50, true},
		{"call us", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumber(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseNumber(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsPerYear(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"$24,000/yr", true},
		{"$24,000 per year", true},
		{"$2,000/mo", false},
		{"$2,000", false},
	}
	for _, tt := range tests {
		if got := isPerYear(tt.raw); got != tt.want {
			t.Errorf("isPerYear(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestCurrencyOf(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"€10,000", "EUR"},
		{"EUR 10,000", "EUR"},
		{"10,000eur", "EUR"},
		{"10,000 euros", "EUR"},
		{"£1,000", "GBP"},
		{"GBP 1,000", "GBP"},
		{"$10,000", "USD"},
		{"$10,000 (Europe based)", "USD"},
		{"$4,000 neuro niche", "USD"},
	}
	for _, tt := range tests {
		if got := currencyOf(tt.raw); got != tt.want {
			t.Errorf("currencyOf(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestExtractOneShot(t *testing.T) {
	results, err := Extract(apiUnit(map[string]any{"title": "Quick"}), DefaultFieldSpecs())
	if err != nil {
		t.Fatal(err)
	}
	if r := resultFor(t, results, FieldTitle); r.Value != "Quick" {
		t.Errorf("title = %+v", r)
	}
	if _, err := Extract(apiUnit(nil), nil); err == nil {
		t.Error("expected error for empty spec table")
	}
}
