package services

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"listing-harvester/models"
	"listing-harvester/utils"
)

const (
	// multipleTolerance is how far an extracted multiple may drift from the
	// one computed from price and earnings before it is flagged.
	multipleTolerance = 0.5
	// lowConfidenceBelow marks listings whose mean field confidence is weak.
	lowConfidenceBelow = 0.5
	maxRawSource       = 64 << 10
)

var (
	// trailingIDRegexp pulls a numeric id off a slug: "saas-business-12345".
	trailingIDRegexp = regexp.MustCompile(`(?:^|[-_])(\d{3,})$`)
	// tokenIDRegexp accepts an opaque path token that carries at least one digit.
	tokenIDRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]*\d[A-Za-z0-9_-]*$`)
)

// NormalizationError means no stable external id could be determined.
type NormalizationError struct {
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Field, e.Reason)
}

// Normalizer maps extraction results onto the canonical Listing schema.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

var defaultNormalizer = NewNormalizer(utils.NewDiscardLogger())

// Normalize runs the default normalizer.
func Normalize(results []models.FieldExtractionResult, unit *models.RawContentUnit) (*models.Listing, error) {
	return defaultNormalizer.Normalize(results, unit)
}

// Normalize builds a Listing from results. Missing fields stay empty. The
// returned listing always has an ExternalID; when none can be found or
// synthesised a *NormalizationError is returned instead.
func (n *Normalizer) Normalize(results []models.FieldExtractionResult, unit *models.RawContentUnit) (*models.Listing, error) {
	l := &models.Listing{}
	var confSum float64
	var confN int

	for _, r := range results {
		if !r.Found() {
			continue
		}
		attr := lookupAttribute(r.Field)
		if attr == attrUnknown {
			n.logger.Debug("[normalizer] Unmapped field %q (mapping v%d)", r.Field, MappingVersion)
			continue
		}
		if !idAttribute(attr) {
			confSum += r.Confidence
			confN++
		}

		switch attr {
		case attrExternalID:
			l.ExternalID = utils.NormaliseText(stringValue(r.Value))
		case attrTitle:
			l.Title = utils.NormaliseText(stringValue(r.Value))
		case attrURL:
			l.URL = strings.TrimSpace(stringValue(r.Value))
		case attrDescription:
			l.Description = utils.NormaliseText(stringValue(r.Value))
		case attrAskingPrice:
			l.AskingPrice = n.money(l, r, false)
		case attrMonthlyRevenue:
			l.MonthlyRevenue = n.money(l, r, true)
		case attrMonthlyProfit:
			l.MonthlyProfit = n.money(l, r, true)
		case attrAnnualRevenue:
			l.AnnualRevenue = n.money(l, r, false)
		case attrAnnualProfit:
			l.AnnualProfit = n.money(l, r, false)
		case attrRevenueMultiple:
			l.RevenueMultiple = numberPtr(r.Value)
		case attrProfitMultiple:
			l.ProfitMultiple = numberPtr(r.Value)
		case attrMultiple:
			l.ReportedMultiple = numberPtr(r.Value)
		case attrCategory:
			l.Category = n.canonical("category", categorySynonyms, r)
		case attrPropertyType:
			l.PropertyType = n.canonical("property_type", propertyTypeSynonyms, r)
		case attrMonetization:
			l.Monetization = n.canonical("monetization", monetizationSynonyms, r)
		case attrTrafficVerified:
			l.Verification.TrafficVerified = boolValue(r.Value)
		case attrRevenueVerified:
			l.Verification.RevenueVerified = boolValue(r.Value)
		case attrManuallyVetted:
			l.Verification.ManuallyVetted = boolValue(r.Value)
		}
	}

	if l.URL == "" && unit != nil && unit.Kind == models.SourceDOM {
		l.URL = unit.URL
	}

	id, err := resolveExternalID(l.ExternalID, l.URL, unit)
	if err != nil {
		return nil, err
	}
	l.ExternalID = id

	derive(l)

	if confN > 0 {
		l.ExtractionConfidence = roundTo(confSum/float64(confN), 3)
		if l.ExtractionConfidence < lowConfidenceBelow {
			l.LowConfidence = true
		}
	}
	if unit != nil {
		l.RawSource = rawSnapshot(unit)
	}
	return l, nil
}

// money coerces a monetary result to USD. Monthly attributes quoted per year
// are divided by twelve.
func (n *Normalizer) money(l *models.Listing, r models.FieldExtractionResult, monthly bool) *float64 {
	v, ok := numberValue(r.Value)
	if !ok {
		return nil
	}
	if cur := currencyOf(r.Raw); cur != "USD" {
		rate := usdRates[cur]
		v *= rate
		l.Warn("%s converted from %s at %.2f", r.Field, cur, rate)
	}
	if monthly && isPerYear(r.Raw) {
		n.logger.Debug("[normalizer] %s quoted per year (%q), converting to monthly", r.Field, r.Raw)
		v /= 12
	}
	v = roundTo(v, 2)
	return &v
}

func (n *Normalizer) canonical(field string, table map[string]string, r models.FieldExtractionResult) string {
	raw := stringValue(r.Value)
	v, known := canonicalize(table, raw)
	if !known {
		n.logger.Debug("[normalizer] Unrecognised %s %q kept as %q", field, raw, v)
	}
	return v
}

// derive fills annual/monthly counterparts, margin, multiples and size
// category, and records consistency warnings.
func derive(l *models.Listing) {
	if l.MonthlyRevenue == nil && l.AnnualRevenue != nil {
		l.MonthlyRevenue = models.Float(roundTo(*l.AnnualRevenue/12, 2))
	}
	if l.MonthlyProfit == nil && l.AnnualProfit != nil {
		l.MonthlyProfit = models.Float(roundTo(*l.AnnualProfit/12, 2))
	}
	if l.AnnualRevenue == nil && l.MonthlyRevenue != nil {
		l.AnnualRevenue = models.Float(roundTo(*l.MonthlyRevenue*12, 2))
	}
	if l.AnnualProfit == nil && l.MonthlyProfit != nil {
		l.AnnualProfit = models.Float(roundTo(*l.MonthlyProfit*12, 2))
	}

	if l.MonthlyRevenue != nil && l.MonthlyProfit != nil {
		if *l.MonthlyProfit > *l.MonthlyRevenue {
			l.Warn("monthly profit %.2f exceeds monthly revenue %.2f", *l.MonthlyProfit, *l.MonthlyRevenue)
			l.LowConfidence = true
		}
		if *l.MonthlyRevenue > 0 {
			l.ProfitMargin = models.Float(roundTo(*l.MonthlyProfit / *l.MonthlyRevenue, 4))
		}
	}

	if l.AskingPrice != nil {
		l.SizeCategory = sizeCategory(*l.AskingPrice)
		l.RevenueMultiple = reconcileMultiple(l, "revenue", l.RevenueMultiple, *l.AskingPrice, l.AnnualRevenue)
		l.ProfitMultiple = reconcileMultiple(l, "profit", l.ProfitMultiple, *l.AskingPrice, l.AnnualProfit)
	}
	if l.ReportedMultiple != nil {
		l.Warn("ambiguous multiple %.2fx kept as reported_multiple", *l.ReportedMultiple)
	}
}

// reconcileMultiple returns the extracted multiple when present, else the one
// computed as price / annual earnings. Disagreement is a warning only.
func reconcileMultiple(l *models.Listing, kind string, extracted *float64, price float64, annual *float64) *float64 {
	if annual == nil || *annual <= 0 {
		return extracted
	}
	computed := roundTo(price / *annual, 2)
	if extracted == nil {
		return &computed
	}
	if math.Abs(*extracted-computed) > multipleTolerance {
		l.Warn("%s multiple %.2fx disagrees with computed %.2fx", kind, *extracted, computed)
	}
	return extracted
}

// resolveExternalID walks the fallback chain: extracted id, id in the URL
// path, hash of the normalized URL, hash of the payload.
func resolveExternalID(extracted, listingURL string, unit *models.RawContentUnit) (string, error) {
	if extracted != "" {
		return extracted, nil
	}
	if id := idFromURL(listingURL); id != "" {
		return id, nil
	}
	if listingURL != "" {
		return "url-" + utils.ContentHash(utils.NormalizeURL(listingURL)), nil
	}
	if unit != nil {
		if payload := payloadString(unit); payload != "" {
			return "sha-" + utils.ContentHash(payload), nil
		}
	}
	return "", &NormalizationError{Field: FieldExternalID, Reason: "no id, url or payload to derive one from"}
}

// idFromURL returns the last path segment that looks like an identifier.
func idFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if dot := strings.LastIndex(seg, "."); dot > 0 {
			seg = seg[:dot]
		}
		if m := trailingIDRegexp.FindStringSubmatch(seg); m != nil {
			return m[1]
		}
		if len(seg) >= 6 && tokenIDRegexp.MatchString(seg) {
			return seg
		}
	}
	return ""
}

func payloadString(unit *models.RawContentUnit) string {
	if len(unit.JSON) > 0 {
		b, err := json.Marshal(unit.JSON)
		if err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(unit.Text)
}

func rawSnapshot(unit *models.RawContentUnit) string {
	return utils.CutUTF8(payloadString(unit), maxRawSource)
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseNumber(t)
	}
	return 0, false
}

func numberPtr(v any) *float64 {
	f, ok := numberValue(v)
	if !ok {
		return nil
	}
	return &f
}

func boolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := parseBool(t)
		return b
	}
	return false
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
