package services

import (
	"regexp"
	"strconv"
	"strings"

	"listing-harvester/models"
	"listing-harvester/utils"
)

const (
	// maxMoney bounds any money field without an explicit max; anything at or
	// above it is almost always a mis-match (phone numbers, ids, dates).
	maxMoney        = 50_000_000
	defaultMaxChars = 500
)

var (
	// numberRegexp captures an optionally signed, optionally currency-prefixed
	// number with thousands separators and a magnitude suffix.
	numberRegexp = regexp.MustCompile(`(?i)(-)?\s*(?:us\$|usd|eur|gbp|[$€£])?\s*(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?\s*(million|thousand|mm|k|m|x)?(?:[^a-z0-9]|$)`)
	// perYearRegexp recognises figures quoted per year rather than per month.
	perYearRegexp = regexp.MustCompile(`(?i)(/\s*(?:yr|year|annum)\b|per\s+(?:year|annum)\b|\bannual(?:ly)?\b|\byearly\b|\bp\.?a\.?(?:\s|$))`)
	// perMonthRegexp recognises figures explicitly quoted per month.
	perMonthRegexp = regexp.MustCompile(`(?i)(/\s*mo(?:nth)?\b|per\s+month\b|\bmonthly\b|\bp/?m\b)`)
	// eurRegexp and gbpRegexp match currency codes as standalone tokens, so
	// "10,000eur" counts and "Europe" does not.
	eurRegexp = regexp.MustCompile(`(?i)(?:^|[^a-z])eur(?:os?)?(?:[^a-z]|$)`)
	gbpRegexp = regexp.MustCompile(`(?i)(?:^|[^a-z])gbp(?:[^a-z]|$)`)

	placeholders = map[string]struct{}{
		"n/a": {}, "na": {}, "-": {}, "--": {}, "null": {}, "undefined": {}, "none": {}, "tbd": {},
	}
)

// parseNumber extracts the first number in raw, honouring thousands
// separators and k/m suffixes. "$25,000" → 25000, "$1.2k/mo" → 1200.
func parseNumber(raw string) (float64, bool) {
	m := numberRegexp.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	digits := strings.ReplaceAll(m[2], ",", "") + m[3]
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[4]) {
	case "k", "thousand":
		v *= 1_000
	case "m", "mm", "million":
		v *= 1_000_000
	}
	if m[1] == "-" {
		v = -v
	}
	return v, true
}

// parseBool understands the yes/no vocabulary marketplaces use for badges.
func parseBool(raw string) (bool, bool) {
	s := utils.FoldKey(raw)
	switch s {
	case "true", "yes", "y", "1", "✓", "✔":
		return true, true
	case "false", "no", "n", "0", "✗", "✘":
		return false, true
	}
	switch {
	case strings.Contains(s, "unverified"), strings.Contains(s, "not verified"), strings.Contains(s, "not vetted"):
		return false, true
	case strings.Contains(s, "verified"), strings.Contains(s, "vetted"), strings.Contains(s, "confirmed"):
		return true, true
	}
	return false, false
}

// isPerYear reports whether raw quotes an annual figure.
func isPerYear(raw string) bool {
	return perYearRegexp.MatchString(raw) && !perMonthRegexp.MatchString(raw)
}

// currencyOf returns the ISO code hinted by raw, defaulting to USD.
func currencyOf(raw string) string {
	switch {
	case strings.Contains(raw, "€"), eurRegexp.MatchString(raw):
		return "EUR"
	case strings.Contains(raw, "£"), gbpRegexp.MatchString(raw):
		return "GBP"
	}
	return "USD"
}

// coerce validates raw against the field's predicate and returns the typed value.
func coerce(spec *models.FieldSpec, raw string) (any, bool) {
	raw = utils.NormaliseText(raw)
	if raw == "" {
		return nil, false
	}
	if _, ok := placeholders[strings.ToLower(raw)]; ok {
		return nil, false
	}

	switch spec.Kind {
	case models.KindNumber:
		v, ok := parseNumber(raw)
		if !ok || !inDomain(spec, v) {
			return nil, false
		}
		return v, true

	case models.KindBool:
		v, ok := parseBool(raw)
		if !ok {
			return nil, false
		}
		return v, true

	case models.KindEnum:
		if len(spec.Enum) == 0 {
			if len(raw) > 60 {
				return nil, false
			}
			return raw, true
		}
		key := utils.FoldKey(raw)
		for _, e := range spec.Enum {
			if utils.FoldKey(e) == key {
				return e, true
			}
		}
		return nil, false

	default:
		max := spec.MaxLength
		if max <= 0 {
			max = defaultMaxChars
		}
		if len(raw) > max {
			return nil, false
		}
		return raw, true
	}
}

// inDomain applies the field's range: (0, 50M) unless Min/Max say otherwise.
func inDomain(spec *models.FieldSpec, v float64) bool {
	if spec.Min != nil {
		if v < *spec.Min {
			return false
		}
	} else if v <= 0 {
		return false
	}
	if spec.Max != nil {
		return v <= *spec.Max
	}
	return v < maxMoney
}
