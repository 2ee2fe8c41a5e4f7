package services

import (
	"fmt"
	"strings"

	"listing-harvester/models"
)

// ExtractMode selects which strategy set the extractor runs.
type ExtractMode int

const (
	// ModePrimary runs each field's declared strategies.
	ModePrimary ExtractMode = iota
	// ModeFallback appends the declared fallbacks plus generic label and
	// proximity heuristics derived from the field name. The healer switches
	// to it after a structural mismatch.
	ModeFallback
)

func (m ExtractMode) String() string {
	if m == ModeFallback {
		return "fallback"
	}
	return "primary"
}

// genericConfidenceFactor discounts heuristics synthesised from field names.
const genericConfidenceFactor = 0.8

type compiledField struct {
	spec     models.FieldSpec
	primary  []strategy
	fallback []strategy
}

// Extractor applies a compiled FieldSpec table to content units. It holds no
// mutable state and is safe for concurrent use.
type Extractor struct {
	fields []compiledField
}

// NewExtractor compiles specs. Malformed specs are programmer errors and are
// the only thing this package reports as an extraction error.
func NewExtractor(specs []models.FieldSpec) (*Extractor, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("extractor: no field specs")
	}
	seen := make(map[string]struct{}, len(specs))
	e := &Extractor{fields: make([]compiledField, 0, len(specs))}

	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("extractor: spec %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("extractor: duplicate field %q", name)
		}
		seen[name] = struct{}{}

		switch spec.Kind {
		case models.KindNumber, models.KindString, models.KindBool, models.KindEnum:
		case "":
			spec.Kind = models.KindString
		default:
			return nil, fmt.Errorf("extractor: field %q has unknown kind %q", name, spec.Kind)
		}
		if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
			return nil, fmt.Errorf("extractor: field %q has min > max", name)
		}
		if len(spec.Strategies) == 0 {
			return nil, fmt.Errorf("extractor: field %q declares no strategies", name)
		}
		spec.Name = name

		cf := compiledField{spec: spec}
		for _, ss := range spec.Strategies {
			st, err := compileStrategy(name, ss)
			if err != nil {
				return nil, fmt.Errorf("extractor: %w", err)
			}
			cf.primary = append(cf.primary, st)
		}
		for _, ss := range spec.Fallback {
			st, err := compileStrategy(name, ss)
			if err != nil {
				return nil, fmt.Errorf("extractor: fallback: %w", err)
			}
			cf.fallback = append(cf.fallback, st)
		}
		cf.fallback = append(cf.fallback, genericStrategies(name)...)
		e.fields = append(e.fields, cf)
	}
	return e, nil
}

// Extract compiles specs and runs them once over unit.
func Extract(unit *models.RawContentUnit, specs []models.FieldSpec) ([]models.FieldExtractionResult, error) {
	e, err := NewExtractor(specs)
	if err != nil {
		return nil, err
	}
	return e.Extract(unit, ModePrimary), nil
}

// Fields returns the field names in declaration order.
func (e *Extractor) Fields() []string {
	names := make([]string, len(e.fields))
	for i, f := range e.fields {
		names[i] = f.spec.Name
	}
	return names
}

// Extract returns one result per declared field, in declaration order. For
// each field the strategies are tried in order and the first candidate that
// passes the field's validation wins. Fields nothing matched come back with a
// nil value and zero confidence.
func (e *Extractor) Extract(unit *models.RawContentUnit, mode ExtractMode) []models.FieldExtractionResult {
	doc := newDocument(unit)
	results := make([]models.FieldExtractionResult, 0, len(e.fields))

	for i := range e.fields {
		f := &e.fields[i]
		res := models.FieldExtractionResult{Field: f.spec.Name}

		strategies := f.primary
		if mode == ModeFallback {
			strategies = append(append([]strategy(nil), f.primary...), f.fallback...)
		}

	strategyLoop:
		for si, st := range strategies {
			for _, raw := range st.candidates(doc) {
				v, ok := coerce(&f.spec, raw)
				if !ok {
					continue
				}
				res.Raw = strings.TrimSpace(raw)
				res.Value = v
				res.Confidence = st.confidence()
				res.Strategy = st.name()
				if si >= len(f.primary) {
					res.Strategy = "fallback:" + res.Strategy
				}
				break strategyLoop
			}
		}
		results = append(results, res)
	}
	return results
}

// genericStrategies derives label-based heuristics from a field name such as
// "monthly_profit" → "Monthly Profit".
func genericStrategies(field string) []strategy {
	label := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(field)
	return []strategy{
		&structuredKey{keys: []string{field}, conf: defaultConfidence[models.StrategyStructuredKey] * genericConfidenceFactor},
		newLabeledText([]string{label}, defaultConfidence[models.StrategyLabeledText]*genericConfidenceFactor),
		&domProximity{labels: []string{label}, conf: defaultConfidence[models.StrategyDOMProximity] * genericConfidenceFactor},
	}
}
