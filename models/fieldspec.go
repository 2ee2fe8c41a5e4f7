package models

// FieldKind selects the validation predicate and coercion applied to a field.
type FieldKind string

const (
	KindNumber FieldKind = "number"
	KindString FieldKind = "string"
	KindBool   FieldKind = "bool"
	KindEnum   FieldKind = "enum"
)

// StrategyType names one extraction technique.
type StrategyType string

const (
	StrategyStructuredKey StrategyType = "structured_key"
	StrategyCSSSelector   StrategyType = "css_selector"
	StrategyLabeledText   StrategyType = "labeled_text"
	StrategyRegex         StrategyType = "regex"
	StrategyDOMProximity  StrategyType = "dom_proximity"
	StrategyReadability   StrategyType = "readability"
)

// StrategySpec configures one strategy. Which attributes matter depends on Type:
//
//	structured_key: Keys (dotted JSON paths)
//	css_selector:   Selector, optional Attr
//	labeled_text:   Labels
//	regex:          Pattern (first capture group, or whole match)
//	dom_proximity:  Labels
//	readability:    Attr ("title", "excerpt" or "text")
type StrategySpec struct {
	Type       StrategyType `yaml:"type" json:"type"`
	Keys       []string     `yaml:"keys,omitempty" json:"keys,omitempty"`
	Labels     []string     `yaml:"labels,omitempty" json:"labels,omitempty"`
	Pattern    string       `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Selector   string       `yaml:"selector,omitempty" json:"selector,omitempty"`
	Attr       string       `yaml:"attr,omitempty" json:"attr,omitempty"`
	Confidence float64      `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// FieldSpec declares a field and the ordered strategies used to extract it.
// Order encodes trust: earlier strategies are preferred.
type FieldSpec struct {
	Name       string         `yaml:"name" json:"name"`
	Kind       FieldKind      `yaml:"kind" json:"kind"`
	Min        *float64       `yaml:"min,omitempty" json:"min,omitempty"`
	Max        *float64       `yaml:"max,omitempty" json:"max,omitempty"`
	Enum       []string       `yaml:"enum,omitempty" json:"enum,omitempty"`
	MaxLength  int            `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Strategies []StrategySpec `yaml:"strategies" json:"strategies"`
	Fallback   []StrategySpec `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}
