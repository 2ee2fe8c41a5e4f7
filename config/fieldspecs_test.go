package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"listing-harvester/models"
)

const sampleSpecs = `
fields:
  - name: asking_price
    kind: number
    min: 0
    strategies:
      - type: structured_key
        keys: [price, listing.asking_price]
      - type: labeled_text
        labels: [Asking Price, Price]
  - name: category
    kind: enum
    enum: [SaaS, Ecommerce]
    strategies:
      - type: css_selector
        selector: .category
`

func TestParseFieldSpecs(t *testing.T) {
	specs, err := ParseFieldSpecs([]byte(sampleSpecs))
	if err != nil {
		t.Fatalf("ParseFieldSpecs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	price := specs[0]
	if price.Name != "asking_price" || price.Kind != models.KindNumber {
		t.Errorf("unexpected first spec: %+v", price)
	}
	if price.Min == nil || *price.Min != 0 {
		t.Errorf("min not decoded: %v", price.Min)
	}
	if len(price.Strategies) != 2 || price.Strategies[0].Type != models.StrategyStructuredKey {
		t.Errorf("strategies not decoded: %+v", price.Strategies)
	}
	if got := price.Strategies[0].Keys; len(got) != 2 || got[1] != "listing.asking_price" {
		t.Errorf("keys = %v", got)
	}
	if specs[1].Strategies[0].Selector != ".category" {
		t.Errorf("selector = %q", specs[1].Strategies[0].Selector)
	}
}

func TestParseFieldSpecsRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "fields: []", "no fields"},
		{"unnamed", "fields:\n  - kind: string\n    strategies: [{type: regex, pattern: x}]", "no name"},
		{"duplicate", "fields:\n  - name: a\n    kind: string\n    strategies: [{type: regex, pattern: x}]\n  - name: a\n    kind: string\n    strategies: [{type: regex, pattern: x}]", "duplicate"},
		{"bad kind", "fields:\n  - name: a\n    kind: date\n    strategies: [{type: regex, pattern: x}]", "unknown kind"},
		{"enum without values", "fields:\n  - name: a\n    kind: enum\n    strategies: [{type: regex, pattern: x}]", "no values"},
		{"no strategies", "fields:\n  - name: a\n    kind: string", "no strategies"},
		{"min above max", "fields:\n  - name: a\n    kind: number\n    min: 5\n    max: 1\n    strategies: [{type: regex, pattern: x}]", "min above max"},
		{"unknown key", "fields:\n  - name: a\n    kind: string\n    colour: red\n    strategies: [{type: regex, pattern: x}]", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFieldSpecs([]byte(tt.doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFieldSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	if err := os.WriteFile(path, []byte(sampleSpecs), 0o644); err != nil {
		t.Fatal(err)
	}
	specs, err := LoadFieldSpecs(path)
	if err != nil {
		t.Fatalf("LoadFieldSpecs: %v", err)
	}
	if len(specs) != 2 {
		t.Errorf("got %d specs", len(specs))
	}

	if _, err := LoadFieldSpecs(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("HARVEST_TEST_INT", "42")
	t.Setenv("HARVEST_TEST_BAD_INT", "forty")
	t.Setenv("HARVEST_TEST_BOOL", "false")
	t.Setenv("HARVEST_TEST_MS", "250")

	if got := getEnvInt("HARVEST_TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvInt("HARVEST_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d", got)
	}
	if got := getEnvBool("HARVEST_TEST_BOOL", true); got {
		t.Errorf("getEnvBool = %v", got)
	}
	if got := getEnvMs("HARVEST_TEST_MS", 0); got.Milliseconds() != 250 {
		t.Errorf("getEnvMs = %v", got)
	}
	if got := getEnv("HARVEST_TEST_UNSET", "x"); got != "x" {
		t.Errorf("getEnv fallback = %q", got)
	}
}

func TestExampleFieldSpecsParse(t *testing.T) {
	specs, err := LoadFieldSpecs("fieldspecs.example.yaml")
	if err != nil {
		t.Fatalf("example file is invalid: %v", err)
	}
	if len(specs) != 7 || specs[0].Name != "external_id" {
		t.Errorf("got %d specs, first %q", len(specs), specs[0].Name)
	}
}
