package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"listing-harvester/models"
)

// FieldSpecFile is the on-disk layout of a field specification override.
type FieldSpecFile struct {
	Fields []models.FieldSpec `yaml:"fields"`
}

// LoadFieldSpecs reads field specifications from a YAML file. Field names
// must be unique and every field needs at least one strategy.
func LoadFieldSpecs(path string) ([]models.FieldSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field specs: %w", err)
	}
	return ParseFieldSpecs(data)
}

// ParseFieldSpecs decodes and checks a YAML field specification document.
func ParseFieldSpecs(data []byte) ([]models.FieldSpec, error) {
	var file FieldSpecFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("parse field specs: %w", err)
	}
	if len(file.Fields) == 0 {
		return nil, fmt.Errorf("field specs: no fields declared")
	}

	seen := make(map[string]bool, len(file.Fields))
	for i, f := range file.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field specs: field %d has no name", i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("field specs: duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		switch f.Kind {
		case models.KindNumber, models.KindString, models.KindBool:
		case models.KindEnum:
			if len(f.Enum) == 0 {
				return nil, fmt.Errorf("field specs: enum field %q has no values", f.Name)
			}
		default:
			return nil, fmt.Errorf("field specs: field %q has unknown kind %q", f.Name, f.Kind)
		}
		if len(f.Strategies) == 0 {
			return nil, fmt.Errorf("field specs: field %q has no strategies", f.Name)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return nil, fmt.Errorf("field specs: field %q has min above max", f.Name)
		}
	}
	return file.Fields, nil
}
