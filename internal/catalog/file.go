package catalog

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// fileEntry is one model in a catalog override file:
//
//	models:
//	  - id: gpt-4o
//	    input: 2.50
//	    output: 10.00
//	    legacy: true
//	    legacy_tax: 0.40
//	    alternative: gpt-5.2
type fileEntry struct {
	ID            string   `koanf:"id"`
	DisplayName   string   `koanf:"display_name"`
	Input         float64  `koanf:"input"`
	Output        float64  `koanf:"output"`
	Thinking      *float64 `koanf:"thinking"`
	HasThinking   bool     `koanf:"has_thinking"`
	Legacy        bool     `koanf:"legacy"`
	LegacyTax     float64  `koanf:"legacy_tax"`
	Alternative   string   `koanf:"alternative"`
	ThinkingAlert *float64 `koanf:"thinking_alert_threshold"`
}

type fileFormat struct {
	// ReplaceDefaults drops the built-in table instead of merging into it.
	ReplaceDefaults bool        `koanf:"replace_defaults"`
	Models          []fileEntry `koanf:"models"`
}

// LoadFile builds a catalog from the built-in table merged with the models
// declared in a YAML file. An empty path yields the built-in catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load catalog file %s: %w", path, err)
	}

	var f fileFormat
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("decode catalog file %s: %w", path, err)
	}

	var specs []ModelSpec
	if !f.ReplaceDefaults {
		specs = DefaultSpecs()
	}
	for _, e := range f.Models {
		specs = append(specs, ModelSpec{
			ID:                          e.ID,
			DisplayName:                 e.DisplayName,
			CostPerMillionInput:         e.Input,
			CostPerMillionOutput:        e.Output,
			CostPerMillionThinking:      e.Thinking,
			HasThinking:                 e.HasThinking,
			IsLegacy:                    e.Legacy,
			LegacyTaxRatio:              e.LegacyTax,
			AlternativeModelID:          e.Alternative,
			ThinkingRatioAlertThreshold: e.ThinkingAlert,
		})
	}

	return New(specs)
}
