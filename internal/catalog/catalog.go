// Package catalog holds the model pricing table used to price usage rows.
// A Catalog is built once at startup and never mutated; it is passed
// explicitly to the parser, the recommendation rules and the scorer.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrInvalidSpec = errors.New("invalid model spec")
)

// snapshotSuffix matches the date OpenAI appends to pinned snapshots:
// gpt-4o-2024-08-06, gpt-4-0613.
var snapshotSuffix = regexp.MustCompile(`-(\d{4}-\d{2}-\d{2}|\d{4})$`)

// ModelSpec describes pricing and audit policy for one model.
type ModelSpec struct {
	ID                          string   `json:"id"`
	DisplayName                 string   `json:"display_name"`
	CostPerMillionInput         float64  `json:"cost_per_million_input"`
	CostPerMillionOutput        float64  `json:"cost_per_million_output"`
	CostPerMillionThinking      *float64 `json:"cost_per_million_thinking,omitempty"`
	HasThinking                 bool     `json:"has_thinking"`
	IsLegacy                    bool     `json:"is_legacy"`
	LegacyTaxRatio              float64  `json:"legacy_tax_ratio"`
	AlternativeModelID          string   `json:"alternative_model_id,omitempty"`
	ThinkingRatioAlertThreshold *float64 `json:"thinking_ratio_alert_threshold,omitempty"`
}

// Breakdown is the cost of one usage line split by token direction.
type Breakdown struct {
	InputCost    float64
	OutputCost   float64
	ThinkingCost float64
}

// Total is the sum of the three directions.
func (b Breakdown) Total() float64 {
	return b.InputCost + b.OutputCost + b.ThinkingCost
}

// Catalog is a read-only set of model entries keyed by normalized id.
type Catalog struct {
	specs map[string]ModelSpec
}

// New validates specs and builds a catalog keyed by normalized model id.
// Later entries with the same id replace earlier ones.
func New(specs []ModelSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]ModelSpec, len(specs))}
	for _, s := range specs {
		id := NormalizeID(s.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: empty model id", ErrInvalidSpec)
		}
		if s.HasThinking && s.CostPerMillionThinking == nil {
			return nil, fmt.Errorf("%w: %s has thinking but no thinking rate", ErrInvalidSpec, id)
		}
		if s.CostPerMillionInput < 0 || s.CostPerMillionOutput < 0 {
			return nil, fmt.Errorf("%w: %s has a negative rate", ErrInvalidSpec, id)
		}
		if s.LegacyTaxRatio < 0 {
			return nil, fmt.Errorf("%w: %s has a negative legacy tax ratio", ErrInvalidSpec, id)
		}
		s.ID = id
		s.AlternativeModelID = NormalizeID(s.AlternativeModelID)
		if s.DisplayName == "" {
			s.DisplayName = id
		}
		c.specs[id] = s
	}
	return c, nil
}

// NormalizeID lower-cases and trims a model identifier.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Lookup finds the entry for a model id, ignoring case and surrounding
// space. A dated snapshot id that is not listed itself resolves to its base
// model, so gpt-4o-2024-08-06 is priced as gpt-4o.
func (c *Catalog) Lookup(id string) (ModelSpec, bool) {
	if c == nil {
		return ModelSpec{}, false
	}
	id = NormalizeID(id)
	if s, ok := c.specs[id]; ok {
		return s, true
	}
	if base := snapshotSuffix.ReplaceAllString(id, ""); base != id {
		s, ok := c.specs[base]
		return s, ok
	}
	return ModelSpec{}, false
}

// Alternative returns the pricing entry of the suggested replacement model, if the
// model has one and it is itself in the catalog.
func (c *Catalog) Alternative(id string) (ModelSpec, bool) {
	s, ok := c.Lookup(id)
	if !ok || s.AlternativeModelID == "" {
		return ModelSpec{}, false
	}
	return c.Lookup(s.AlternativeModelID)
}

// DisplayName returns the catalog name of a model, or id itself when the
// model is not listed.
func (c *Catalog) DisplayName(id string) string {
	if s, ok := c.Lookup(id); ok {
		return s.DisplayName
	}
	return id
}

// Models returns all specs sorted by id.
func (c *Catalog) Models() []ModelSpec {
	out := make([]ModelSpec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of models in the catalog.
func (c *Catalog) Len() int {
	return len(c.specs)
}

// Cost prices token counts at the model's per-million rates. Thinking tokens
// are only billed for models that have a thinking rate.
func Cost(spec ModelSpec, inputTokens, outputTokens, thinkingTokens int64) Breakdown {
	b := Breakdown{
		InputCost:  float64(inputTokens) / 1_000_000 * spec.CostPerMillionInput,
		OutputCost: float64(outputTokens) / 1_000_000 * spec.CostPerMillionOutput,
	}
	if spec.HasThinking && spec.CostPerMillionThinking != nil {
		b.ThinkingCost = float64(thinkingTokens) / 1_000_000 * *spec.CostPerMillionThinking
	}
	return b
}

// Rate is a helper for building optional rates in ModelSpec literals.
func Rate(v float64) *float64 {
	return &v
}
