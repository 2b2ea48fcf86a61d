package catalog

// defaultSpecs is the built-in pricing table (USD per million tokens).
// Deploys override or extend it with LoadFile.
var defaultSpecs = []ModelSpec{
	// Current standard models
	{ID: "gpt-5.2", DisplayName: "GPT-5.2", CostPerMillionInput: 1.75, CostPerMillionOutput: 14.00},
	{ID: "gpt-5-mini", DisplayName: "GPT-5 mini", CostPerMillionInput: 0.25, CostPerMillionOutput: 1.00},
	{ID: "gpt-5-nano", DisplayName: "GPT-5 nano", CostPerMillionInput: 0.05, CostPerMillionOutput: 0.40},
	{ID: "gpt-5-pro", DisplayName: "GPT-5 Pro", CostPerMillionInput: 15.00, CostPerMillionOutput: 120.00, AlternativeModelID: "gpt-5.2"},
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", CostPerMillionInput: 0.15, CostPerMillionOutput: 0.60, AlternativeModelID: "gpt-5-nano"},

	// Legacy models priced above their modern replacement
	{ID: "gpt-4o", DisplayName: "GPT-4o", CostPerMillionInput: 2.50, CostPerMillionOutput: 10.00, IsLegacy: true, LegacyTaxRatio: 0.40, AlternativeModelID: "gpt-5.2"},
	{ID: "gpt-4-turbo", DisplayName: "GPT-4 Turbo", CostPerMillionInput: 10.00, CostPerMillionOutput: 30.00, IsLegacy: true, LegacyTaxRatio: 0.60, AlternativeModelID: "gpt-5.2"},
	{ID: "gpt-4", DisplayName: "GPT-4", CostPerMillionInput: 30.00, CostPerMillionOutput: 60.00, IsLegacy: true, LegacyTaxRatio: 0.80, AlternativeModelID: "gpt-5.2"},
	{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", CostPerMillionInput: 0.50, CostPerMillionOutput: 1.50, IsLegacy: true, LegacyTaxRatio: 0.50, AlternativeModelID: "gpt-5-mini"},

	// Reasoning models: thinking tokens are billed but never shown
	{ID: "gpt-5-thinking", DisplayName: "GPT-5 Thinking", CostPerMillionInput: 5.00, CostPerMillionOutput: 20.00, CostPerMillionThinking: Rate(20.00), HasThinking: true, ThinkingRatioAlertThreshold: Rate(3.0), AlternativeModelID: "gpt-5.2"},
	{ID: "gpt-5.3-codex", DisplayName: "GPT-5.3 Codex", CostPerMillionInput: 1.75, CostPerMillionOutput: 14.00, CostPerMillionThinking: Rate(8.00), HasThinking: true, ThinkingRatioAlertThreshold: Rate(5.0), AlternativeModelID: "gpt-5.2"},
	{ID: "o3", DisplayName: "o3", CostPerMillionInput: 10.00, CostPerMillionOutput: 40.00, CostPerMillionThinking: Rate(40.00), HasThinking: true, ThinkingRatioAlertThreshold: Rate(2.0), AlternativeModelID: "gpt-5-thinking"},
	{ID: "o1", DisplayName: "o1", CostPerMillionInput: 15.00, CostPerMillionOutput: 60.00, CostPerMillionThinking: Rate(60.00), HasThinking: true, ThinkingRatioAlertThreshold: Rate(2.0), AlternativeModelID: "o3"},
}

// DefaultSpecs returns a copy of the built-in table.
func DefaultSpecs() []ModelSpec {
	out := make([]ModelSpec, len(defaultSpecs))
	copy(out, defaultSpecs)
	return out
}

// Default returns a catalog built from the built-in table.
func Default() *Catalog {
	c, err := New(defaultSpecs)
	if err != nil {
		panic("catalog: invalid built-in table: " + err.Error())
	}
	return c
}
