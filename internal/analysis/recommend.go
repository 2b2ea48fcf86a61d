package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

// Rule identifiers. Per-row findings append "-<row index>" and legacy
// findings append "-<model id>".
const (
	RuleSmallGPT4        = "switch-small-gpt4"
	RuleBatching         = "batch-requests"
	RuleCaching          = "cache-prompts"
	RuleDiversify        = "diversify-models"
	RuleThinkingOverkill = "thinking-overkill"
	RuleSledgehammer     = "sledgehammer"
	RuleReasoningAudit   = "reasoning-model-audit"
	RuleLegacyModel      = "legacy-model"
	RuleResearchTier     = "downgrade-gpt5-pro"
)

// Policy thresholds.
const (
	gpt4Family = "gpt-4"

	smallRequestTokens    = 1000
	smallGPT4MinRows      = 100
	smallGPT4SavingsShare = 0.9

	batchingMinRowsPerHour = 50

	cacheBucketWidth        = 200
	cacheBucketMinRows      = 20
	cacheMinRepeatedBuckets = 5

	diversifyMaxShare = 0.7

	sledgehammerMaxOutput   = 500
	sledgehammerMinThinking = 1000
	reasoningAuditMinCost   = 0.01

	researchTierModel        = "gpt-5-pro"
	researchTierSavingsShare = 0.9
)

type rule func(rows []domain.UsageRow, cat *catalog.Catalog) []domain.Recommendation

// rules run in this order and their output is concatenated.
var rules = []rule{
	smallGPT4Rule,
	batchingRule,
	cachingRule,
	diversifyRule,
	reasoningRule,
	legacyModelRule,
	researchTierRule,
}

// Recommend runs every rule over rows. The output depends only on the rows,
// their order and the catalog.
func Recommend(rows []domain.UsageRow, cat *catalog.Catalog) []domain.Recommendation {
	out := []domain.Recommendation{}
	for _, r := range rules {
		out = append(out, r(rows, cat)...)
	}
	return out
}

// RuleOf maps a recommendation id back to the rule that produced it.
func RuleOf(id string) string {
	for _, r := range []string{RuleThinkingOverkill, RuleSledgehammer, RuleLegacyModel} {
		if strings.HasPrefix(id, r+"-") {
			return r
		}
	}
	return id
}

func snippet(s string) *string {
	return &s
}

func smallGPT4Rule(rows []domain.UsageRow, _ *catalog.Catalog) []domain.Recommendation {
	var count int
	var spend float64
	for _, row := range rows {
		if strings.Contains(row.ModelID, gpt4Family) && row.TotalTokens() < smallRequestTokens {
			count++
			spend += row.TotalCost
		}
	}
	if count <= smallGPT4MinRows {
		return nil
	}

	return []domain.Recommendation{{
		ID:          RuleSmallGPT4,
		Severity:    domain.SeverityHigh,
		Title:       "Switch small GPT-4 calls to a lighter model",
		Description: fmt.Sprintf("You have %d requests under %d tokens using a GPT-4 family model.", count, smallRequestTokens),
		Impact:      fmt.Sprintf("Save ~%s/month", usd(spend*smallGPT4SavingsShare)),
		Action:      "Route requests under 1000 tokens to gpt-5-mini",
		CodeSnippet: snippet("if estimated_tokens < 1000:\n    model = \"gpt-5-mini\""),
	}}
}

func batchingRule(rows []domain.UsageRow, _ *catalog.Catalog) []domain.Recommendation {
	perHour := make(map[string]int)
	for _, row := range rows {
		// YYYY-MM-DDTHH
		if len(row.Timestamp) < 13 {
			continue
		}
		perHour[row.Timestamp[:13]]++
	}

	var busyHours int
	for _, n := range perHour {
		if n > batchingMinRowsPerHour {
			busyHours++
		}
	}
	if busyHours == 0 {
		return nil
	}

	return []domain.Recommendation{{
		ID:          RuleBatching,
		Severity:    domain.SeverityMedium,
		Title:       "Implement request batching",
		Description: fmt.Sprintf("Found %d hours with more than %d individual requests.", busyHours, batchingMinRowsPerHour),
		Impact:      "Reduce API calls by ~40% and qualify for Batch API pricing",
		Action:      "Buffer non-interactive requests and send them every 5 seconds or 100 items, or move them to the Batch API",
		CodeSnippet: snippet("batch.append(request)\nif len(batch) >= 100 or elapsed() > 5:\n    flush(batch)"),
	}}
}

type cacheBucket struct {
	model string
	size  int64
}

func cachingRule(rows []domain.UsageRow, _ *catalog.Catalog) []domain.Recommendation {
	buckets := make(map[cacheBucket]int)
	for _, row := range rows {
		buckets[cacheBucket{model: row.ModelID, size: row.TotalTokens() / cacheBucketWidth}]++
	}

	var repeated, repeatedRows int
	for _, n := range buckets {
		if n > cacheBucketMinRows {
			repeated++
			repeatedRows += n
		}
	}
	if repeated <= cacheMinRepeatedBuckets {
		return nil
	}

	return []domain.Recommendation{{
		ID:          RuleCaching,
		Severity:    domain.SeverityMedium,
		Title:       "Cache repeated prompts",
		Description: fmt.Sprintf("Many requests share a model and token size. %d requests may be cacheable.", repeatedRows),
		Impact:      "Reduce latency and cost for duplicate prompts",
		Action:      "Cache responses keyed by model and prompt hash; reuse them for identical inputs",
		CodeSnippet: snippet("key = f\"{model}:{sha256(prompt)}\"\nif (hit := cache.get(key)) is not None:\n    return hit"),
	}}
}

func diversifyRule(rows []domain.UsageRow, _ *catalog.Catalog) []domain.Recommendation {
	var total, gpt4 float64
	for _, row := range rows {
		total += row.TotalCost
		if strings.Contains(row.ModelID, gpt4Family) {
			gpt4 += row.TotalCost
		}
	}
	if total <= 0 || gpt4/total <= diversifyMaxShare {
		return nil
	}

	return []domain.Recommendation{{
		ID:          RuleDiversify,
		Severity:    domain.SeverityMedium,
		Title:       "Diversify model usage",
		Description: fmt.Sprintf("%s of spend is on GPT-4 family models. Consider lighter models for non-critical tasks.", percent(gpt4/total)),
		Impact:      "Potential 30-50% cost reduction",
		Action:      "Audit use cases and map them to gpt-5-mini or gpt-5-nano where appropriate",
	}}
}

// reasoningRule emits per-row findings for reasoning models followed by one
// summary when the hidden thinking cost is material.
func reasoningRule(rows []domain.UsageRow, cat *catalog.Catalog) []domain.Recommendation {
	var out []domain.Recommendation
	var reasoningRows int
	var total, thinkingCost float64

	for i, row := range rows {
		total += row.TotalCost
		if !row.IsReasoningModel {
			continue
		}
		reasoningRows++
		thinkingCost += row.ThinkingCost

		ratio := float64(row.ThinkingTokens) / float64(max(row.OutputTokens, 1))
		spec, _ := cat.Lookup(row.ModelID)

		if t := spec.ThinkingRatioAlertThreshold; t != nil && ratio > *t {
			out = append(out, domain.Recommendation{
				ID:       fmt.Sprintf("%s-%d", RuleThinkingOverkill, i),
				Severity: domain.SeverityHigh,
				Title:    "Thinking Overkill Detected",
				Description: fmt.Sprintf("%s spent %.1fx more tokens thinking than answering (alert threshold %.1fx).",
					spec.DisplayName, ratio, *t),
				Impact: fmt.Sprintf("Thinking cost: %s (%s of this request)", usd(row.ThinkingCost), percent(share(row.ThinkingCost, row.TotalCost))),
				Action: fmt.Sprintf("Route straightforward tasks to %s. Reserve reasoning models for multi-step problems.", alternativeName(cat, spec)),
			})
		}

		if row.OutputTokens < sledgehammerMaxOutput && row.ThinkingTokens > sledgehammerMinThinking {
			out = append(out, domain.Recommendation{
				ID:          fmt.Sprintf("%s-%d", RuleSledgehammer, i),
				Severity:    domain.SeverityCritical,
				Title:       "Sledgehammer for a Nail",
				Description: fmt.Sprintf("A short answer (%d tokens) required %d tokens of reasoning.", row.OutputTokens, row.ThinkingTokens),
				Impact:      fmt.Sprintf("You paid %s of thinking for a short answer.", usd(row.ThinkingCost)),
				Action:      "Route simple Q&A to gpt-5-mini. Use reasoning models only for coding, math or multi-step logic.",
			})
		}
	}

	if reasoningRows > 0 && thinkingCost > reasoningAuditMinCost {
		out = append(out, domain.Recommendation{
			ID:          RuleReasoningAudit,
			Severity:    domain.SeverityHigh,
			Title:       "Reasoning Model Audit Required",
			Description: fmt.Sprintf("Found %d requests using reasoning models.", reasoningRows),
			Impact:      fmt.Sprintf("Hidden thinking costs: %s (%s of total bill)", usd(thinkingCost), percent(share(thinkingCost, total))),
			Action:      "Audit which tasks need deliberate reasoning and route the rest to a standard model.",
			CodeSnippet: snippet("if task_complexity < 3:\n    model = \"gpt-5.2\""),
		})
	}

	return out
}

func legacyModelRule(rows []domain.UsageRow, cat *catalog.Catalog) []domain.Recommendation {
	type legacyUse struct {
		spec  catalog.ModelSpec
		rows  int
		spend float64
	}
	byModel := make(map[string]*legacyUse)
	for _, row := range rows {
		spec, ok := cat.Lookup(row.ModelID)
		if !ok || !spec.IsLegacy {
			continue
		}
		u, ok := byModel[spec.ID]
		if !ok {
			u = &legacyUse{spec: spec}
			byModel[spec.ID] = u
		}
		u.rows++
		u.spend += row.TotalCost
	}

	uses := make([]*legacyUse, 0, len(byModel))
	for _, u := range byModel {
		uses = append(uses, u)
	}
	sort.Slice(uses, func(i, j int) bool {
		if uses[i].spend != uses[j].spend {
			return uses[i].spend > uses[j].spend
		}
		return uses[i].spec.ID < uses[j].spec.ID
	})

	out := make([]domain.Recommendation, 0, len(uses))
	for _, u := range uses {
		alt := alternativeName(cat, u.spec)
		out = append(out, domain.Recommendation{
			ID:          fmt.Sprintf("%s-%s", RuleLegacyModel, u.spec.ID),
			Severity:    domain.SeverityHigh,
			Title:       "Legacy Model Alert: " + u.spec.DisplayName,
			Description: fmt.Sprintf("Found %d requests using %s, which costs %s more than its modern replacement.", u.rows, u.spec.DisplayName, percent(u.spec.LegacyTaxRatio)),
			Impact:      fmt.Sprintf("Save ~%s/month by migrating to %s", usd(u.spend*u.spec.LegacyTaxRatio), alt),
			Action:      fmt.Sprintf("Migrate %s traffic to %s.", u.spec.DisplayName, alt),
			CodeSnippet: snippet(fmt.Sprintf("if model == %q:\n    model = %q", u.spec.ID, altID(u.spec))),
		})
	}
	return out
}

func researchTierRule(rows []domain.UsageRow, cat *catalog.Catalog) []domain.Recommendation {
	var count int
	var spend float64
	for _, row := range rows {
		if strings.Contains(row.ModelID, researchTierModel) {
			count++
			spend += row.TotalCost
		}
	}
	if count == 0 {
		return nil
	}

	spec, _ := cat.Lookup(researchTierModel)
	alt := alternativeName(cat, spec)
	return []domain.Recommendation{{
		ID:          RuleResearchTier,
		Severity:    domain.SeverityHigh,
		Title:       "GPT-5 Pro detected: research tier",
		Description: fmt.Sprintf("Found %d requests using GPT-5 Pro.", count),
		Impact:      fmt.Sprintf("Save ~%s/month by switching to %s", usd(spend*researchTierSavingsShare), alt),
		Action:      fmt.Sprintf("Downgrade to %s for standard agent tasks.", alt),
		CodeSnippet: snippet(fmt.Sprintf("if model == %q:\n    model = %q", researchTierModel, altID(spec))),
	}}
}

func alternativeName(cat *catalog.Catalog, spec catalog.ModelSpec) string {
	if alt, ok := cat.Alternative(spec.ID); ok {
		return alt.DisplayName
	}
	return "a newer model"
}

func altID(spec catalog.ModelSpec) string {
	if spec.AlternativeModelID != "" {
		return spec.AlternativeModelID
	}
	return "gpt-5.2"
}

func share(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Min(part/whole, 1)
}
