package analysis

import (
	"math"

	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

// thinkingWasteShare is the part of flagged thinking cost considered avoidable.
const thinkingWasteShare = 0.7

// Score rates how much of the spend could be avoided. It returns
// domain.ErrUndefinedScore when there is no spend to rate.
func Score(rows []domain.UsageRow, cat *catalog.Catalog) (*domain.EfficiencyScore, error) {
	var total, legacy, waste, optimized float64

	for _, row := range rows {
		total += row.TotalCost

		spec, ok := cat.Lookup(row.ModelID)
		if !ok {
			optimized += row.TotalCost
			continue
		}

		if spec.IsLegacy {
			legacy += row.TotalCost * spec.LegacyTaxRatio
		}

		if t := spec.ThinkingRatioAlertThreshold; t != nil && row.IsReasoningModel &&
			float64(row.ThinkingTokens) > float64(row.OutputTokens)**t {
			waste += row.ThinkingCost * thinkingWasteShare
		}

		if alt, ok := cat.Alternative(spec.ID); ok {
			optimized += catalog.Cost(alt, row.InputTokens, row.OutputTokens, row.ThinkingTokens).Total()
		} else {
			optimized += row.TotalCost
		}
	}

	if total <= 0 {
		return nil, domain.ErrUndefinedScore
	}

	savings := legacy + waste + (total - optimized)
	value := math.Max(0, math.Min(100, 100-savings/total*100))

	return &domain.EfficiencyScore{
		Score:            int(math.Round(value)),
		Grade:            gradeFor(value),
		TotalSpend:       total,
		PotentialSavings: savings,
		LegacySpend:      legacy,
		ThinkingWaste:    waste,
	}, nil
}

func gradeFor(score float64) domain.Grade {
	switch {
	case score > 80:
		return domain.GradeExcellent
	case score > 60:
		return domain.GradeNeedsWork
	case score > 40:
		return domain.GradePoor
	default:
		return domain.GradeCritical
	}
}
