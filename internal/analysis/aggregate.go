package analysis

import (
	"sort"

	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

const topModelsLimit = 10

// UnknownDate labels the spend of rows that carry no timestamp.
const UnknownDate = "unknown"

// Aggregate reduces rows to spend totals, the most expensive models and
// spend per day. Recommendations are attached separately.
func Aggregate(rows []domain.UsageRow, cat *catalog.Catalog) domain.AnalysisResult {
	result := domain.AnalysisResult{
		TotalRequests:   len(rows),
		TopModels:       []domain.ModelSpend{},
		SpendByDay:      []domain.DaySpend{},
		Recommendations: []domain.Recommendation{},
	}

	byModel := make(map[string]*domain.ModelSpend)
	byDay := make(map[string]float64)

	for _, row := range rows {
		result.TotalSpend += row.TotalCost

		m, ok := byModel[row.ModelID]
		if !ok {
			m = &domain.ModelSpend{ModelID: row.ModelID, DisplayName: cat.DisplayName(row.ModelID)}
			byModel[row.ModelID] = m
		}
		m.Cost += row.TotalCost
		m.Tokens += row.TotalTokens()

		byDay[dateKey(row.Timestamp)] += row.TotalCost
	}

	for _, m := range byModel {
		result.TopModels = append(result.TopModels, *m)
	}
	sort.Slice(result.TopModels, func(i, j int) bool {
		a, b := result.TopModels[i], result.TopModels[j]
		if a.Cost != b.Cost {
			return a.Cost > b.Cost
		}
		return a.ModelID < b.ModelID
	})
	if len(result.TopModels) > topModelsLimit {
		result.TopModels = result.TopModels[:topModelsLimit]
	}

	for date, cost := range byDay {
		result.SpendByDay = append(result.SpendByDay, domain.DaySpend{Date: date, Cost: cost})
	}
	sort.Slice(result.SpendByDay, func(i, j int) bool {
		a, b := result.SpendByDay[i].Date, result.SpendByDay[j].Date
		if (a == UnknownDate) != (b == UnknownDate) {
			return b == UnknownDate
		}
		return a < b
	})

	return result
}

func dateKey(ts string) string {
	if ts == "" {
		return UnknownDate
	}
	if len(ts) > 10 {
		return ts[:10]
	}
	return ts
}
