package ingest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

const tolerance = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestParse_Schemas(t *testing.T) {
	cat := catalog.Default()

	tests := []struct {
		name         string
		csv          string
		wantModel    string
		wantIn       int64
		wantOut      int64
		wantThinking int64
		wantTotal    float64
		wantReason   bool
	}{
		{
			name:      "current explicit columns",
			csv:       "model,prompt_tokens,completion_tokens,reasoning_tokens,timestamp\ngpt-4o,1000,500,,2026-01-15T10:00:00Z\n",
			wantModel: "gpt-4o",
			wantIn:    1000,
			wantOut:   500,
			wantTotal: 0.0075,
		},
		{
			name:      "legacy alias columns",
			csv:       "Model,Input_Tokens,Output_Tokens\nGPT-4o, 1000 , 500\n",
			wantModel: "gpt-4o",
			wantIn:    1000,
			wantOut:   500,
			wantTotal: 0.0075,
		},
		{
			name:         "line item encoding with thinking",
			csv:          "line_item,amount_value\ngpt-5-thinking:1000+200+1500,0.5\n",
			wantModel:    "gpt-5-thinking",
			wantIn:       1000,
			wantOut:      200,
			wantThinking: 1500,
			wantTotal:    1000.0/1e6*5 + 200.0/1e6*20 + 1500.0/1e6*20,
			wantReason:   true,
		},
		{
			name:      "line item encoding without thinking",
			csv:       "line_item\ngpt-5.2:2000+100\n",
			wantModel: "gpt-5.2",
			wantIn:    2000,
			wantOut:   100,
			wantTotal: 2000.0/1e6*1.75 + 100.0/1e6*14,
		},
		{
			name:      "legacy total only uses declared cost",
			csv:       "model,tokens_used,cost\ngpt-4-turbo,500,0.01\n",
			wantModel: "gpt-4-turbo",
			wantIn:    500,
			wantTotal: 0.01,
		},
		{
			name:      "currency formatted declared cost",
			csv:       "model,tokens_used,Total Cost\ngpt-4,\"1,200\",\"$1,204.50\"\n",
			wantModel: "gpt-4",
			wantIn:    1200,
			wantTotal: 1204.50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseString(tt.csv, cat)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Rows) != 1 {
				t.Fatalf("expected 1 row, got %d", len(res.Rows))
			}
			row := res.Rows[0]
			if row.ModelID != tt.wantModel {
				t.Errorf("expected model %q, got %q", tt.wantModel, row.ModelID)
			}
			if row.InputTokens != tt.wantIn || row.OutputTokens != tt.wantOut || row.ThinkingTokens != tt.wantThinking {
				t.Errorf("expected tokens %d/%d/%d, got %d/%d/%d",
					tt.wantIn, tt.wantOut, tt.wantThinking,
					row.InputTokens, row.OutputTokens, row.ThinkingTokens)
			}
			if !approx(row.TotalCost, tt.wantTotal) {
				t.Errorf("expected total cost %.10f, got %.10f", tt.wantTotal, row.TotalCost)
			}
			if row.IsReasoningModel != tt.wantReason {
				t.Errorf("expected reasoning %v, got %v", tt.wantReason, row.IsReasoningModel)
			}
		})
	}
}

func TestParse_CanonicalColumnsWinOverAliases(t *testing.T) {
	csv := "model,prompt_tokens,input_tokens,completion_tokens,output_tokens\ngpt-5-mini,10,99,20,99\n"

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := res.Rows[0]
	if row.InputTokens != 10 || row.OutputTokens != 20 {
		t.Errorf("expected canonical columns to win, got %d/%d", row.InputTokens, row.OutputTokens)
	}
}

func TestParse_ExplicitModelWinsOverLineItem(t *testing.T) {
	csv := "model,line_item\ngpt-5-nano,gpt-4:100+100\n"

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := res.Rows[0]
	if row.ModelID != "gpt-5-nano" {
		t.Errorf("expected gpt-5-nano, got %s", row.ModelID)
	}
	if row.InputTokens != 100 || row.OutputTokens != 100 {
		t.Errorf("expected tokens from line item, got %d/%d", row.InputTokens, row.OutputTokens)
	}
}

func TestParse_CostInvariants(t *testing.T) {
	csv := strings.Join([]string{
		"model,prompt_tokens,completion_tokens,reasoning_tokens,cost",
		"o3,1000,200,5000,",
		"gpt-4o,1000,500,7000,",
		"gpt-5.3-codex,300,50,900,",
		"mystery-model,10,10,10,4.2",
		"gpt-3.5-turbo,,,,0.25",
	}, "\n")

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(res.Rows))
	}
	for i, row := range res.Rows {
		sum := row.InputCost + row.OutputCost + row.ThinkingCost
		if math.Abs(sum-row.TotalCost) > 1e-6 {
			t.Errorf("row %d: total %f != components %f", i, row.TotalCost, sum)
		}
		if !row.IsReasoningModel && row.ThinkingCost != 0 {
			t.Errorf("row %d: non-reasoning row has thinking cost %f", i, row.ThinkingCost)
		}
		if row.TotalCost < 0 || row.InputTokens < 0 {
			t.Errorf("row %d: negative value", i)
		}
	}
}

func TestParse_UnknownModel(t *testing.T) {
	csv := "model,prompt_tokens,completion_tokens,cost\nllama-3,100,100,1.00\nLlama-3,5,5,0.5\ngpt-5.2,1,1,\nclaude-x,1,1,1\n"

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 4 {
		t.Fatalf("expected unknown rows to be kept, got %d rows", len(res.Rows))
	}
	if res.Diagnostics.UnknownModelRows != 3 {
		t.Errorf("expected 3 unknown rows, got %d", res.Diagnostics.UnknownModelRows)
	}
	want := []string{"claude-x", "llama-3"}
	if strings.Join(res.Diagnostics.UnknownModels, ",") != strings.Join(want, ",") {
		t.Errorf("expected unknown models %v, got %v", want, res.Diagnostics.UnknownModels)
	}
	row := res.Rows[0]
	if row.ModelID != UnknownModelID {
		t.Errorf("expected model %q, got %q", UnknownModelID, row.ModelID)
	}
	if row.TotalCost != 0 || row.InputCost != 0 {
		t.Errorf("expected zero cost for unknown model, got %f", row.TotalCost)
	}
	if row.InputTokens != 100 {
		t.Errorf("expected tokens to be kept, got %d", row.InputTokens)
	}
}

func TestParse_InvalidRowsDropped(t *testing.T) {
	csv := "model,prompt_tokens,cost,timestamp\n,,,2026-01-01\n,0,0,\ngpt-5.2,100,,\n"

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Diagnostics.TotalRecords != 3 {
		t.Errorf("expected 3 records, got %d", res.Diagnostics.TotalRecords)
	}
	if res.Diagnostics.InvalidRows != 2 {
		t.Errorf("expected 2 invalid rows, got %d", res.Diagnostics.InvalidRows)
	}
	if res.Diagnostics.ValidRows != 1 || len(res.Rows) != 1 {
		t.Errorf("expected 1 valid row, got %d", res.Diagnostics.ValidRows)
	}
}

func TestParse_Empty(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"empty input", ""},
		{"whitespace only", "  \n\n"},
		{"header only", "model,prompt_tokens,completion_tokens\n"},
		{"header and blank lines", "model,cost\n\n,\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseString(tt.csv, catalog.Default())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Rows) != 0 || res.Diagnostics.TotalRecords != 0 {
				t.Errorf("expected no rows, got %d rows / %d records", len(res.Rows), res.Diagnostics.TotalRecords)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"invalid utf8", "model,cost\n\xff\xfe,1\n"},
		{"bare quote", "model,cost\ngpt-4\"o,1\n"},
		{"unterminated quote", "model,cost\n\"gpt-4o,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.csv, catalog.Default())
			if !errors.Is(err, domain.ErrMalformedCSV) {
				t.Errorf("expected ErrMalformedCSV, got %v", err)
			}
		})
	}
}

func TestParse_RaggedRowsTolerated(t *testing.T) {
	csv := "model,prompt_tokens,completion_tokens,cost\ngpt-5.2,100\ngpt-5.2,100,200,0.1,extra\n"

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
}

func TestParse_TimestampAndRequestType(t *testing.T) {
	csv := "model,prompt_tokens,start_time,operation\ngpt-5.2,10,1768471200,batch\ngpt-5.2,10,,\n"

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rows[0].Timestamp != "2026-01-15T10:00:00Z" {
		t.Errorf("expected unix seconds converted, got %q", res.Rows[0].Timestamp)
	}
	if res.Rows[0].RequestType != "batch" {
		t.Errorf("expected request type batch, got %q", res.Rows[0].RequestType)
	}
	if res.Rows[1].Timestamp != "" {
		t.Errorf("expected empty timestamp, got %q", res.Rows[1].Timestamp)
	}
	if res.Rows[1].RequestType != "unknown" {
		t.Errorf("expected default request type, got %q", res.Rows[1].RequestType)
	}
}

func TestParse_CostMismatchCounted(t *testing.T) {
	// gpt-4o at 1000/500 prices to 0.0075.
	csv := "model,prompt_tokens,completion_tokens,cost\ngpt-4o,1000,500,0.0075\ngpt-4o,1000,500,0.50\ngpt-4o,1000,500,0.015\n"

	res, err := ParseString(csv, catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Diagnostics.CostMismatches != 1 {
		t.Errorf("expected 1 mismatch, got %d", res.Diagnostics.CostMismatches)
	}
	for _, row := range res.Rows {
		if !approx(row.TotalCost, 0.0075) {
			t.Errorf("expected catalog cost to win, got %f", row.TotalCost)
		}
	}
}

func TestParse_Idempotent(t *testing.T) {
	csv := "line_item,timestamp\no3:1000+200+3000,2026-01-01T01:00:00Z\ngpt-4o:1+2,2026-01-02T02:00:00Z\n"
	cat := catalog.Default()

	a, err := ParseString(csv, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := ParseString(csv, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Rows) != len(b.Rows) {
		t.Fatalf("row counts differ: %d vs %d", len(a.Rows), len(b.Rows))
	}
	for i := range a.Rows {
		x, y := a.Rows[i], b.Rows[i]
		if x.ModelID != y.ModelID || x.InputTokens != y.InputTokens || x.Timestamp != y.Timestamp {
			t.Errorf("row %d differs: %+v vs %+v", i, x, y)
		}
		if !approx(x.TotalCost, y.TotalCost) || !approx(x.ThinkingCost, y.ThinkingCost) {
			t.Errorf("row %d costs differ", i)
		}
	}
}

func TestParse_FixtureCatalog(t *testing.T) {
	cat, err := catalog.New([]catalog.ModelSpec{
		{ID: "house-model", CostPerMillionInput: 1, CostPerMillionOutput: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := ParseString("model,prompt_tokens,completion_tokens\nhouse-model,1000000,1000000\ngpt-4o,1,1\n", cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(res.Rows[0].TotalCost, 3) {
		t.Errorf("expected 3, got %f", res.Rows[0].TotalCost)
	}
	if res.Rows[1].ModelID != UnknownModelID {
		t.Errorf("expected gpt-4o to be unknown under fixture catalog, got %s", res.Rows[1].ModelID)
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"1500", 1500, true},
		{"1,500", 1500, true},
		{"1500.0", 1500, true},
		{"-3", 0, false},
		{"abc", 0, false},
		{"1e20", 0, false},
		{"99999999999999999999", 0, false},
		{"9007199254740992", 9007199254740992, true},
		{"9007199254740993", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseCount(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseCount(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParse_OversizedCountsTreatedAsAbsent(t *testing.T) {
	res, err := ParseString("model,prompt_tokens,completion_tokens\ngpt-4o,1e20,10\n", catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	row := res.Rows[0]
	if row.InputTokens != 0 || row.OutputTokens != 10 {
		t.Errorf("tokens = %d/%d, want 0/10", row.InputTokens, row.OutputTokens)
	}
	if !approx(row.TotalCost, 10.0/1e6*10.00) {
		t.Errorf("TotalCost = %g, want output priced from the catalog", row.TotalCost)
	}
}

func TestParse_CombinedCountWithoutCostIsPricedAsInput(t *testing.T) {
	res, err := ParseString("model,tokens_used,timestamp\ngpt-4o,1500,2025-01-01\n", catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := res.Rows[0]
	if row.InputTokens != 1500 {
		t.Errorf("InputTokens = %d, want 1500", row.InputTokens)
	}
	if !approx(row.InputCost, 1500.0/1e6*2.50) || !approx(row.TotalCost, row.InputCost) {
		t.Errorf("cost = %g/%g, want 1500 input tokens at the gpt-4o rate", row.InputCost, row.TotalCost)
	}
}

func TestParse_MismatchToleranceIsRelativeToDeclared(t *testing.T) {
	// 1M input + 500k output of gpt-4o prices to 7.50.
	tests := []struct {
		declared string
		want     int
	}{
		{"7.88", 0}, // diff 0.38 is within 5% of 7.88 but not of 7.50
		{"7.10", 1}, // diff 0.40 exceeds 5% of 7.10
		{"7.505", 0},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			csv := "model,prompt_tokens,completion_tokens,cost\ngpt-4o,1000000,500000," + tt.declared + "\n"
			res, err := ParseString(csv, catalog.Default())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Diagnostics.CostMismatches != tt.want {
				t.Errorf("CostMismatches = %d, want %d", res.Diagnostics.CostMismatches, tt.want)
			}
		})
	}
}

func TestParse_DatedSnapshotPricedAsBaseModel(t *testing.T) {
	res, err := ParseString("model,prompt_tokens,completion_tokens\ngpt-4o-2024-08-06,1000,500\n", catalog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := res.Rows[0]
	if row.ModelID != "gpt-4o" {
		t.Errorf("ModelID = %q, want gpt-4o", row.ModelID)
	}
	if res.Diagnostics.UnknownModelRows != 0 {
		t.Errorf("UnknownModelRows = %d, want 0", res.Diagnostics.UnknownModelRows)
	}
	if !approx(row.TotalCost, 0.0075) {
		t.Errorf("TotalCost = %g, want 0.0075", row.TotalCost)
	}
}
