// Package ingest turns OpenAI usage exports into canonical usage rows.
//
// Three historical export layouts are accepted: the legacy
// model/tokens_used/cost layout, the line_item encoding
// ("model:input+output[+thinking]") and the current layout with explicit
// prompt_tokens/completion_tokens/reasoning_tokens columns. Columns may be
// mixed; each field is resolved independently.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

// UnknownModelID replaces model ids that are not in the catalog.
const UnknownModelID = "unknown"

const defaultRequestType = "unknown"

// Declared costs that differ from the catalog price by more than the
// absolute tolerance and by more than the relative tolerance of the
// declared amount are counted as mismatches.
const (
	mismatchAbsTolerance = 0.01
	mismatchRelTolerance = 0.05
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Result holds the normalized rows and the counters gathered while
// parsing them.
type Result struct {
	Rows        []domain.UsageRow
	Diagnostics domain.Diagnostics
}

// ParseString is Parse for in-memory text.
func ParseString(text string, cat *catalog.Catalog) (*Result, error) {
	return Parse(strings.NewReader(text), cat)
}

// Parse reads CSV text with a header row. Structural problems fail the whole
// parse with domain.ErrMalformedCSV; problems with individual rows are
// counted in the result diagnostics instead.
func Parse(r io.Reader, cat *catalog.Catalog) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", domain.ErrMalformedCSV)
	}

	res := &Result{Rows: []domain.UsageRow{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return res, nil
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", domain.ErrMalformedCSV, err)
	}
	columns := normalizeHeader(header)

	p := &rowBuilder{catalog: cat, unknown: make(map[string]struct{})}
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCSV, err)
		}
		if isBlank(fields) {
			continue
		}

		res.Diagnostics.TotalRecords++
		row, ok := p.build(toRecord(columns, fields))
		if !ok {
			res.Diagnostics.InvalidRows++
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	res.Diagnostics.ValidRows = len(res.Rows)
	res.Diagnostics.UnknownModelRows = p.unknownRows
	res.Diagnostics.CostMismatches = p.mismatches
	for id := range p.unknown {
		res.Diagnostics.UnknownModels = append(res.Diagnostics.UnknownModels, id)
	}
	sort.Strings(res.Diagnostics.UnknownModels)

	return res, nil
}

type rowBuilder struct {
	catalog     *catalog.Catalog
	unknown     map[string]struct{}
	unknownRows int
	mismatches  int
}

func (p *rowBuilder) build(rec record) (domain.UsageRow, bool) {
	model, _ := firstString(rec, modelSources)
	model = catalog.NormalizeID(model)

	input, hasInput := firstInt(rec, inputTokenSources)
	output, hasOutput := firstInt(rec, outputTokenSources)
	thinking, hasThinking := firstInt(rec, thinkingTokenSources)
	split := hasInput || hasOutput || hasThinking
	if !split {
		// Legacy exports only carry a combined count; it is attributed to input.
		input, _ = firstInt(rec, totalTokenSources)
	}

	declared, hasDeclared := firstFloat(rec, declaredCostSources)

	if model == "" && declared == 0 && input+output+thinking == 0 {
		return domain.UsageRow{}, false
	}

	row := domain.UsageRow{
		InputTokens:    input,
		OutputTokens:   output,
		ThinkingTokens: thinking,
		RequestType:    defaultRequestType,
	}
	row.Timestamp, _ = firstString(rec, timestampSources)
	if rt, ok := firstString(rec, requestTypeSources); ok {
		row.RequestType = rt
	}

	spec, ok := p.catalog.Lookup(model)
	if !ok {
		p.unknownRows++
		if model != "" {
			p.unknown[model] = struct{}{}
		}
		row.ModelID = UnknownModelID
		return row, true
	}

	row.ModelID = spec.ID
	row.IsReasoningModel = spec.HasThinking

	var cost catalog.Breakdown
	switch {
	case split && input+output+thinking > 0:
		cost = catalog.Cost(spec, input, output, thinking)
		if hasDeclared && declared > 0 && costMismatch(declared, cost.Total()) {
			p.mismatches++
		}
	case hasDeclared:
		// A combined count cannot be split by direction, so a declared
		// cost is more faithful than pricing it all as input.
		cost = catalog.Breakdown{InputCost: declared}
	default:
		cost = catalog.Cost(spec, input, 0, 0)
	}

	row.InputCost = cost.InputCost
	row.OutputCost = cost.OutputCost
	row.ThinkingCost = cost.ThinkingCost
	row.TotalCost = cost.Total()
	return row, true
}

func costMismatch(declared, derived float64) bool {
	diff := math.Abs(declared - derived)
	return diff > mismatchAbsTolerance && diff > declared*mismatchRelTolerance
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

func toRecord(columns, fields []string) record {
	rec := make(record, len(columns))
	for i, name := range columns {
		if i >= len(fields) || name == "" {
			continue
		}
		if _, dup := rec[name]; dup {
			continue
		}
		if v := strings.TrimSpace(fields[i]); v != "" {
			rec[name] = v
		}
	}
	return rec
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
