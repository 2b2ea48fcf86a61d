package ingest

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

// record is one CSV data row keyed by normalized header name. Empty cells
// are omitted so a present key always carries a value.
type record map[string]string

// Each logical field is resolved by trying its sources in order and taking
// the first one that yields a value. Sources are listed oldest-schema last.
type (
	stringSource func(record) (string, bool)
	intSource    func(record) (int64, bool)
	floatSource  func(record) (float64, bool)
)

var (
	modelSources = []stringSource{
		stringColumn("model", "model_name", "snapshot_id"),
		lineItemModel,
	}

	inputTokenSources = []intSource{
		intColumn("prompt_tokens"),
		intColumn("input_tokens", "n_context_tokens_total"),
		lineItemTokens(0),
	}
	outputTokenSources = []intSource{
		intColumn("completion_tokens"),
		intColumn("output_tokens", "n_generated_tokens_total"),
		lineItemTokens(1),
	}
	thinkingTokenSources = []intSource{
		intColumn("reasoning_tokens"),
		intColumn("thinking_tokens"),
		lineItemTokens(2),
	}
	// An undifferentiated total is only used when no split count exists.
	totalTokenSources = []intSource{
		intColumn("tokens_used", "tokens", "total_tokens"),
	}

	declaredCostSources = []floatSource{
		floatColumn("amount_value", "cost", "total cost", "total_cost"),
	}

	timestampSources = []stringSource{
		timestampColumn("timestamp", "start_time_iso", "start_time", "date", "created_at"),
	}

	requestTypeSources = []stringSource{
		stringColumn("request_type", "request type", "operation"),
	}
)

func firstString(rec record, sources []stringSource) (string, bool) {
	for _, src := range sources {
		if v, ok := src(rec); ok {
			return v, true
		}
	}
	return "", false
}

func firstInt(rec record, sources []intSource) (int64, bool) {
	for _, src := range sources {
		if v, ok := src(rec); ok {
			return v, true
		}
	}
	return 0, false
}

func firstFloat(rec record, sources []floatSource) (float64, bool) {
	for _, src := range sources {
		if v, ok := src(rec); ok {
			return v, true
		}
	}
	return 0, false
}

func stringColumn(names ...string) stringSource {
	return func(rec record) (string, bool) {
		for _, n := range names {
			if v, ok := rec[n]; ok {
				return v, true
			}
		}
		return "", false
	}
}

func intColumn(names ...string) intSource {
	return func(rec record) (int64, bool) {
		for _, n := range names {
			if v, ok := rec[n]; ok {
				if n, ok := parseCount(v); ok {
					return n, true
				}
			}
		}
		return 0, false
	}
}

func floatColumn(names ...string) floatSource {
	return func(rec record) (float64, bool) {
		for _, n := range names {
			if v, ok := rec[n]; ok {
				if f, ok := parseAmount(v); ok {
					return f, true
				}
			}
		}
		return 0, false
	}
}

// timestampColumn reads a timestamp and converts Unix seconds to RFC 3339 so
// that date and hour prefixes work the same for every export format.
func timestampColumn(names ...string) stringSource {
	col := stringColumn(names...)
	return func(rec record) (string, bool) {
		v, ok := col(rec)
		if !ok {
			return "", false
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC().Format(time.RFC3339), true
		}
		return v, true
	}
}

// lineItemPattern matches the legacy "model:input+output[+thinking]" encoding.
var lineItemPattern = regexp.MustCompile(`^(.*?):(\d+)\+(\d+)(?:\+(\d+))?$`)

func lineItemModel(rec record) (string, bool) {
	v, ok := rec["line_item"]
	if !ok {
		return "", false
	}
	i := strings.Index(v, ":")
	if i <= 0 {
		return "", false
	}
	return v[:i], true
}

func lineItemTokens(part int) intSource {
	return func(rec record) (int64, bool) {
		v, ok := rec["line_item"]
		if !ok {
			return 0, false
		}
		m := lineItemPattern.FindStringSubmatch(v)
		if m == nil || m[part+2] == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(m[part+2], 10, 64)
		if err != nil {
			return 0, false
		}
		return validCount(n)
	}
}

// parseCount accepts integer or float notation with optional thousands
// separators. Negative values and counts above domain.MaxTokenCount are
// rejected, so the cell is treated as absent.
func parseCount(v string) (int64, bool) {
	v = strings.ReplaceAll(v, ",", "")
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return validCount(n)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > domain.MaxTokenCount || math.IsNaN(f) {
		return 0, false
	}
	return int64(math.Round(f)), true
}

func validCount(n int64) (int64, bool) {
	if n < 0 || n > domain.MaxTokenCount {
		return 0, false
	}
	return n, true
}

// parseAmount accepts plain or currency formatted amounts such as "$1,204.50".
func parseAmount(v string) (float64, bool) {
	v = strings.TrimPrefix(strings.ReplaceAll(v, ",", ""), "$")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
