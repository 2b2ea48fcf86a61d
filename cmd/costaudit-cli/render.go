package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/shopspring/decimal"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func money(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}

func rate(v float64) string {
	return "$" + decimal.NewFromFloat(v).String()
}

func renderReport(w io.Writer, report *domain.Report) error {
	res := report.Result
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Total spend:\t%s\n", money(res.TotalSpend))
	fmt.Fprintf(tw, "Requests:\t%d\n", res.TotalRequests)
	switch {
	case report.Score != nil:
		fmt.Fprintf(tw, "Efficiency score:\t%d/100 (%s)\n", report.Score.Score, report.Score.Grade)
		fmt.Fprintf(tw, "Potential savings:\t%s\n", money(report.Score.PotentialSavings))
	case report.ScoreUndefined:
		fmt.Fprintln(tw, "Efficiency score:\tn/a (no spend)")
	}

	d := report.Diagnostics
	fmt.Fprintf(tw, "Rows:\t%d valid, %d invalid, %d unknown model\n", d.ValidRows, d.InvalidRows, d.UnknownModelRows)
	if len(d.UnknownModels) > 0 {
		fmt.Fprintf(tw, "Unknown models:\t%s\n", strings.Join(d.UnknownModels, ", "))
	}

	if len(res.TopModels) > 0 {
		fmt.Fprintln(tw, "\nTOP MODELS\tCOST\tTOKENS")
		for _, m := range res.TopModels {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", m.DisplayName, money(m.Cost), m.Tokens)
		}
	}

	if len(res.SpendByDay) > 0 {
		fmt.Fprintln(tw, "\nDAY\tCOST")
		for _, day := range res.SpendByDay {
			fmt.Fprintf(tw, "%s\t%s\n", day.Date, money(day.Cost))
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.Recommendations) == 0 {
		_, err := fmt.Fprintln(w, "\nNo recommendations.")
		return err
	}

	fmt.Fprintf(w, "\nRECOMMENDATIONS (%d)\n", len(res.Recommendations))
	for i, rec := range res.Recommendations {
		fmt.Fprintf(w, "\n%d. [%s] %s\n", i+1, strings.ToUpper(string(rec.Severity)), rec.Title)
		fmt.Fprintf(w, "   %s\n", rec.Description)
		if rec.Impact != "" {
			fmt.Fprintf(w, "   Impact: %s\n", rec.Impact)
		}
		if rec.Action != "" {
			fmt.Fprintf(w, "   Action: %s\n", rec.Action)
		}
		if rec.CodeSnippet != nil {
			for _, line := range strings.Split(strings.TrimRight(*rec.CodeSnippet, "\n"), "\n") {
				fmt.Fprintf(w, "     %s\n", line)
			}
		}
	}
	return nil
}

func renderCatalog(w io.Writer, cat *catalog.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tNAME\tINPUT/1M\tOUTPUT/1M\tTHINKING/1M\tLEGACY\tALTERNATIVE")
	for _, m := range cat.Models() {
		thinking := "-"
		if m.CostPerMillionThinking != nil {
			thinking = rate(*m.CostPerMillionThinking)
		}
		legacy := "no"
		if m.IsLegacy {
			legacy = "yes"
		}
		alt := m.AlternativeModelID
		if alt == "" {
			alt = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.DisplayName, rate(m.CostPerMillionInput), rate(m.CostPerMillionOutput), thinking, legacy, alt)
	}
	return tw.Flush()
}
