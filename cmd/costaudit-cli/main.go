// costaudit-cli analyzes an OpenAI usage export offline.
//
// Usage:
//
//	costaudit-cli analyze --file usage.csv [--catalog overrides.yaml] [--format text|json]
//	costaudit-cli catalog [--catalog overrides.yaml] [--format text|json]
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/felipepmaragno/llm-cost-audit/internal/analysis"
	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/urfave/cli/v2"
)

var version = "dev"

const (
	exitMalformed   = 2
	exitNoValidRows = 3
)

func main() {
	app := &cli.App{
		Name:    "costaudit-cli",
		Usage:   "Audit LLM spend from an OpenAI billing export",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "catalog",
				Aliases: []string{"c"},
				Usage:   "YAML file with model pricing overrides",
				EnvVars: []string{"CATALOG_PATH"},
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "text",
				Usage:   "Output format (text, json)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			analyzeCommand(),
			catalogCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Analyze a usage CSV and print the report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"i"},
				Usage:    "Path to the usage CSV, or - for stdin",
				Required: true,
			},
		},
		Action: runAnalyze,
	}
}

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:   "catalog",
		Usage:  "Print the active model catalog",
		Action: runCatalog,
	}
}

func runAnalyze(c *cli.Context) error {
	format, err := outputFormat(c)
	if err != nil {
		return err
	}

	cat, err := catalog.LoadFile(c.String("catalog"))
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	in, closeIn, err := openInput(c.String("file"))
	if err != nil {
		return err
	}
	defer closeIn()

	analyzer := analysis.NewAnalyzer(cat, newLogger(c.String("log-level")))
	report, err := analyzer.Analyze(c.Context, in)
	switch {
	case errors.Is(err, domain.ErrMalformedCSV):
		return cli.Exit(fmt.Sprintf("invalid file: %v", err), exitMalformed)
	case errors.Is(err, domain.ErrNoValidRows):
		return cli.Exit(err.Error(), exitNoValidRows)
	case err != nil:
		return err
	}

	if format == "json" {
		return writeJSON(c.App.Writer, report)
	}
	return renderReport(c.App.Writer, report)
}

func runCatalog(c *cli.Context) error {
	format, err := outputFormat(c)
	if err != nil {
		return err
	}

	cat, err := catalog.LoadFile(c.String("catalog"))
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	if format == "json" {
		return writeJSON(c.App.Writer, cat.Models())
	}
	return renderCatalog(c.App.Writer, cat)
}

func outputFormat(c *cli.Context) (string, error) {
	switch f := c.String("format"); f {
	case "text", "json":
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q, want text or json", f)
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open usage file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
