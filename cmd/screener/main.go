package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/app"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/backlog"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/classify"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/config"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/logging"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/report"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/sheets"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/util"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/version"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/websearch"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version":
		fmt.Println("screener " + version.Current)
		return
	case "run":
		os.Exit(runScreening(ctx, os.Args[2:]))
	case "count-backlog":
		os.Exit(runCountBacklog(ctx, os.Args[2:]))
	case "clear-sheet":
		os.Exit(runClearSheet(ctx, os.Args[2:]))
	case "fix-columns":
		os.Exit(runFixColumns(ctx, os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runScreening(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "config.yaml", "Config file path")
	debug := fs.Bool("debug", false, "Verbose console logging")
	limit := fs.Int("limit", 0, "Screen at most N grants, 0 screens the whole backlog")
	stage := fs.String("stage", "", "Backlog stage override (default: database.stage from config)")
	geminiModel := fs.String("gemini-model", "", "Model name override (env: GEMINI_MODEL)")
	geminiBaseURL := fs.String("gemini-base-url", "", "Gemini API base URL override (env: GEMINI_BASE_URL)")
	searchRPS := fs.Float64("search-rps", 0, "Search rate limit override in requests per second (config: search.rps)")
	modelRPS := fs.Float64("model-rps", 0, "Model rate limit override in requests per second (config: model.rps)")
	requestTimeout := fs.Duration("request-timeout", 0, "Per-classification timeout override (config: model.request_timeout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}
	if *stage != "" {
		cfg.Database.Stage = *stage
	}
	if *geminiModel != "" {
		cfg.Model.Name = *geminiModel
	}
	if *geminiBaseURL != "" {
		cfg.Model.BaseURL = *geminiBaseURL
	}
	if *searchRPS > 0 {
		cfg.Search.RPS = *searchRPS
	}
	if *modelRPS > 0 {
		cfg.Model.RPS = *modelRPS
	}
	if *requestTimeout > 0 {
		cfg.Model.RequestTimeout = *requestTimeout
	}
	if err := cfg.Validate(config.Requirements{Database: true, Search: true, Model: true, Sheet: true}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	log, err := logging.New(*debug)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	searcher, err := websearch.New(websearch.Config{
		APIKey:           cfg.Search.APIKey,
		BaseURL:          cfg.Search.BaseURL,
		PerSourceResults: cfg.Search.PerSourceResults,
		OrgState:         cfg.Org.State,
		RPS:              cfg.Search.RPS,
	}, log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "search config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	classifier, err := classify.New(ctx, classify.Config{
		APIKey:         cfg.Model.APIKey,
		Model:          cfg.Model.Name,
		BaseURL:        cfg.Model.BaseURL,
		RequestTimeout: cfg.Model.RequestTimeout,
		RPS:            cfg.Model.RPS,
		Rules: classify.Rules{
			GreenThreshold: cfg.Screening.GreenThreshold,
			GrantMin:       cfg.Screening.GrantMin,
			GrantMax:       cfg.Screening.GrantMax,
			CustomContext:  cfg.Screening.CustomContext,
		},
	}, cfg.OrgProfile(), log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gemini config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	reader, err := backlog.Open(ctx, cfg.Database)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	defer func() { _ = reader.Close() }()

	writer, err := sheets.Open(ctx, cfg.Sheet, log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}

	sum, err := app.New(reader, searcher, classifier, writer, log).Run(ctx, cfg.Database.Stage, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}

	if len(sum.Outcomes) == 0 {
		fmt.Printf("No grants found in stage %q.\n", cfg.Database.Stage)
		return 0
	}
	report.Run(os.Stdout, sum)
	return 0
}

func runCountBacklog(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("count-backlog", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "config.yaml", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}
	if err := cfg.Validate(config.Requirements{Database: true}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	reader, err := backlog.Open(ctx, cfg.Database)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "count-backlog failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	defer func() { _ = reader.Close() }()

	counts, err := reader.CountByStage(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "count-backlog failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	total := 0
	for _, sc := range counts {
		total += sc.Count
	}
	fmt.Printf("Total rows in %s: %d\n\n", cfg.Database.Table, total)
	report.StageBreakdown(os.Stdout, counts, cfg.Database.Stage)

	n, err := reader.Count(ctx, cfg.Database.Stage)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "count-backlog failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	fmt.Printf("\n%d grant(s) in stage %q ready to screen.\n", n, cfg.Database.Stage)
	return 0
}

func runClearSheet(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clear-sheet", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "config.yaml", "Config file path")
	debug := fs.Bool("debug", false, "Verbose console logging")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}
	if err := cfg.Validate(config.Requirements{Sheet: true}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	if !*yes {
		fmt.Printf("Clear every row below the header in worksheet %q of spreadsheet %s? [y/N] ",
			cfg.Sheet.Worksheet, cfg.Sheet.SpreadsheetID)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
		default:
			fmt.Println("Aborted.")
			return 0
		}
	}

	log, err := logging.New(*debug)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	w, err := sheets.Open(ctx, cfg.Sheet, log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "clear-sheet failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	n, err := w.Clear(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "clear-sheet failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	if n == 0 {
		fmt.Println("Sheet is already empty.")
	} else {
		fmt.Printf("Cleared %d row(s) and all colors.\n", n)
	}
	return 0
}

func runFixColumns(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fix-columns", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "config.yaml", "Config file path")
	debug := fs.Bool("debug", false, "Verbose console logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}
	if err := cfg.Validate(config.Requirements{Sheet: true}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	log, err := logging.New(*debug)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	w, err := sheets.Open(ctx, cfg.Sheet, log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "fix-columns failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	n, err := w.Migrate(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "fix-columns failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	if n == 0 {
		fmt.Println("Nothing to migrate.")
	} else {
		fmt.Printf("Migrated %d row(s) to the %d-column layout.\n", n, len(sheets.Header))
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `screener: grant screening pipeline (MySQL backlog -> Gemini verdict -> Google Sheets)

Usage:
  screener <command> [flags]

Commands:
  run            Screen the backlog and append verdict rows to the spreadsheet
  count-backlog  Print backlog totals and the per-stage breakdown
  clear-sheet    Remove every result row (values and colors) below the header
  fix-columns    Migrate a legacy 5-column worksheet to the current layout
  version        Print the screener version
  help           Show this help

Examples:
  screener run -config config.yaml -limit 5
  screener count-backlog
  screener clear-sheet -yes

Configuration:
  Non-secret settings come from the YAML file named by -config (default
  config.yaml). Secrets and endpoint overrides come from the environment,
  optionally via a .env file in the working directory.

Environment:
  DB_PASSWORD                     MySQL password (required for run, count-backlog)
  DB_HOST / DB_PORT / DB_USER / DB_NAME
                                  MySQL connection overrides
  SERPAPI_KEY                     SerpAPI key (required for run)
  SERPAPI_BASE_URL                Optional SerpAPI endpoint override
  GEMINI_API_KEY                  Gemini API key (required for run)
  GEMINI_MODEL                    Gemini model name override
  GEMINI_BASE_URL                 Optional Gemini endpoint override (proxies/testing)
  GOOGLE_APPLICATION_CREDENTIALS  Service-account JSON file for Sheets
  SHEETS_BASE_URL                 Optional Sheets endpoint override (mock-sheets)
  SPREADSHEET_ID                  Destination spreadsheet id override

`)
}
