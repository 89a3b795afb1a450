package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/mocksheets"
)

func main() {
	addr := defaultString("MOCK_SHEETS_ADDR", ":8090")
	spreadsheetID := defaultString("MOCK_SHEETS_SPREADSHEET_ID", "mock-spreadsheet")

	fs := flag.NewFlagSet("mock-sheets", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&spreadsheetID, "spreadsheet-id", spreadsheetID, "Spreadsheet id the mock serves (also supports env: MOCK_SHEETS_SPREADSHEET_ID)")
	_ = fs.Parse(os.Args[1:])

	srv := mocksheets.New(spreadsheetID)

	_, _ = fmt.Fprintf(os.Stdout, "mock-sheets listening on %s (spreadsheet=%s); point the screener at it via SHEETS_BASE_URL\n", addr, spreadsheetID)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
