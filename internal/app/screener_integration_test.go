package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/app"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/classify"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/config"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/mocksheets"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/sheets"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/websearch"
)

const wsTitle = "Grant Screening"

var integrationOrg = screening.OrgProfile{
	Name:    "Stembridge Labs",
	Mission: "bringing hands-on STEM programs to rural students",
	State:   "NC",
	Cities:  []string{"Durham", "Raleigh"},
}

// acmePayload is a consistent GREEN answer for the default-threshold checklist.
const acmePayload = `{"verdict":"GREEN","red_flags":[],"green_flags":["G1","G2","G3","G6"],"rationale":"Funds STEM education programs across North Carolina.","confidence":0.9,"next_application_date":"2026-04-15"}`

func newSerpStub() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(q, "acme family") && strings.Contains(q, "propublica") {
			_, _ = w.Write([]byte(`{"organic_results":[{"position":1,"title":"Acme Family Foundation - Nonprofit Explorer","link":"https://projects.propublica.org/nonprofits/organizations/560000001","snippet":"Acme Family Foundation. Full-text filings and grantmaking data."}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"organic_results":[]}`))
	}))
}

// newGeminiStub answers every generateContent call, returning a malformed
// payload for Gamma Trust and a grounded GREEN verdict for everything else.
func newGeminiStub(calls *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		payload := acmePayload
		if strings.Contains(string(body), "Gamma Trust") {
			payload = "I cannot answer in the requested format."
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": payload}}},
				"finishReason": "STOP",
				"groundingMetadata": map[string]any{
					"groundingChunks": []any{map[string]any{"web": map[string]any{
						"title": "Acme Foundation Grants",
						"uri":   "https://acmefamilyfoundation.org/grants",
					}}},
					"webSearchQueries": []string{"acme family foundation grant application"},
				},
			}},
		})
	}))
}

func openSheetWriter(t *testing.T, baseURL string) *sheets.Writer {
	t.Helper()
	w, err := sheets.Open(context.Background(), config.Sheet{
		SpreadsheetID: "sheet-42",
		Worksheet:     wsTitle,
		BaseURL:       baseURL,
	}, nil)
	if err != nil {
		t.Fatalf("open sheet writer: %v", err)
	}
	return w
}

func TestRunEndToEndAgainstMocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	serp := newSerpStub()
	defer serp.Close()
	var geminiCalls atomic.Int64
	gemini := newGeminiStub(&geminiCalls)
	defer gemini.Close()

	searcher, err := websearch.New(websearch.Config{
		APIKey:   "serp-test-key",
		BaseURL:  serp.URL,
		OrgState: integrationOrg.State,
	}, nil)
	if err != nil {
		t.Fatalf("new searcher: %v", err)
	}
	classifier, err := classify.New(ctx, classify.Config{
		APIKey:  "gemini-test-key",
		Model:   "gemini-2.5-flash",
		BaseURL: gemini.URL,
	}, integrationOrg, nil)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	backlog := &fakeBacklog{grants: []screening.Grant{
		{ID: 1, Foundation: "Acme Family Foundation", Opportunity: "Acme Family Foundation - LOI", Amount: "$25,000", Deadline: "Rolling", Geography: "NC", FocusArea: "Education", Stage: "LOI Backlog"},
		{ID: 2, Foundation: "Beta Foundation", Stage: "LOI Backlog"},
		{ID: 3, Foundation: "Gamma Trust", Stage: "LOI Backlog"},
	}}

	srv := mocksheets.New("sheet-42")
	srv.Seed(wsTitle, [][]string{sheets.Header, {"Beta Foundation"}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	writer := openSheetWriter(t, ts.URL)
	sum, err := app.New(backlog, searcher, classifier, writer, nil).Run(ctx, "LOI Backlog", 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if sum.Written != 1 || sum.Skipped != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %d/%d/%d, want 1/1/1", sum.Written, sum.Skipped, sum.Failed)
	}
	if len(sum.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(sum.Outcomes))
	}
	if sum.Outcomes[0].Status != app.StatusWritten || sum.Outcomes[0].Result.Verdict != screening.VerdictGreen {
		t.Fatalf("acme outcome: %+v", sum.Outcomes[0])
	}
	if sum.Outcomes[1].Status != app.StatusSkipped {
		t.Fatalf("beta outcome: %+v", sum.Outcomes[1])
	}
	if sum.Outcomes[2].Status != app.StatusFailed || sum.Outcomes[2].Reason == "" {
		t.Fatalf("gamma outcome: %+v", sum.Outcomes[2])
	}

	// Acme and Gamma each cost one model call; skipped Beta costs none.
	if n := geminiCalls.Load(); n != 2 {
		t.Fatalf("gemini calls = %d, want 2", n)
	}

	// The sheet holds header, seeded Beta row, appended Acme row. The failed
	// Gamma grant never reaches it.
	if got := srv.RowCount(wsTitle); got != 3 {
		t.Fatalf("sheet rows = %d, want 3", got)
	}
	name, _ := srv.Cell(wsTitle, 2, 0)
	if name.Text != "Acme Family Foundation" {
		t.Fatalf("appended row foundation = %q", name.Text)
	}
	verdict, _ := srv.Cell(wsTitle, 2, 5)
	if verdict.Text != "GREEN" {
		t.Fatalf("verdict cell = %q", verdict.Text)
	}
	if verdict.Background == nil || verdict.Background.Red != 0.714 {
		t.Fatalf("verdict fill = %+v, want green palette", verdict.Background)
	}
	conf, _ := srv.Cell(wsTitle, 2, 6)
	if !conf.IsNumber || conf.Number != 0.9 {
		t.Fatalf("confidence cell = %+v", conf)
	}
	greens, _ := srv.Cell(wsTitle, 2, 8)
	if greens.Text != "G1, G2, G3, G6" {
		t.Fatalf("green flags cell = %q", greens.Text)
	}
	nextDate, _ := srv.Cell(wsTitle, 2, 10)
	if nextDate.Text != "2026-04-15" {
		t.Fatalf("next application cell = %q", nextDate.Text)
	}

	// Hyperlink cells keep the evidence-then-grounding order.
	src1, _ := srv.Cell(wsTitle, 2, 11)
	if src1.Link != "https://projects.propublica.org/nonprofits/organizations/560000001" || !src1.Underline {
		t.Fatalf("source 1 cell = %+v", src1)
	}
	src2, _ := srv.Cell(wsTitle, 2, 12)
	if src2.Link != "https://acmefamilyfoundation.org/grants" {
		t.Fatalf("source 2 cell = %+v", src2)
	}

	// A second run re-warms the skip cache from the sheet itself: nothing is
	// appended twice, and only the failed grant is classified again.
	writer2 := openSheetWriter(t, ts.URL)
	sum2, err := app.New(backlog, searcher, classifier, writer2, nil).Run(ctx, "LOI Backlog", 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum2.Written != 0 || sum2.Skipped != 2 || sum2.Failed != 1 {
		t.Fatalf("second summary = %d/%d/%d, want 0/2/1", sum2.Written, sum2.Skipped, sum2.Failed)
	}
	if got := srv.RowCount(wsTitle); got != 3 {
		t.Fatalf("sheet rows after second run = %d, want 3", got)
	}
	if n := geminiCalls.Load(); n != 3 {
		t.Fatalf("gemini calls after second run = %d, want 3", n)
	}
}
