//go:build gemini_e2e

package app_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/app"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/classify"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/mocksheets"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// Exercises the real Gemini API with everything else hermetic: synthetic
// backlog, canned evidence, in-process sheet. Run with
//
//	GEMINI_API_KEY=... GEMINI_MODEL=gemini-2.5-flash go test -tags gemini_e2e ./internal/app/ -run RealGemini -v
func TestRun_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		t.Fatalf("GEMINI_MODEL is required for gemini_e2e tests")
	}
	baseURL := os.Getenv("GEMINI_BASE_URL")
	artifactDir := os.Getenv("GEMINI_E2E_ARTIFACT_DIR")
	if artifactDir != "" {
		if err := os.MkdirAll(artifactDir, 0755); err != nil {
			t.Fatalf("create GEMINI_E2E_ARTIFACT_DIR: %v", err)
		}
	}

	ctx := context.Background()

	// A real, well-documented NC STEM funder so grounding has something to
	// find. The verdict itself is the model's call; assertions stay
	// structural.
	grant := screening.Grant{
		ID:          1,
		Foundation:  "Burroughs Wellcome Fund",
		Opportunity: "Burroughs Wellcome Fund - Student STEM Enrichment",
		Amount:      "$60,000",
		Deadline:    "2026-04-15",
		Geography:   "NC",
		FocusArea:   "STEM education",
		Stage:       "LOI Backlog",
	}

	run := func(t *testing.T, suffix string, evidence []screening.SearchResult) {
		t.Helper()

		classifier, err := classify.New(ctx, classify.Config{
			APIKey:         apiKey,
			Model:          model,
			BaseURL:        baseURL,
			RequestTimeout: 90 * time.Second,
		}, integrationOrg, nil)
		if err != nil {
			t.Fatalf("create classifier: %v", err)
		}

		srv := mocksheets.New("sheet-42")
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()
		writer := openSheetWriter(t, ts.URL)

		backlog := &fakeBacklog{grants: []screening.Grant{grant}}
		search := &fakeSearch{evidence: map[string][]screening.SearchResult{grant.Foundation: evidence}}

		sum, err := app.New(backlog, search, classifier, writer, nil).Run(ctx, grant.Stage, 0)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if sum.Written != 1 {
			t.Fatalf("summary = %d/%d/%d, want one written; outcomes: %+v",
				sum.Written, sum.Skipped, sum.Failed, sum.Outcomes)
		}

		res := sum.Outcomes[0].Result
		if _, ok := screening.ParseVerdict(string(res.Verdict)); !ok {
			t.Fatalf("verdict %q is not GREEN/YELLOW/RED", res.Verdict)
		}
		if res.Confidence < 0 || res.Confidence > 1 {
			t.Fatalf("confidence %v out of [0,1]", res.Confidence)
		}
		if res.Rationale == "" {
			t.Fatalf("empty rationale: %+v", res)
		}
		if len(res.Sources) > 5 {
			t.Fatalf("expected at most 5 sources, got %d", len(res.Sources))
		}
		if res.Model != model {
			t.Fatalf("result model = %q, want %q", res.Model, model)
		}
		if len(evidence) > 0 {
			if len(res.Sources) == 0 || res.Sources[0].URL != evidence[0].URL {
				t.Fatalf("expected evidence URL %q first in sources, got %+v", evidence[0].URL, res.Sources)
			}
		}

		if got := srv.RowCount(wsTitle); got != 2 {
			t.Fatalf("sheet rows = %d, want header + result", got)
		}
		name, _ := srv.Cell(wsTitle, 1, 0)
		if name.Text != grant.Foundation {
			t.Fatalf("appended foundation = %q", name.Text)
		}
		verdict, _ := srv.Cell(wsTitle, 1, 5)
		if verdict.Text != string(res.Verdict) {
			t.Fatalf("verdict cell = %q, want %q", verdict.Text, res.Verdict)
		}

		if artifactDir != "" {
			b, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				t.Fatalf("marshal result: %v", err)
			}
			path := filepath.Join(artifactDir, "screening_"+suffix+".json")
			if err := os.WriteFile(path, b, 0644); err != nil {
				t.Fatalf("write artifact: %v", err)
			}
			t.Logf("wrote %s", path)
		}
	}

	t.Run("WithEvidence", func(t *testing.T) {
		run(t, "with_evidence", []screening.SearchResult{{
			Source:  "ProPublica",
			Query:   "burroughs wellcome site:projects.propublica.org/nonprofits",
			Title:   "Burroughs Wellcome Fund - Nonprofit Explorer - ProPublica",
			URL:     "https://projects.propublica.org/nonprofits/organizations/237225395",
			Snippet: "Burroughs Wellcome Fund. Research Triangle Park, NC. Private foundation supporting biomedical science and STEM education.",
		}})
	})
	t.Run("SelfGrounded", func(t *testing.T) {
		run(t, "self_grounded", nil)
	})
}
