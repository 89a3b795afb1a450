// Package app wires the screening pipeline: backlog rows in, classified
// verdicts out to the spreadsheet.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/sheets"
)

// BacklogReader supplies the grants waiting to be screened.
type BacklogReader interface {
	Backlog(ctx context.Context, stage string, limit int) ([]screening.Grant, error)
}

// EvidenceSearcher collects directory-site hits for one foundation.
type EvidenceSearcher interface {
	FoundationEvidence(ctx context.Context, foundation string) ([]screening.SearchResult, error)
}

// Classifier produces a verdict for one grant from its evidence.
type Classifier interface {
	Classify(ctx context.Context, grant screening.Grant, evidence []screening.SearchResult) (screening.ScreeningResult, error)
}

// SheetWriter records results and answers the duplicate check.
type SheetWriter interface {
	ExistingFoundations(ctx context.Context) ([]string, error)
	AlreadyWritten(foundation string) bool
	Append(ctx context.Context, grant screening.Grant, result screening.ScreeningResult) error
}

// Status classifies how one grant left the run.
type Status string

const (
	StatusWritten Status = "written"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome records what happened to one grant.
type Outcome struct {
	Grant   screening.Grant
	Status  Status
	Result  screening.ScreeningResult // set once classification succeeded
	Reason  string                    // skip or failure detail
	Elapsed time.Duration
}

// Summary aggregates one run. Failed grants stay in the backlog stage and are
// picked up again by a future run.
type Summary struct {
	RunID    string
	Stage    string
	Written  int
	Skipped  int
	Failed   int
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Verdicts counts written outcomes per verdict.
func (s Summary) Verdicts() map[screening.Verdict]int {
	out := make(map[screening.Verdict]int)
	for _, o := range s.Outcomes {
		if o.Status == StatusWritten {
			out[o.Result.Verdict]++
		}
	}
	return out
}

// Screener runs the sequential screening loop. One grant is in flight at a
// time; ordering follows the backlog query.
type Screener struct {
	backlog    BacklogReader
	search     EvidenceSearcher
	classifier Classifier
	sheet      SheetWriter
	log        *zap.SugaredLogger
}

func New(backlog BacklogReader, search EvidenceSearcher, classifier Classifier, sheet SheetWriter, log *zap.SugaredLogger) *Screener {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Screener{
		backlog:    backlog,
		search:     search,
		classifier: classifier,
		sheet:      sheet,
		log:        log,
	}
}

// Run screens every backlog grant in the stage, up to limit when limit > 0.
// Startup failures (backlog load, skip-cache fetch) abort the run; per-grant
// failures are recorded and the loop continues. The returned Summary covers
// whatever completed, even when ctx ends the run early.
func (s *Screener) Run(ctx context.Context, stage string, limit int) (Summary, error) {
	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	log := s.log.With("run", runID)
	start := time.Now()

	sum := Summary{RunID: runID, Stage: stage}

	grants, err := s.backlog.Backlog(ctx, stage, limit)
	if err != nil {
		return sum, fmt.Errorf("load backlog: %w", err)
	}
	recorded, err := s.sheet.ExistingFoundations(ctx)
	if err != nil {
		return sum, fmt.Errorf("load recorded foundations: %w", err)
	}
	log.Infow("screening run start",
		"stage", stage,
		"limit", limit,
		"backlog", len(grants),
		"already_recorded", len(recorded),
	)

	for i, g := range grants {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			log.Warnw("screening run canceled",
				"written", sum.Written,
				"skipped", sum.Skipped,
				"failed", sum.Failed,
				"remaining", len(grants)-i,
			)
			return sum, err
		}
		log.Infow("screening grant",
			"progress", fmt.Sprintf("%d/%d", i+1, len(grants)),
			"id", g.ID,
			"foundation", g.Foundation,
		)
		o := s.screenOne(ctx, log, g)
		sum.Outcomes = append(sum.Outcomes, o)
		switch o.Status {
		case StatusWritten:
			sum.Written++
		case StatusSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	sum.Elapsed = time.Since(start)
	log.Infow("screening run complete",
		"written", sum.Written,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"duration", sum.Elapsed.Round(time.Millisecond),
	)
	return sum, nil
}

func (s *Screener) screenOne(ctx context.Context, log *zap.SugaredLogger, g screening.Grant) Outcome {
	start := time.Now()
	out := Outcome{Grant: g}
	done := func() Outcome {
		out.Elapsed = time.Since(start)
		return out
	}

	foundation := strings.TrimSpace(g.Foundation)
	if foundation == "" {
		out.Status = StatusFailed
		out.Reason = "backlog row has no foundation name"
		log.Warnw("grant failed", "id", g.ID, "reason", out.Reason)
		return done()
	}

	if s.sheet.AlreadyWritten(foundation) {
		out.Status = StatusSkipped
		out.Reason = "already recorded in sheet"
		log.Infow("grant skipped", "id", g.ID, "foundation", foundation, "reason", out.Reason)
		return done()
	}

	// FoundationEvidence fails only when the context ends; thin or missing
	// evidence comes back as an empty slice and classification proceeds.
	evidence, err := s.search.FoundationEvidence(ctx, foundation)
	if err != nil {
		out.Status = StatusFailed
		out.Reason = "evidence search: " + err.Error()
		log.Warnw("grant failed", "id", g.ID, "foundation", foundation, "error", err)
		return done()
	}

	result, err := s.classifier.Classify(ctx, g, evidence)
	if err != nil {
		out.Status = StatusFailed
		out.Reason = "classify: " + err.Error()
		var parseErr *screening.ParseError
		if errors.As(err, &parseErr) {
			log.Warnw("model response rejected, grant left in backlog",
				"id", g.ID, "foundation", foundation, "error", err)
		} else {
			log.Warnw("classification failed", "id", g.ID, "foundation", foundation, "error", err)
		}
		return done()
	}

	if err := s.sheet.Append(ctx, g, result); err != nil {
		if errors.Is(err, sheets.ErrAlreadyWritten) {
			out.Status = StatusSkipped
			out.Result = result
			out.Reason = "already recorded in sheet"
			log.Infow("grant skipped", "id", g.ID, "foundation", foundation, "reason", out.Reason)
			return done()
		}
		out.Status = StatusFailed
		out.Reason = "sheet append: " + err.Error()
		log.Warnw("sheet append failed", "id", g.ID, "foundation", foundation, "error", err)
		return done()
	}

	out.Status = StatusWritten
	out.Result = result
	log.Infow("grant screened",
		"id", g.ID,
		"foundation", foundation,
		"verdict", result.Verdict,
		"confidence", result.Confidence,
		"red_flags", strings.Join(result.RedFlags, ","),
		"green_flags", strings.Join(result.GreenFlags, ","),
		"sources", len(result.Sources),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return done()
}
