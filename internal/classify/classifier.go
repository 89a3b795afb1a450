// Package classify screens one grant at a time against the fixed rule set,
// using a hosted Gemini model with Google Search grounding.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// Config configures the model client.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	// RequestTimeout bounds a single model call. <= 0 means no extra bound.
	RequestTimeout time.Duration

	// RPS throttles model calls. <= 0 disables throttling.
	RPS float64

	Rules Rules
}

// Classifier produces at most one ScreeningResult per grant per run. Not safe
// for concurrent use; the pipeline is sequential by design.
type Classifier struct {
	client  *genai.Client
	model   string
	org     screening.OrgProfile
	rules   Rules
	timeout time.Duration
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// retryBackoff is the pause before the single transient retry.
const retryBackoff = 2 * time.Second

func New(ctx context.Context, cfg Config, org screening.OrgProfile, log *zap.SugaredLogger) (*Classifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Classifier{
		client:  client,
		model:   strings.TrimSpace(cfg.Model),
		org:     org,
		rules:   cfg.Rules.withDefaults(),
		timeout: cfg.RequestTimeout,
		limiter: limiter,
		log:     log,
	}, nil
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"verdict": {
			Type: genai.TypeString,
			Enum: []string{"GREEN", "YELLOW", "RED"},
		},
		"red_flags":             {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"green_flags":           {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"rationale":             {Type: genai.TypeString},
		"confidence":            {Type: genai.TypeNumber},
		"next_application_date": {Type: genai.TypeString},
	},
	Required: []string{
		"verdict",
		"red_flags",
		"green_flags",
		"rationale",
		"confidence",
		"next_application_date",
	},
}

// Classify runs one deterministic model call for the grant and parses the
// verdict. A transient failure (429, 5xx, timeout) is retried exactly once;
// everything else fails the grant immediately.
func (c *Classifier) Classify(ctx context.Context, grant screening.Grant, evidence []screening.SearchResult) (screening.ScreeningResult, error) {
	base := screening.ScreeningResult{Model: c.model}

	prompt := buildPrompt(c.org, c.rules, grant, evidence)
	genCfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		},
		// Deterministic sampling: the same grant and evidence must produce
		// the same verdict.
		Temperature:      genai.Ptr[float32](0),
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
		ResponseSchema:   outputSchema,
	}

	var resp *genai.GenerateContentResponse
	const attempts = 2
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return base, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return base, err
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if c.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		r, err := c.client.Models.GenerateContent(reqCtx, c.model, genai.Text(prompt), genCfg)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			resp = r
			break
		}

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return base, ctx.Err()
		}
		err = classifyErr(err)
		if !isTransient(err) || attempt == attempts-1 {
			return base, err
		}

		c.log.Warnw("model call failed, retrying once",
			"foundation", grant.Foundation,
			"error", err.Error(),
		)
		t := time.NewTimer(retryBackoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return base, ctx.Err()
		}
	}

	if queries := webSearchQueries(resp); len(queries) > 0 {
		c.log.Debugw("model grounding queries", "foundation", grant.Foundation, "queries", queries)
	}

	result, err := parseResponse(resp.Text(), c.rules.GreenThreshold)
	if err != nil {
		return base, err
	}
	result.Model = c.model
	result.Sources = assembleSources(evidence, resp)
	return result, nil
}

// classifyErr wraps transient failures so the caller retries once.
func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &screening.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &screening.TransientError{Err: err}
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *screening.TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout() || ne.Temporary()
	}
	return false
}
