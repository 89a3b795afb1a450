// Package websearch gathers screening evidence for a foundation from a fixed
// list of nonprofit directory sites, via the SerpAPI Google endpoint.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/util"
)

const defaultBaseURL = "https://serpapi.com"

// Config configures the search client.
type Config struct {
	APIKey string

	// BaseURL overrides the SerpAPI endpoint (tests, proxies).
	BaseURL string

	// PerSourceResults is how many hits each query requests; the first
	// relevant one per directory is kept.
	PerSourceResults int

	// OrgState seasons the general fallback query.
	OrgState string

	// RPS throttles outbound queries. <= 0 disables throttling.
	RPS float64
}

// Client issues directory-site searches. Safe for sequential use only.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	perSource int
	orgState  string
	http      *http.Client
	limiter   *rate.Limiter
	log       *zap.SugaredLogger
}

// New builds a search client. A nil logger disables logging.
func New(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("search api key is required")
	}
	raw := cfg.BaseURL
	if strings.TrimSpace(raw) == "" {
		raw = defaultBaseURL
	}
	base, err := parseBaseURL(raw, "search")
	if err != nil {
		return nil, err
	}

	perSource := cfg.PerSourceResults
	if perSource <= 0 {
		perSource = 5
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:   base,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		perSource: perSource,
		orgState:  strings.TrimSpace(cfg.OrgState),
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   limiter,
		log:       log,
	}, nil
}

func parseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

type organicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

type searchResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
	Error          string          `json:"error"`
}

// search runs one Google query through SerpAPI and returns the organic hits.
func (c *Client) search(ctx context.Context, query string) ([]organicResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("num", strconv.Itoa(c.perSource))
	q.Set("gl", "us")
	q.Set("hl", "en")
	q.Set("api_key", c.apiKey)

	u := c.baseURL.ResolveReference(&url.URL{Path: "search.json"})
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError("search", resp, b)
	}

	var out searchResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	// SerpAPI reports query-level failures inside a 2xx body.
	if strings.TrimSpace(out.Error) != "" {
		return nil, &HTTPError{
			Op:         "search",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			APIError:   util.RedactSecrets(out.Error),
		}
	}
	return out.OrganicResults, nil
}

// FoundationEvidence queries each directory source for the foundation and
// returns the aggregated hits. A failed source is logged and skipped; the
// returned error is non-nil only when the context ends the scan. Zero hits is
// a valid outcome.
func (c *Client) FoundationEvidence(ctx context.Context, foundation string) ([]screening.SearchResult, error) {
	cleaned := CleanName(foundation)
	var evidence []screening.SearchResult
	hitsByLabel := make(map[string]bool, len(directorySources))

	for _, src := range directorySources {
		query := siteQuery(cleaned, src)
		hits, err := c.search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warnw("directory query failed",
				"source", src.Label,
				"foundation", foundation,
				"error", util.RedactSecrets(err.Error()),
			)
			continue
		}

		// Keep only the first hit that actually mentions the foundation.
		for _, h := range hits {
			if !relevant(h.Title, h.Snippet, cleaned) {
				continue
			}
			evidence = append(evidence, screening.SearchResult{
				Source:  src.Label,
				Query:   query,
				Title:   h.Title,
				URL:     h.Link,
				Snippet: h.Snippet,
			})
			hitsByLabel[src.Label] = true
			break
		}
		c.log.Debugw("directory query done",
			"source", src.Label,
			"hits", len(hits),
			"kept", hitsByLabel[src.Label],
		)
	}

	// Fallback: neither profile-grade directory knows the foundation.
	if !hitsByLabel["ProPublica"] && !hitsByLabel["Granted"] {
		query := generalQuery(cleaned, c.orgState)
		hits, err := c.search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warnw("general fallback query failed",
				"foundation", foundation,
				"error", util.RedactSecrets(err.Error()),
			)
			return evidence, nil
		}
		kept := 0
		for _, h := range hits {
			if kept == 2 {
				break
			}
			if !relevant(h.Title, h.Snippet, cleaned) {
				continue
			}
			evidence = append(evidence, screening.SearchResult{
				Source:  "General",
				Query:   query,
				Title:   h.Title,
				URL:     h.Link,
				Snippet: h.Snippet,
			})
			kept++
		}
		c.log.Debugw("general fallback done", "hits", len(hits), "kept", kept)
	}

	return evidence, nil
}
