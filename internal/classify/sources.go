package classify

import (
	"strings"

	"google.golang.org/genai"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// maxSources caps the citation list; the sheet has five source columns.
const maxSources = 5

// Redirect and results-page links say nothing about the foundation itself.
var skipSourceDomains = []string{
	"vertexaisearch.cloud.google.com",
	"google.com/search",
}

func skippableSource(url string) bool {
	for _, d := range skipSourceDomains {
		if strings.Contains(url, d) {
			return true
		}
	}
	return false
}

// assembleSources merges citations for a result: directory hits first (they
// were vetted by the relevance guard), then the model's grounded-search chunks
// to fill the remaining slots. URLs are preserved verbatim and de-duplicated
// in order. The directory scan keeps at most one hit per source plus two
// general hits, so grounding always gets at least one slot.
func assembleSources(evidence []screening.SearchResult, resp *genai.GenerateContentResponse) []screening.Source {
	seen := make(map[string]struct{})
	var out []screening.Source

	add := func(title, url string) {
		url = strings.TrimSpace(url)
		if url == "" || skippableSource(url) {
			return
		}
		if _, dup := seen[url]; dup {
			return
		}
		seen[url] = struct{}{}
		out = append(out, screening.Source{Title: strings.TrimSpace(title), URL: url})
	}

	for _, e := range evidence {
		if len(out) == maxSources {
			break
		}
		add(e.Title, e.URL)
	}
	for _, chunk := range groundingChunks(resp) {
		if len(out) == maxSources {
			break
		}
		add(chunk.Title, chunk.URI)
	}
	return out
}

func groundingChunks(resp *genai.GenerateContentResponse) []*genai.GroundingChunkWeb {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	c := resp.Candidates[0]
	if c.GroundingMetadata == nil {
		return nil
	}
	var out []*genai.GroundingChunkWeb
	for _, chunk := range c.GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		out = append(out, chunk.Web)
	}
	return out
}

func webSearchQueries(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	c := resp.Candidates[0]
	if c.GroundingMetadata == nil {
		return nil
	}
	return dedupePreserveOrder(c.GroundingMetadata.WebSearchQueries)
}

func dedupePreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
