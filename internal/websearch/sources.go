package websearch

import (
	"fmt"
	"strings"
)

// DirectorySource is one nonprofit directory the enricher queries, in priority
// order. Domain feeds the site: restriction.
type DirectorySource struct {
	Label  string
	Domain string
}

// The fixed directory list. ProPublica and Granted are the two profile-grade
// sources; the general fallback only fires when both come up empty.
var directorySources = [...]DirectorySource{
	{Label: "ProPublica", Domain: "projects.propublica.org/nonprofits"},
	{Label: "Granted", Domain: "grantedai.com"},
	{Label: "Candid", Domain: "candid.org"},
	{Label: "CauseIQ", Domain: "causeiq.com"},
}

// Sources returns a copy of the directory list.
func Sources() []DirectorySource {
	out := make([]DirectorySource, len(directorySources))
	copy(out, directorySources[:])
	return out
}

// Legal suffixes and filler words that pollute site-restricted searches.
var nameRemovals = map[string]struct{}{
	"inc":        {},
	"c/o":        {},
	"the":        {},
	"llc":        {},
	"ltd":        {},
	"foundation": {},
	"trust":      {},
	"corp":       {},
}

// CleanName lowercases the foundation name and drops legal/noise tokens so the
// query hits the actual name. Falls back to the untouched input when every
// token would be dropped.
func CleanName(name string) string {
	tokens := strings.Fields(strings.ToLower(name))
	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, drop := nameRemovals[t]; drop {
			continue
		}
		kept = append(kept, t)
	}
	cleaned := strings.TrimSpace(strings.Join(kept, " "))
	if cleaned == "" {
		return name
	}
	return cleaned
}

func siteQuery(cleaned string, src DirectorySource) string {
	return fmt.Sprintf("%s site:%s", cleaned, src.Domain)
}

func generalQuery(cleaned, state string) string {
	q := fmt.Sprintf("%q foundation grants education", cleaned)
	if strings.TrimSpace(state) != "" {
		q += " " + strings.TrimSpace(state)
	}
	return q
}

// relevant reports whether a hit's title or snippet mentions at least one
// meaningful (>3 chars) word from the cleaned name. With no such word the
// guard cannot filter and accepts everything.
func relevant(title, snippet, cleaned string) bool {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if len(w) > 3 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return true
	}
	text := strings.ToLower(title + " " + snippet)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
