package screening

import (
	"strings"
)

// Grant is one backlog row awaiting screening. Built by the backlog reader and
// immutable afterward. Amount, Deadline, Geography and FocusArea are free-text
// columns copied from the store as-is.
type Grant struct {
	ID          int64
	Foundation  string
	Opportunity string
	Amount      string
	Deadline    string
	Geography   string
	FocusArea   string
	Stage       string
}

// SearchResult is one directory-site hit collected for a foundation. Held only
// for the duration of a single classification. Source is the directory label
// ("ProPublica", "General", ...) shown in the prompt.
type SearchResult struct {
	Source  string
	Query   string
	Title   string
	URL     string
	Snippet string
}

// Source is a citation attached to a ScreeningResult. URL is preserved verbatim
// from the evidence or the model's grounded citations.
type Source struct {
	Title string
	URL   string
}

// ScreeningResult is the parsed model output for one grant, produced once per
// run and consumed exactly once by the sheet writer.
type ScreeningResult struct {
	Verdict             Verdict
	RedFlags            []string
	GreenFlags          []string
	Rationale           string
	Confidence          float64
	NextApplicationDate string
	Sources             []Source

	// Model records which model produced the verdict. Logged, never written
	// to the sheet.
	Model string
}

// SourceURLs returns the ordered URL projection of Sources.
func (r ScreeningResult) SourceURLs() []string {
	if len(r.Sources) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Sources))
	for _, s := range r.Sources {
		out = append(out, s.URL)
	}
	return out
}

// OrgProfile describes the organization on whose behalf grants are screened.
// It is part of every classification prompt.
type OrgProfile struct {
	Name    string
	Mission string
	State   string
	Cities  []string
}

// Verdict is the tri-state classification outcome.
type Verdict string

const (
	VerdictGreen  Verdict = "GREEN"
	VerdictYellow Verdict = "YELLOW"
	VerdictRed    Verdict = "RED"
)

// ParseVerdict normalizes a raw verdict token. ok is false when the token is
// missing or not one of GREEN, YELLOW, RED.
func ParseVerdict(raw string) (Verdict, bool) {
	switch Verdict(strings.ToUpper(strings.TrimSpace(raw))) {
	case VerdictGreen:
		return VerdictGreen, true
	case VerdictYellow:
		return VerdictYellow, true
	case VerdictRed:
		return VerdictRed, true
	}
	return "", false
}

// FoundationKey normalizes a foundation name for the sheet skip scan. The scan
// is a best-effort name-equality check, so the key is deliberately simple:
// trimmed, lower-cased, inner whitespace collapsed.
func FoundationKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
