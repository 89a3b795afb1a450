package classify

import (
	"fmt"
	"strings"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// Rules carries the configurable parts of the screening checklist.
type Rules struct {
	// GreenThreshold is the minimum YES green-flag count for GREEN.
	GreenThreshold int

	// GrantMin/GrantMax, when either is set, add a size rule to the red
	// checklist: awards outside the window are a red flag.
	GrantMin int
	GrantMax int

	// CustomContext is an optional extra line for the prompt persona.
	CustomContext string
}

func (r Rules) withDefaults() Rules {
	if r.GreenThreshold <= 0 {
		r.GreenThreshold = screening.DefaultGreenThreshold
	}
	return r
}

// flagReplacer substitutes the {state}/{cities} markers in catalog labels.
func flagReplacer(org screening.OrgProfile) *strings.Replacer {
	cities := strings.Join(org.Cities, ", ")
	if strings.TrimSpace(cities) == "" {
		cities = "local cities"
	}
	state := strings.TrimSpace(org.State)
	if state == "" {
		state = "the home state"
	}
	return strings.NewReplacer("{state}", state, "{cities}", cities)
}

func renderChecklist(flags []screening.Flag, rep *strings.Replacer) string {
	var b strings.Builder
	for _, f := range flags {
		fmt.Fprintf(&b, "%s. %s\n", f.Code, rep.Replace(f.Label))
	}
	return strings.TrimRight(b.String(), "\n")
}

func orNA(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "N/A"
	}
	return s
}

// evidenceSection renders the pre-fetched directory hits, or tells the model
// to fall back to its own search tool when the directories came up empty.
func evidenceSection(evidence []screening.SearchResult) string {
	if len(evidence) == 0 {
		return "No directory results found. Use your Google Search tool to research the foundation."
	}

	var blocks []string
	for _, e := range evidence {
		blocks = append(blocks, fmt.Sprintf("[%s] %s\n%s\nURL: %s",
			strings.ToUpper(e.Source), e.Title, e.Snippet, e.URL))
	}
	return fmt.Sprintf(`PRE-FETCHED SEARCH RESULTS (from nonprofit directories, highest priority):
---
%s
---
Use the above as your PRIMARY evidence. Supplement with your own Google Search
only if the above results are insufficient.`, strings.Join(blocks, "\n\n"))
}

// buildPrompt encodes the org profile, the grant, the evidence, the fixed
// checklist, and the decision rules into a single screening prompt. The model
// must answer with one JSON object matching the response schema.
func buildPrompt(org screening.OrgProfile, rules Rules, grant screening.Grant, evidence []screening.SearchResult) string {
	rules = rules.withDefaults()
	rep := flagReplacer(org)

	persona := fmt.Sprintf("You are an expert grant screener for %s, a nonprofit %s.",
		strings.TrimSpace(org.Name), strings.TrimSpace(org.Mission))
	if strings.TrimSpace(rules.CustomContext) != "" {
		persona += "\nAdditional context: " + strings.TrimSpace(rules.CustomContext)
	}

	sizeRule := ""
	if rules.GrantMin > 0 || rules.GrantMax > 0 {
		sizeRule = fmt.Sprintf("\nR-size. Typical grant size outside $%d to $%d", rules.GrantMin, rules.GrantMax)
	}

	return fmt.Sprintf(`%s

==== GRANT TO SCREEN ====
Foundation : %s
Opportunity: %s
Amount     : %s
Deadline   : %s
Geography  : %s
Focus Area : %s

%s

==== STEP 1: CHECK RED FLAGS ====
Go through each flag. Mark YES if found, NO if not:
%s%s

Rules:
- R1a triggered means RED (hard, no workaround).
- R1b triggered (invite-only) with at least one green flag means YELLOW (inquiry required).
- R1b triggered with zero green flags means RED.
- Any other red flag means RED.

==== STEP 2: COUNT GREEN FLAGS (if no hard red flags) ====
Evaluate each with YES / NO / UNCLEAR and cite evidence:
%s

Count YES only. UNCLEAR counts as NO.

==== STEP 3: CLASSIFY ====
Decision rule (strict):
- RED: any red flag, except the invitation-only case below.
- YELLOW: R1b (invite-only) with green count >= 1, OR zero red flags with green count < %d.
- GREEN: zero red flags and green count >= %d.

==== OUTPUT ====
Return ONLY a single JSON object with these keys:
- verdict (string; one of: GREEN, YELLOW, RED)
- red_flags (array of triggered red flag codes, for example ["R1a"]; empty if none)
- green_flags (array of triggered green flag codes, for example ["G1", "G3"]; empty if none)
- rationale (string; one plain-English sentence of context for the verdict)
- confidence (number between 0.0 and 1.0)
- next_application_date (string; YYYY-MM-DD, or empty if unknown)

Rules:
- List a flag code only when you marked its check YES.
- The verdict must follow the decision rule exactly.
- Do not include extra keys.`,
		persona,
		orNA(grant.Foundation),
		orNA(grant.Opportunity),
		orNA(grant.Amount),
		orNA(grant.Deadline),
		orNA(grant.Geography),
		orNA(grant.FocusArea),
		evidenceSection(evidence),
		renderChecklist(screening.RedFlags(), rep),
		sizeRule,
		renderChecklist(screening.GreenFlags(), rep),
		rules.GreenThreshold,
		rules.GreenThreshold,
	)
}
