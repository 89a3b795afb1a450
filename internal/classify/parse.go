package classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// modelResponse is the JSON contract the prompt demands from the model.
type modelResponse struct {
	Verdict             string   `json:"verdict"`
	RedFlags            []string `json:"red_flags"`
	GreenFlags          []string `json:"green_flags"`
	Rationale           string   `json:"rationale"`
	Confidence          float64  `json:"confidence"`
	NextApplicationDate string   `json:"next_application_date"`
}

const rawDetailMax = 160

func truncateDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= rawDetailMax {
		return s
	}
	return s[:rawDetailMax] + "..."
}

// extractJSON returns the outermost {...} span of the text. Structured output
// makes surrounding prose unlikely, but models occasionally wrap the object
// anyway.
func extractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// Some models prefix the rationale with the structured flag summary the old
// report format used. The sheet wants only the plain context sentence.
var flagPrefixRe = regexp.MustCompile(`(?is)^red flags:.*?green flags:\s*\d+/\d+\s*\([^)]*\)\.\s*`)

func cleanRationale(raw string) string {
	cleaned := strings.TrimSpace(flagPrefixRe.ReplaceAllString(raw, ""))
	if cleaned == "" {
		return strings.TrimSpace(raw)
	}
	return cleaned
}

func normalizeFlags(codes []string, normalize func(string) (string, bool), kind string) ([]string, error) {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		code, ok := normalize(raw)
		if !ok {
			return nil, &screening.ParseError{
				Reason: "unknown " + kind + " flag code",
				Detail: truncateDetail(raw),
			}
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

// consistent reports whether the verdict follows the decision rule for the
// given flag lists: the invitation-only override (R1b as the only red flag
// plus at least one green) forces YELLOW; any other red forces RED; otherwise
// the green count against the threshold separates GREEN from YELLOW.
func consistent(v screening.Verdict, reds, greens []string, threshold int) bool {
	r1bOnly := len(reds) == 1 && reds[0] == screening.FlagInvitationOnly
	override := r1bOnly && len(greens) >= 1

	switch v {
	case screening.VerdictGreen:
		return len(reds) == 0 && len(greens) >= threshold
	case screening.VerdictYellow:
		return (len(reds) == 0 && len(greens) < threshold) || override
	case screening.VerdictRed:
		return len(reds) > 0 && !override
	}
	return false
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func normalizeDate(raw string) string {
	d := strings.TrimSpace(raw)
	switch strings.ToLower(d) {
	case "null", "none", "n/a", "unknown":
		return ""
	}
	return d
}

// parseResponse turns the raw model text into a ScreeningResult. Any deviation
// from the contract is a ParseError: the caller skips the grant instead of
// guessing a verdict.
func parseResponse(raw string, threshold int) (screening.ScreeningResult, error) {
	if threshold <= 0 {
		threshold = screening.DefaultGreenThreshold
	}

	jsonStr, ok := extractJSON(raw)
	if !ok {
		return screening.ScreeningResult{}, &screening.ParseError{
			Reason: "no JSON object in response",
			Detail: truncateDetail(raw),
		}
	}

	var mr modelResponse
	if err := json.Unmarshal([]byte(jsonStr), &mr); err != nil {
		return screening.ScreeningResult{}, &screening.ParseError{
			Reason: "malformed JSON",
			Detail: truncateDetail(raw),
			Err:    err,
		}
	}

	verdict, ok := screening.ParseVerdict(mr.Verdict)
	if !ok {
		return screening.ScreeningResult{}, &screening.ParseError{
			Reason: "missing or unknown verdict token",
			Detail: truncateDetail(mr.Verdict),
		}
	}

	reds, err := normalizeFlags(mr.RedFlags, screening.NormalizeRedFlag, "red")
	if err != nil {
		return screening.ScreeningResult{}, err
	}
	greens, err := normalizeFlags(mr.GreenFlags, screening.NormalizeGreenFlag, "green")
	if err != nil {
		return screening.ScreeningResult{}, err
	}

	if !consistent(verdict, reds, greens, threshold) {
		return screening.ScreeningResult{}, &screening.ParseError{
			Reason: "verdict inconsistent with flag lists",
			Detail: fmt.Sprintf("verdict=%s reds=%v greens=%v threshold=%d", verdict, reds, greens, threshold),
		}
	}

	rationale := cleanRationale(mr.Rationale)
	if rationale == "" {
		rationale = "No rationale provided."
	}

	return screening.ScreeningResult{
		Verdict:             verdict,
		RedFlags:            reds,
		GreenFlags:          greens,
		Rationale:           rationale,
		Confidence:          clampConfidence(mr.Confidence),
		NextApplicationDate: normalizeDate(mr.NextApplicationDate),
	}, nil
}
