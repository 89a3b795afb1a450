package screening

import "strings"

// Flag is one entry of the fixed screening rule set. The catalog is encoded
// into the classification prompt and used to validate flag codes returned by
// the model. Labels may carry {state} and {cities} markers that the prompt
// builder substitutes with the configured org profile.
type Flag struct {
	Code  string
	Label string
}

// FlagInvitationOnly is the one red flag with an override: a foundation that is
// invitation-only but otherwise attractive (at least one green flag) is
// downgraded to YELLOW instead of RED.
const FlagInvitationOnly = "R1b"

// FlagHardClosed is the hard stop: a foundation that is closed to applications
// stays RED no matter what else is found.
const FlagHardClosed = "R1a"

// DefaultGreenThreshold is the minimum green-flag count for a GREEN verdict
// when no red flag is present.
const DefaultGreenThreshold = 4

var redFlags = []Flag{
	{Code: FlagHardClosed, Label: `status explicitly says "not accepting applications" or "permanently closed"`},
	{Code: FlagInvitationOnly, Label: `status says "invitation only"`},
	{Code: "R2", Label: "only funds a state that is not {state}"},
	{Code: "R3", Label: "zero {state} grantees found"},
	{Code: "R4", Label: "only funds colleges, hospitals, or adults, with no K-12 or youth programs"},
	{Code: "R5", Label: "stated mission contradicts the actual grant focus"},
	{Code: "R6", Label: "only funds Environment, Animals, or Health, with no education"},
	{Code: "R7", Label: "max grant under $2,500 or min grant over $100,000"},
	{Code: "R8", Label: "last grant awarded more than 2 years ago"},
}

var greenFlags = []Flag{
	{Code: "G1", Label: "mission mentions STEM, coding, robotics, or girls in STEM"},
	{Code: "G2", Label: "past grantees include STEM programs or coding orgs"},
	{Code: "G3", Label: "based in or funds {state}"},
	{Code: "G4", Label: "past grants in {cities}"},
	{Code: "G5", Label: "age group: middle school, grades 6-8, youth, or K-12"},
	{Code: "G6", Label: "equity focus: underserved, low-income, or Title I"},
	{Code: "G7", Label: "typical grant between $5,000 and $50,000"},
	{Code: "G8", Label: "grants awarded in the last 12 months"},
}

// RedFlags returns the red-flag catalog in checklist order.
func RedFlags() []Flag {
	out := make([]Flag, len(redFlags))
	copy(out, redFlags)
	return out
}

// GreenFlags returns the green-flag catalog in checklist order.
func GreenFlags() []Flag {
	out := make([]Flag, len(greenFlags))
	copy(out, greenFlags)
	return out
}

// NormalizeRedFlag resolves a model-returned code against the red catalog,
// case-insensitively. ok is false for unknown codes.
func NormalizeRedFlag(code string) (string, bool) {
	return normalizeFlag(code, redFlags)
}

// NormalizeGreenFlag resolves a model-returned code against the green catalog.
func NormalizeGreenFlag(code string) (string, bool) {
	return normalizeFlag(code, greenFlags)
}

func normalizeFlag(code string, catalog []Flag) (string, bool) {
	code = strings.TrimSpace(code)
	for _, f := range catalog {
		if strings.EqualFold(code, f.Code) {
			return f.Code, true
		}
	}
	return "", false
}
