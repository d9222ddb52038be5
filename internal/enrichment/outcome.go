package enrichment

import "strings"

const OutcomeOther = "other"

// Outcomes is the closed label set for call outcome classification.
var Outcomes = []string{
	"interested",
	"not_interested",
	"callback_requested",
	"voicemail",
	"wrong_number",
	"no_answer",
	OutcomeOther,
}

// NormalizeOutcome maps model free text onto Outcomes, substituting
// OutcomeOther when nothing matches.
func NormalizeOutcome(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, " .,!\"'`")
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for _, o := range Outcomes {
		if s == o {
			return o
		}
	}
	return OutcomeOther
}
