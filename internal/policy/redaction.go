package policy

import "regexp"

type redactor struct {
	pattern *regexp.Regexp
	marker  string
}

// Card numbers run before phone numbers so long digit runs are not classified as phones.
var redactors = []redactor{
	{pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), marker: "[REDACTED_EMAIL]"},
	{pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), marker: "[REDACTED_CARD]"},
	{pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), marker: "[REDACTED_PHONE]"},
}

// RedactPII masks contact and payment details a visitor may speak aloud
// before the utterance is persisted in session history.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactors {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
