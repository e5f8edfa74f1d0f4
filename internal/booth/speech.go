package booth

import (
	"regexp"
	"strings"
	"unicode"
)

var speechRewrites = []struct {
	pattern *regexp.Regexp
	with    string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
}

// SpeakableText strips markup, links and symbols from a reply so the
// synthesizer reads only words and plain punctuation.
func SpeakableText(reply string) string {
	text := strings.TrimSpace(reply)
	for _, rw := range speechRewrites {
		text = rw.pattern.ReplaceAllString(text, rw.with)
	}

	var b strings.Builder
	b.Grow(len(text))
	gap := true
	space := func() {
		if !gap {
			b.WriteByte(' ')
			gap = true
		}
	}
	for _, r := range text {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r), strings.ContainsRune("|~<>", r):
			space()
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// emoji and symbols
		case strings.ContainsRune(".,!?:;'\"-()", r):
			b.WriteRune(r)
			gap = false
		case unicode.IsPunct(r):
			space()
		default:
			b.WriteRune(r)
			gap = false
		}
	}
	return strings.TrimSpace(b.String())
}
