package policy

import (
	"regexp"
	"strings"
)

// Scene is the sanitized description of the booth's single snapshot.
type Scene struct {
	Caption string   `json:"caption,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

const maxSceneTags = 12

// personNoun matches words that make a preceding adjective describe a person.
const personNoun = `(man|men|woman|women|person|people|lady|ladies|guy|boy|girl|kid|visitor|couple|skin|face|complexion)`

var (
	// Tags naming identity or demographic attributes never reach the prompt.
	// Colour, age and size words only count when they describe a person, so
	// "black jacket" or "old poster" survive.
	identityTagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(man|woman|men|women|male|female|boy|girl|lady|ladies|gender|nonbinary|trans|transgender)\b`),
		regexp.MustCompile(`(?i)\b(aged|elderly|teen|teenager|child|kid|baby|toddler|adult|senior|\d+\s*(years?|yrs?)\s*old)\b`),
		regexp.MustCompile(`(?i)\b(old|older|young|younger|middle[\s-]aged)\s+` + personNoun + `\b`),
		regexp.MustCompile(`(?i)\b(race|racial|ethnic\w*|asian|african|hispanic|latin[oax]|caucasian|skin\s*(tone|colou?r))\b`),
		regexp.MustCompile(`(?i)\b(black|white|brown|dark|pale|light)[\s-]+(skinned\s+)?` + personNoun + `\b`),
		regexp.MustCompile(`(?i)\b(religio\w*|muslim|christian|jewish|hindu|buddhist|hijab|turban|yarmulke)\b`),
		regexp.MustCompile(`(?i)\b(disab\w*|wheelchair|pregnan\w*|overweight|obese)\b`),
		regexp.MustCompile(`(?i)\b(fat|thin|skinny|tall|short|heavy|slim)\s+` + personNoun + `\b`),
		regexp.MustCompile(`(?i)\b(identity|celebrity|famous|person_id|face_id|recogni[sz](ed|able)|named|name\s+is)\b`),
	}
	tagCleaner = regexp.MustCompile(`[^\p{L}\p{N} _\-]+`)
)

// IsIdentityTag reports whether tag names a protected or identifying attribute.
func IsIdentityTag(tag string) bool {
	for _, re := range identityTagPatterns {
		if re.MatchString(tag) {
			return true
		}
	}
	return false
}

// SanitizeScene drops identity and demographic tags, normalizes the rest and
// clears captions that mention identity attributes. It returns the number of
// tags removed.
func SanitizeScene(in Scene) (Scene, int) {
	out := Scene{}
	dropped := 0
	seen := make(map[string]struct{}, len(in.Tags))
	for _, raw := range in.Tags {
		tag := strings.ToLower(strings.TrimSpace(tagCleaner.ReplaceAllString(raw, "")))
		if tag == "" {
			continue
		}
		if IsIdentityTag(tag) {
			dropped++
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		if len(out.Tags) >= maxSceneTags {
			continue
		}
		out.Tags = append(out.Tags, tag)
	}

	caption := strings.TrimSpace(in.Caption)
	if caption != "" && IsIdentityTag(caption) {
		caption = ""
		dropped++
	}
	out.Caption = caption
	return out, dropped
}

// Empty reports whether nothing usable remains.
func (s Scene) Empty() bool {
	return strings.TrimSpace(s.Caption) == "" && len(s.Tags) == 0
}

// PromptFragment renders a sanitized scene as a system prompt addendum.
func (s Scene) PromptFragment() string {
	if s.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Scene context (do not say you can see the visitor):")
	if s.Caption != "" {
		b.WriteString(" ")
		b.WriteString(s.Caption)
		if !strings.HasSuffix(s.Caption, ".") {
			b.WriteString(".")
		}
	}
	if len(s.Tags) > 0 {
		b.WriteString(" Notable: ")
		b.WriteString(strings.Join(s.Tags, ", "))
		b.WriteString(".")
	}
	return b.String()
}
