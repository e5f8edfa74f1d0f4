package persona

import (
	"regexp"
	"sort"
	"strings"
)

// ModeAuto asks the catalog to choose a concrete mode from the utterance.
const ModeAuto = "auto"

// FallbackMode is chosen by auto selection when nothing matches.
const FallbackMode = "questions"

// Mode is an instruction fragment appended to the persona prompt for one turn.
type Mode struct {
	Name          string
	Description   string
	Instruction   string
	Keywords      []string
	Synonyms      []string
	Priority      int
	RequiresScene bool
}

type ModeRegistry struct {
	modes map[string]Mode
}

func NewModeRegistry(modes ...Mode) *ModeRegistry {
	r := &ModeRegistry{modes: make(map[string]Mode, len(modes))}
	for _, m := range modes {
		r.modes[m.Name] = m
	}
	return r
}

func (r *ModeRegistry) Get(name string) (Mode, bool) {
	m, ok := r.modes[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// Valid reports whether name is a concrete mode or auto.
func (r *ModeRegistry) Valid(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == ModeAuto {
		return true
	}
	_, ok := r.modes[name]
	return ok
}

// Names returns concrete mode names sorted alphabetically.
func (r *ModeRegistry) Names() []string {
	out := make([]string, 0, len(r.modes))
	for name := range r.modes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// Select scores every eligible mode against the utterance and returns the best
// one. Exact keyword hits weigh 2, synonym hits 1.5 and adjacent-word phrase
// hits 0.5. Priority only breaks ties. Without any hit the fallback mode wins.
func (r *ModeRegistry) Select(utterance string, sceneAvailable bool) Mode {
	text := strings.ToLower(utterance)
	words := wordPattern.FindAllString(text, -1)
	padded := " " + strings.Join(words, " ") + " "

	var (
		best      Mode
		bestScore float64
		found     bool
	)
	for _, name := range r.Names() {
		m := r.modes[name]
		if m.RequiresScene && !sceneAvailable {
			continue
		}
		score := scoreMode(m, padded, words)
		if score <= 0 {
			continue
		}
		if !found || score > bestScore || (score == bestScore && m.Priority > best.Priority) {
			best, bestScore, found = m, score, true
		}
	}
	if found {
		return best
	}
	return r.modes[FallbackMode]
}

func scoreMode(m Mode, padded string, words []string) float64 {
	var score float64
	for _, k := range m.Keywords {
		if containsPhrase(padded, k) {
			score += 2
		}
	}
	for _, s := range m.Synonyms {
		if containsPhrase(padded, s) {
			score += 1.5
		}
	}
	for i := 0; i+1 < len(words); i++ {
		phrase := " " + words[i] + " " + words[i+1] + " "
		for _, k := range m.Keywords {
			if strings.Contains(k, " ") && containsPhrase(phrase, k) {
				score += 0.5
			}
		}
	}
	return score
}

// containsPhrase matches whole words only, so "hi" does not fire on "this".
func containsPhrase(padded, phrase string) bool {
	phrase = strings.Join(wordPattern.FindAllString(strings.ToLower(phrase), -1), " ")
	if phrase == "" {
		return false
	}
	return strings.Contains(padded, " "+phrase+" ")
}

// DefaultModes returns the booth's built-in conversation modes.
func DefaultModes() *ModeRegistry {
	return NewModeRegistry(
		Mode{
			Name:        "chat",
			Description: "General friendly conversation",
			Instruction: "CHAT MODE: Respond conversationally and directly. Stay in character and get to the point.",
			Keywords:    []string{"hello", "hi", "how are you", "chat", "talk", "conversation"},
			Synonyms:    []string{"hey", "greetings", "what's up", "howdy", "good morning", "good evening"},
			Priority:    1,
		},
		Mode{
			Name:        "questions",
			Description: "Ask one engaging, open-ended question",
			Instruction: "QUESTION MODE: Ask exactly one playful, open-ended question that is not too personal and suits a public space.",
			Keywords:    []string{"question", "ask", "curious", "wonder", "imagine"},
			Synonyms:    []string{"questions", "curiosity", "what if", "suppose"},
			Priority:    0,
		},
		Mode{
			Name:        "riddle",
			Description: "Give one solvable riddle",
			Instruction: "RIDDLE MODE: Give one riddle of two to four lines with a single unambiguous answer, then on a new line \"Answer: <answer>\".",
			Keywords:    []string{"riddle", "puzzle", "brain teaser", "guess", "mystery", "enigma"},
			Synonyms:    []string{"riddles", "puzzles", "conundrum", "wordplay", "mind bender"},
			Priority:    2,
		},
		Mode{
			Name:        "haiku",
			Description: "Answer as a haiku",
			Instruction: "HAIKU MODE: Reply only with a haiku of three lines in a 5-7-5 syllable pattern.",
			Keywords:    []string{"haiku", "poem", "poetry", "verse"},
			Synonyms:    []string{"rhyme", "poems", "sonnet", "limerick"},
			Priority:    2,
		},
		Mode{
			Name:        "story",
			Description: "Tell a very short story",
			Instruction: "STORY MODE: Tell a tale of at most three sentences with a twist at the end.",
			Keywords:    []string{"story", "tale", "tell me a story", "once upon a time"},
			Synonyms:    []string{"stories", "tales", "fable", "legend", "myth", "adventure"},
			Priority:    2,
		},
		Mode{
			Name:        "compliments",
			Description: "Give a genuine, creative compliment",
			Instruction: "COMPLIMENT MODE: Give one specific, sincere compliment about the visitor's energy or words. Never mention physical appearance.",
			Keywords:    []string{"compliment", "nice", "kind", "cheer", "uplift"},
			Synonyms:    []string{"compliments", "kind words", "encouraging", "praise", "cheer me up"},
			Priority:    2,
		},
		Mode{
			Name:        "advice",
			Description: "Give playful, practical advice",
			Instruction: "ADVICE MODE: Give one piece of practical, light-hearted advice. No medical, legal or financial advice.",
			Keywords:    []string{"advice", "help", "problem", "what should i do", "suggestion"},
			Synonyms:    []string{"advise", "guidance", "tip", "dilemma", "stuck", "confused"},
			Priority:    2,
		},
		Mode{
			Name:          "fashion",
			Description:   "Playful, positive style commentary",
			Instruction:   "FASHION MODE: Offer upbeat commentary on colors and overall vibe from the scene. Encouraging only, never critical.",
			Keywords:      []string{"fashion", "outfit", "style", "clothes", "how do i look"},
			Synonyms:      []string{"stylish", "outfits", "clothing", "wardrobe", "dressed"},
			Priority:      3,
			RequiresScene: true,
		},
	)
}
