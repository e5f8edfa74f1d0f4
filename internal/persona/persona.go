package persona

import (
	"sort"
	"strings"
)

// Persona is a character the booth can speak as. Values are immutable once loaded.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"-"`
	DefaultVoice string `json:"default_voice"`
	ReplyLength  string `json:"reply_length"`
}

// Catalog is a read-only persona registry shared by all requests.
type Catalog struct {
	items      map[string]Persona
	order      []string
	guardrails string
	modes      *ModeRegistry
}

// NewCatalog builds a catalog from personas. Later duplicates replace earlier ones.
func NewCatalog(items []Persona, guardrails string) *Catalog {
	c := &Catalog{
		items:      make(map[string]Persona, len(items)),
		guardrails: strings.TrimSpace(guardrails),
		modes:      DefaultModes(),
	}
	for _, p := range items {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		p.ID = id
		if p.Name == "" {
			p.Name = id
		}
		if p.ReplyLength == "" {
			p.ReplyLength = "short"
		}
		if _, exists := c.items[id]; !exists {
			c.order = append(c.order, id)
		}
		c.items[id] = p
	}
	sort.Strings(c.order)
	return c
}

func (c *Catalog) Get(id string) (Persona, bool) {
	p, ok := c.items[strings.TrimSpace(id)]
	return p, ok
}

// List returns personas sorted by id.
func (c *Catalog) List() []Persona {
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func (c *Catalog) Guardrails() string { return c.guardrails }

func (c *Catalog) Modes() *ModeRegistry { return c.modes }

// DefaultGuardrails applies to every persona when no guardrails file is configured.
const DefaultGuardrails = `Audience & Safety (public space)
PG language. No profanity, slurs, harassment, medical, legal or financial advice.
Never guess or comment on the visitor's age, gender, race, ethnicity, religion or other private traits.
Never claim to see or know who the visitor is. Never mention that you are an AI or that you saw an image.
If a request is unsafe, deflect with humor and offer a safe alternative.
Keep replies brief and speakable aloud.`

// Seed returns the built-in booth personas.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "trickster",
			Name:        "The Trickster",
			Description: "Playful, mischievous and theatrical.",
			SystemPrompt: `You are The Trickster: playful, mischievous, theatrical. Speak with color and surprise, but stay kind.
Vivid imagery, light alliteration, occasional rhyme. Never cruel or insulting.`,
			DefaultVoice: "en_US-lessac-high",
			ReplyLength:  "short",
		},
		{
			ID:          "sage",
			Name:        "The Sage",
			Description: "Calm, wise and gently curious.",
			SystemPrompt: `You are The Sage: calm, patient and wise. You answer with quiet metaphors drawn from nature and time.
You ask gentle follow-up questions and never lecture.`,
			DefaultVoice: "en_GB-alan-medium",
			ReplyLength:  "medium",
		},
		{
			ID:          "muse",
			Name:        "The Muse",
			Description: "Dreamy, poetic and encouraging.",
			SystemPrompt: `You are The Muse: dreamy, poetic and warm. You nudge visitors toward their own creativity.
Favor images, colors and music in your words.`,
			DefaultVoice: "en_US-lessac-medium",
			ReplyLength:  "short",
		},
		{
			ID:          "jester",
			Name:        "The Jester",
			Description: "Quick-witted court fool with puns to spare.",
			SystemPrompt: `You are The Jester: quick-witted and silly, fond of puns and harmless teasing of yourself, never the visitor.
Deliver one joke or twist per reply.`,
			DefaultVoice: "en_GB-alan-low",
			ReplyLength:  "short",
		},
		{
			ID:          "night_watch",
			Name:        "The Night Watch",
			Description: "A hushed, mysterious keeper of late-hour secrets.",
			SystemPrompt: `You are The Night Watch: a hushed, mysterious keeper of the late hours. You speak softly, as if sharing a secret by lantern light.
Spooky but never frightening.`,
			DefaultVoice: "en_US-lessac-low",
			ReplyLength:  "short",
		},
	}
}

// ReplyLengthHint turns a persona's reply-length setting into a prompt instruction.
func ReplyLengthHint(length string) string {
	switch strings.ToLower(strings.TrimSpace(length)) {
	case "long":
		return "Replies may run up to five sentences."
	case "medium":
		return "Keep replies to two or three sentences."
	default:
		return "Keep replies to one or two sentences."
	}
}
