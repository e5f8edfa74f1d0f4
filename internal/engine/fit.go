package engine

import (
	"strings"
	"unicode/utf8"
)

// messageOverhead approximates role markers and separators added per message.
const messageOverhead = 4

// EstimateTokens approximates a token count without a tokenizer: roughly four
// runes per token, and never fewer tokens than words.
func EstimateTokens(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	byRunes := (utf8.RuneCountInString(s) + 3) / 4
	words := len(strings.Fields(s))
	if words > byRunes {
		return words
	}
	return byRunes
}

// PromptTokens estimates the prompt size of req including per-message overhead.
func PromptTokens(req Request) int {
	n := EstimateTokens(req.SystemPrompt) + messageOverhead
	n += EstimateTokens(req.UserText) + messageOverhead
	for _, m := range req.History {
		n += EstimateTokens(m.Content) + messageOverhead
	}
	return n
}

// Fit drops the oldest history messages until the prompt plus the reserved
// completion budget fits the context window. The system prompt and the current
// user turn are always kept. The returned request never aliases req.History.
func Fit(req Request, p Params) Request {
	budget := p.ContextLength - p.MaxTokens
	out := req
	out.History = append([]Message(nil), req.History...)

	total := PromptTokens(out)
	for len(out.History) > 0 && total > budget {
		total -= EstimateTokens(out.History[0].Content) + messageOverhead
		out.History = out.History[1:]
	}
	// Keep history starting on a user turn so the model never sees an orphan reply.
	if len(out.History) < len(req.History) && len(out.History) > 0 && out.History[0].Role == RoleAssistant {
		out.History = out.History[1:]
	}
	return out
}
