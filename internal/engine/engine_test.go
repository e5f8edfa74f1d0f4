package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEchoIsDeterministic(t *testing.T) {
	e := NewEcho(DefaultParams())
	req := Request{SystemPrompt: "be nice", UserText: "hello booth"}

	first, err := e.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if first.Text != "[echo] hello booth" {
		t.Fatalf("Text = %q, want %q", first.Text, "[echo] hello booth")
	}

	withHistory := req
	withHistory.History = []Message{{Role: RoleUser, Content: "earlier"}, {Role: RoleAssistant, Content: "reply"}}
	second, err := e.Generate(context.Background(), withHistory)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if second.Text != first.Text {
		t.Fatalf("history changed echo output: %q vs %q", second.Text, first.Text)
	}
	if first.Usage.CompletionTokens != 3 {
		t.Fatalf("CompletionTokens = %d, want 3", first.Usage.CompletionTokens)
	}
}

func TestEchoCapsToMaxTokens(t *testing.T) {
	p := DefaultParams()
	p.MaxTokens = 3
	e := NewEcho(p)

	reply, err := e.Generate(context.Background(), Request{UserText: "one two three four five"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply.Text != "[echo] one two" {
		t.Fatalf("Text = %q, want capped output", reply.Text)
	}
}

func TestParamsValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Params) {}, ok: true},
		{name: "temperature high", mutate: func(p *Params) { p.Temperature = 2.5 }},
		{name: "temperature negative", mutate: func(p *Params) { p.Temperature = -0.1 }},
		{name: "top_p zero", mutate: func(p *Params) { p.TopP = 0 }},
		{name: "max tokens zero", mutate: func(p *Params) { p.MaxTokens = 0 }},
		{name: "max tokens exceeds context", mutate: func(p *Params) { p.MaxTokens = 4096 }},
		{name: "context tiny", mutate: func(p *Params) { p.ContextLength = 64 }},
		{name: "gpu negative", mutate: func(p *Params) { p.GPULayers = -1 }},
		{name: "temperature edge", mutate: func(p *Params) { p.Temperature = 2 }, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.mutate(&p)
			err := p.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("Validate() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestNewRejectsUnknownKindAndBadParams(t *testing.T) {
	if _, err := New(context.Background(), Config{Kind: "gpt-9", Params: DefaultParams()}); err == nil {
		t.Fatalf("New() error = nil, want unsupported kind")
	}

	bad := DefaultParams()
	bad.Temperature = 3
	if _, err := New(context.Background(), Config{Kind: "echo", Params: bad}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("New() error = %v, want ErrInvalidParams", err)
	}

	e, err := New(context.Background(), Config{Params: DefaultParams()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Name() != "echo" {
		t.Fatalf("Name() = %q, want echo default", e.Name())
	}
}

func TestFitDropsOldestHistoryFirst(t *testing.T) {
	p := Params{ContextLength: 256, MaxTokens: 100, Temperature: 0.8, TopP: 0.9}
	long := strings.Repeat("word ", 40)

	var history []Message
	for i := 0; i < 6; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, Message{Role: role, Content: long + string(rune('a'+i))})
	}
	req := Request{SystemPrompt: "system prompt stays", History: history, UserText: "latest question"}

	fitted := Fit(req, p)
	if fitted.SystemPrompt != req.SystemPrompt || fitted.UserText != req.UserText {
		t.Fatalf("Fit() altered system prompt or user turn")
	}
	if len(fitted.History) >= len(history) {
		t.Fatalf("len(History) = %d, want truncation below %d", len(fitted.History), len(history))
	}
	if PromptTokens(fitted) > p.ContextLength-p.MaxTokens {
		t.Fatalf("PromptTokens = %d, exceeds budget %d", PromptTokens(fitted), p.ContextLength-p.MaxTokens)
	}
	last := fitted.History[len(fitted.History)-1]
	if last.Content != history[len(history)-1].Content {
		t.Fatalf("newest history message dropped")
	}
	if fitted.History[0].Role != RoleUser {
		t.Fatalf("truncated history starts with %q, want user", fitted.History[0].Role)
	}
	if len(req.History) != 6 {
		t.Fatalf("Fit() mutated caller history")
	}
}

func TestFitKeepsSystemPromptWhenOverBudget(t *testing.T) {
	p := Params{ContextLength: 256, MaxTokens: 200, Temperature: 0.8, TopP: 0.9}
	req := Request{
		SystemPrompt: strings.Repeat("rule ", 200),
		History:      []Message{{Role: RoleUser, Content: "hi"}},
		UserText:     "hello",
	}
	fitted := Fit(req, p)
	if len(fitted.History) != 0 {
		t.Fatalf("len(History) = %d, want 0", len(fitted.History))
	}
	if fitted.SystemPrompt != req.SystemPrompt {
		t.Fatalf("system prompt dropped")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("EstimateTokens(empty) = %d, want 0", got)
	}
	if got := EstimateTokens("a b c d e"); got != 5 {
		t.Fatalf("EstimateTokens(words) = %d, want 5", got)
	}
	if got := EstimateTokens("abcdefghijklmnop"); got != 4 {
		t.Fatalf("EstimateTokens(runes) = %d, want 4", got)
	}
}
