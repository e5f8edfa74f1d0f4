package engine

import (
	"context"
	"strings"
)

// EchoEngine replies deterministically with the user text. History and the
// system prompt never influence the output.
type EchoEngine struct {
	params Params
}

func NewEcho(params Params) *EchoEngine { return &EchoEngine{params: params} }

func (e *EchoEngine) Name() string { return "echo" }

func (e *EchoEngine) Model() string { return "echo" }

func (e *EchoEngine) Generate(ctx context.Context, req Request) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, classifyCtxErr(ctx, ctx.Err())
	default:
	}

	words := strings.Fields("[echo] " + strings.TrimSpace(req.UserText))
	if e.params.MaxTokens > 0 && len(words) > e.params.MaxTokens {
		words = words[:e.params.MaxTokens]
	}
	text := strings.Join(words, " ")

	fitted := Fit(req, e.params)
	prompt := PromptTokens(fitted)
	return Reply{
		Text: text,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: len(words),
			TotalTokens:      prompt + len(words),
		},
	}, nil
}
