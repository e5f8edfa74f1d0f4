package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type ArkConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Region  string
}

// ChatEngine adapts an eino chat model to the Engine interface. The hosted
// Ark provider is the production binding.
type ChatEngine struct {
	name      string
	modelName string
	model     model.BaseChatModel
	params    Params
}

func NewArk(ctx context.Context, cfg ArkConfig, params Params) (*ChatEngine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("ark engine requires ARK_API_KEY and ARK_MODEL")
	}
	temperature := float32(params.Temperature)
	topP := float32(params.TopP)
	maxTokens := params.MaxTokens

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create ark chat model: %v", ErrEngineUnavailable, err)
	}
	e := NewChatEngine("ark", chatModel, params)
	e.modelName = strings.TrimSpace(cfg.Model)
	return e, nil
}

func NewChatEngine(name string, chatModel model.BaseChatModel, params Params) *ChatEngine {
	return &ChatEngine{name: name, model: chatModel, params: params}
}

func (e *ChatEngine) Name() string { return e.name }

// Model is the hosted model id, or the engine name when it was not set.
func (e *ChatEngine) Model() string {
	if e.modelName == "" {
		return e.name
	}
	return e.modelName
}

func (e *ChatEngine) Generate(ctx context.Context, req Request) (Reply, error) {
	fitted := Fit(req, e.params)

	messages := make([]*schema.Message, 0, len(fitted.History)+2)
	messages = append(messages, schema.SystemMessage(fitted.SystemPrompt))
	for _, m := range fitted.History {
		if m.Role == RoleAssistant {
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
			continue
		}
		messages = append(messages, schema.UserMessage(m.Content))
	}
	messages = append(messages, schema.UserMessage(fitted.UserText))

	out, err := e.model.Generate(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, classifyCtxErr(ctx, err)
		}
		return Reply{}, fmt.Errorf("%w: %s generate: %v", ErrEngineUnavailable, e.name, err)
	}
	if out == nil {
		return Reply{}, fmt.Errorf("%w: %s returned no message", ErrEngineUnavailable, e.name)
	}

	text := strings.TrimSpace(out.Content)
	usage := Usage{
		PromptTokens:     PromptTokens(fitted),
		CompletionTokens: EstimateTokens(text),
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		usage.PromptTokens = out.ResponseMeta.Usage.PromptTokens
		usage.CompletionTokens = out.ResponseMeta.Usage.CompletionTokens
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return Reply{Text: text, Usage: usage}, nil
}
