package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/charbooth/internal/reliability"
)

// OllamaEngine forwards generation to an Ollama server's chat endpoint.
type OllamaEngine struct {
	base   string
	url    string
	model  string
	params Params
	client *http.Client
}

func NewOllama(baseURL, model string, params Params, timeout time.Duration) *OllamaEngine {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if strings.TrimSpace(model) == "" {
		model = "llama3.1:8b"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OllamaEngine{
		base:   base,
		url:    base + "/api/chat",
		model:  strings.TrimSpace(model),
		params: params,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (e *OllamaEngine) Name() string { return "ollama" }

func (e *OllamaEngine) Model() string { return e.model }

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the models installed on the Ollama server.
func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.base+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	res, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyCtxErr(ctx, err)
		}
		return nil, fmt.Errorf("%w: list models: %v", ErrEngineUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("%w: ollama tags status %d: %s", ErrEngineUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ollamaTagsResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode tags: %v", ErrEngineUnavailable, err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		if name := strings.TrimSpace(m.Name); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx"`
	NumGPU      int     `json:"num_gpu,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func (e *OllamaEngine) Generate(ctx context.Context, req Request) (Reply, error) {
	fitted := Fit(req, e.params)

	messages := make([]ollamaMessage, 0, len(fitted.History)+2)
	messages = append(messages, ollamaMessage{Role: "system", Content: fitted.SystemPrompt})
	for _, m := range fitted.History {
		messages = append(messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, ollamaMessage{Role: string(RoleUser), Content: fitted.UserText})

	payload, err := json.Marshal(ollamaChatRequest{
		Model:    e.model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: e.params.Temperature,
			TopP:        e.params.TopP,
			NumPredict:  e.params.MaxTokens,
			NumCtx:      e.params.ContextLength,
			NumGPU:      e.params.GPULayers,
		},
	})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, classifyCtxErr(ctx, err)
		}
		return Reply{}, fmt.Errorf("%w: send request: %v", ErrEngineUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) || res.StatusCode == http.StatusNotFound {
			return Reply{}, fmt.Errorf("%w: ollama http status %d: %s", ErrEngineUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
		}
		return Reply{}, fmt.Errorf("ollama http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return Reply{}, classifyCtxErr(ctx, err)
		}
		return Reply{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return Reply{}, fmt.Errorf("%w: ollama: %s", ErrEngineUnavailable, out.Error)
	}

	usage := Usage{PromptTokens: out.PromptEvalCount, CompletionTokens: out.EvalCount}
	text := strings.TrimSpace(out.Message.Content)
	if usage.PromptTokens == 0 {
		usage.PromptTokens = PromptTokens(fitted)
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = EstimateTokens(text)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return Reply{Text: text, Usage: usage}, nil
}
