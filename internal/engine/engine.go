package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEngineUnavailable reports a backend that failed to load or cannot be reached.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrGenerationTimeout reports a generation that ran past its deadline.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrInvalidParams reports out-of-range generation parameters at construction.
	ErrInvalidParams = errors.New("invalid engine params")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior conversational turn handed to the engine.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized generation input.
type Request struct {
	SystemPrompt string
	History      []Message
	UserText     string
}

// Usage carries token counts. Values are approximate for backends that do not report them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Reply struct {
	Text  string
	Usage Usage
}

// Engine produces a persona reply. Implementations hold no per-session state.
type Engine interface {
	Generate(ctx context.Context, req Request) (Reply, error)
	Name() string
}

// ModelNamer is implemented by engines that know which model they load.
type ModelNamer interface {
	Model() string
}

// ModelLister is implemented by engines whose backend can enumerate models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ModelOf reports the configured model, falling back to the engine name.
func ModelOf(e Engine) string {
	if m, ok := e.(ModelNamer); ok {
		if name := m.Model(); name != "" {
			return name
		}
	}
	return e.Name()
}

// ListModels asks the backend for its installed models. Engines that cannot
// enumerate report only their configured model.
func ListModels(ctx context.Context, e Engine) ([]string, error) {
	if l, ok := e.(ModelLister); ok {
		return l.ListModels(ctx)
	}
	return []string{ModelOf(e)}, nil
}

// Params are fixed for the lifetime of an engine.
type Params struct {
	ContextLength int     `json:"context_length"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	MaxTokens     int     `json:"max_tokens"`
	GPULayers     int     `json:"gpu_layers"`
}

func DefaultParams() Params {
	return Params{
		ContextLength: 2048,
		Temperature:   0.8,
		TopP:          0.9,
		MaxTokens:     180,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Temperature < 0 || p.Temperature > 2:
		return fmt.Errorf("%w: temperature %.2f outside [0,2]", ErrInvalidParams, p.Temperature)
	case p.TopP <= 0 || p.TopP > 1:
		return fmt.Errorf("%w: top_p %.2f outside (0,1]", ErrInvalidParams, p.TopP)
	case p.MaxTokens <= 0:
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidParams)
	case p.ContextLength < 256:
		return fmt.Errorf("%w: context_length %d below 256", ErrInvalidParams, p.ContextLength)
	case p.MaxTokens >= p.ContextLength:
		return fmt.Errorf("%w: max_tokens %d leaves no room in context_length %d", ErrInvalidParams, p.MaxTokens, p.ContextLength)
	case p.GPULayers < 0:
		return fmt.Errorf("%w: gpu_layers must be >= 0", ErrInvalidParams)
	}
	return nil
}

// Config controls engine construction.
type Config struct {
	Kind   string
	Params Params

	LlamaCppCLI       string
	LlamaCppModelPath string

	OllamaURL   string
	OllamaModel string

	ArkAPIKey  string
	ArkModel   string
	ArkBaseURL string
	ArkRegion  string

	// HTTPTimeout bounds remote calls independently of the request deadline.
	HTTPTimeout time.Duration
}

func New(ctx context.Context, cfg Config) (Engine, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "echo"
	}

	switch kind {
	case "echo":
		return NewEcho(cfg.Params), nil
	case "llamacpp", "llama_cpp", "llama.cpp":
		return NewLlamaCpp(cfg.LlamaCppCLI, cfg.LlamaCppModelPath, cfg.Params)
	case "ollama":
		if strings.TrimSpace(cfg.OllamaURL) == "" {
			return nil, errors.New("ollama url is required for ollama engine")
		}
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.Params, cfg.HTTPTimeout), nil
	case "ark":
		return NewArk(ctx, ArkConfig{
			APIKey:  cfg.ArkAPIKey,
			Model:   cfg.ArkModel,
			BaseURL: cfg.ArkBaseURL,
			Region:  cfg.ArkRegion,
		}, cfg.Params)
	default:
		return nil, fmt.Errorf("unsupported engine kind %q", cfg.Kind)
	}
}

// classifyCtxErr maps context termination onto the engine error taxonomy.
func classifyCtxErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
