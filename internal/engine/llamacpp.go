package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// LlamaCppEngine runs local inference by invoking the llama.cpp CLI against a
// GGUF model file. Each call is an independent process.
type LlamaCppEngine struct {
	binaryPath string
	modelPath  string
	params     Params
}

func NewLlamaCpp(binaryPath, modelPath string, params Params) (*LlamaCppEngine, error) {
	binaryPath = strings.TrimSpace(binaryPath)
	if binaryPath == "" {
		binaryPath = "llama-cli"
	}
	resolved, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: llama.cpp cli %q: %v", ErrEngineUnavailable, binaryPath, err)
	}
	modelPath = strings.TrimSpace(modelPath)
	if modelPath == "" {
		return nil, fmt.Errorf("%w: llama.cpp model path is required", ErrEngineUnavailable)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model file: %v", ErrEngineUnavailable, err)
	}
	return &LlamaCppEngine{binaryPath: resolved, modelPath: modelPath, params: params}, nil
}

func (e *LlamaCppEngine) Name() string { return "llamacpp" }

// Model is the GGUF file name without its directory.
func (e *LlamaCppEngine) Model() string { return filepath.Base(e.modelPath) }

func (e *LlamaCppEngine) Generate(ctx context.Context, req Request) (Reply, error) {
	fitted := Fit(req, e.params)
	prompt := buildLlamaPrompt(fitted)

	cmd := exec.CommandContext(ctx, e.binaryPath, e.args(prompt)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of context cancellation.
			return Reply{}, classifyCtxErr(ctx, ctx.Err())
		}
		errText := strings.TrimSpace(stderr.String())
		if len(errText) > 512 {
			errText = errText[len(errText)-512:]
		}
		return Reply{}, fmt.Errorf("%w: llama.cpp failed: %v: %s", ErrEngineUnavailable, err, errText)
	}

	text := cleanLlamaOutput(stdout.String())
	promptTokens := PromptTokens(fitted)
	completion := EstimateTokens(text)
	return Reply{
		Text: text,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completion,
			TotalTokens:      promptTokens + completion,
		},
	}, nil
}

func (e *LlamaCppEngine) args(prompt string) []string {
	return []string{
		"--model", e.modelPath,
		"--prompt", prompt,
		"--n-predict", strconv.Itoa(e.params.MaxTokens),
		"--ctx-size", strconv.Itoa(e.params.ContextLength),
		"--temp", strconv.FormatFloat(e.params.Temperature, 'f', 2, 64),
		"--top-p", strconv.FormatFloat(e.params.TopP, 'f', 2, 64),
		"--n-gpu-layers", strconv.Itoa(e.params.GPULayers),
		"--no-display-prompt",
		"--no-conversation",
		"--simple-io",
	}
}

// buildLlamaPrompt renders the Llama 3 chat template.
func buildLlamaPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	writeLlamaTurn(&b, "system", req.SystemPrompt)
	for _, m := range req.History {
		writeLlamaTurn(&b, string(m.Role), m.Content)
	}
	writeLlamaTurn(&b, string(RoleUser), req.UserText)
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

func writeLlamaTurn(b *strings.Builder, role, content string) {
	b.WriteString("<|start_header_id|>")
	b.WriteString(role)
	b.WriteString("<|end_header_id|>\n\n")
	b.WriteString(strings.TrimSpace(content))
	b.WriteString("<|eot_id|>")
}

func cleanLlamaOutput(raw string) string {
	out := raw
	if i := strings.Index(out, "<|eot_id|>"); i >= 0 {
		out = out[:i]
	}
	out = strings.ReplaceAll(out, "[end of text]", "")
	return strings.TrimSpace(out)
}
