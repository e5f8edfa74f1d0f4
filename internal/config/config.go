package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the booth backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	SessionStore           string
	SessionTTL             time.Duration
	SessionHistoryMaxTurns int
	SessionJanitorInterval time.Duration
	DatabaseURL            string
	SQLitePath             string

	PersonaDir     string
	GuardrailsPath string

	LLMEngine        string
	LLMTimeout       time.Duration
	LLMContextLength int
	LLMTemperature   float64
	LLMTopP          float64
	LLMMaxTokens     int
	LLMGPULayers     int

	LlamaCppCLI       string
	LlamaCppModelPath string

	OllamaURL   string
	OllamaModel string

	ArkAPIKey  string
	ArkModel   string
	ArkBaseURL string
	ArkRegion  string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "charbooth"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		SessionStore:     strings.ToLower(envOrDefault("SESSION_STORE", "memory")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SQLitePath:       envOrDefault("SQLITE_PATH", "data/sessions.db"),
		PersonaDir:       envOrDefault("PERSONA_DIR", "assets/personas"),
		GuardrailsPath:   stringsTrimSpace("GUARDRAILS_PATH"),
		LLMEngine:        strings.ToLower(envOrDefault("LLM_ENGINE", "echo")),
		LlamaCppCLI:      envOrDefault("LLAMACPP_CLI", "llama-cli"),
		// Quantized 8B model fits the booth backend's single consumer GPU.
		LlamaCppModelPath: envOrDefault("LLAMACPP_MODEL_PATH", "/models/llama3.1-8b.Q4_K_M.gguf"),
		OllamaURL:         envOrDefault("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:       envOrDefault("OLLAMA_MODEL", "llama3.1:8b"),
		ArkAPIKey:         stringsTrimSpace("ARK_API_KEY"),
		ArkModel:          stringsTrimSpace("ARK_MODEL"),
		ArkBaseURL:        stringsTrimSpace("ARK_BASE_URL"),
		ArkRegion:         stringsTrimSpace("ARK_REGION"),

		ShutdownTimeout:        15 * time.Second,
		SessionTTL:             10 * time.Minute,
		SessionHistoryMaxTurns: 8,
		SessionJanitorInterval: 30 * time.Second,
		LLMTimeout:             30 * time.Second,
		LLMContextLength:       2048,
		LLMTemperature:         0.8,
		LLMTopP:                0.9,
		LLMMaxTokens:           180,
		LLMGPULayers:           0,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionHistoryMaxTurns, err = intFromEnv("SESSION_HISTORY_MAX_TURNS", cfg.SessionHistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionJanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMContextLength, err = intFromEnv("LLM_CONTEXT_LENGTH", cfg.LLMContextLength)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTopP, err = floatFromEnv("LLM_TOP_P", cfg.LLMTopP)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMGPULayers, err = intFromEnv("LLM_GPU_LAYERS", cfg.LLMGPULayers)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < time.Second {
		return Config{}, fmt.Errorf("SESSION_TTL must be at least 1s")
	}
	if cfg.SessionHistoryMaxTurns <= 0 {
		return Config{}, fmt.Errorf("SESSION_HISTORY_MAX_TURNS must be positive")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	switch cfg.SessionStore {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return Config{}, fmt.Errorf("SQLITE_PATH is required when SESSION_STORE=sqlite")
		}
	default:
		return Config{}, fmt.Errorf("invalid SESSION_STORE %q (expected memory|postgres|sqlite)", cfg.SessionStore)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("invalid APP_LOG_FORMAT %q (expected json|text)", cfg.LogFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	// Bare integers are seconds, matching the original deployment files.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
