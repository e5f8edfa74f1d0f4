package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type metadata struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	DefaultVoice string `json:"default_voice"`
	ReplyLength  string `json:"reply_length"`
}

// Load reads personas from dir, one sub-directory per persona holding
// metadata.json and system_prompt.txt. A missing dir yields the built-in seed
// catalog. guardrailsPath defaults to <dir>/guardrails.txt, then DefaultGuardrails.
func Load(dir, guardrailsPath string) (*Catalog, error) {
	guardrails, err := loadGuardrails(dir, guardrailsPath)
	if err != nil {
		return nil, err
	}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return NewCatalog(Seed(), guardrails), nil
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return NewCatalog(Seed(), guardrails), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat persona dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona dir %q is not a directory", dir)
	}

	metaPaths, err := filepath.Glob(filepath.Join(dir, "*", "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("glob personas: %w", err)
	}
	if len(metaPaths) == 0 {
		return NewCatalog(Seed(), guardrails), nil
	}

	items := make([]Persona, 0, len(metaPaths))
	for _, metaPath := range metaPaths {
		p, err := loadOne(metaPath)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return NewCatalog(items, guardrails), nil
}

func loadOne(metaPath string) (Persona, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return Persona{}, fmt.Errorf("read %s: %w", metaPath, err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Persona{}, fmt.Errorf("parse %s: %w", metaPath, err)
	}
	if strings.TrimSpace(meta.ID) == "" {
		meta.ID = filepath.Base(filepath.Dir(metaPath))
	}

	prompt, err := os.ReadFile(filepath.Join(filepath.Dir(metaPath), "system_prompt.txt"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Persona{}, fmt.Errorf("read system prompt for %s: %w", meta.ID, err)
	}

	return Persona{
		ID:           meta.ID,
		Name:         meta.Name,
		Description:  meta.Description,
		SystemPrompt: strings.TrimSpace(string(prompt)),
		DefaultVoice: meta.DefaultVoice,
		ReplyLength:  meta.ReplyLength,
	}, nil
}

func loadGuardrails(dir, path string) (string, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if strings.TrimSpace(dir) == "" {
			return DefaultGuardrails, nil
		}
		path = filepath.Join(dir, "guardrails.txt")
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return DefaultGuardrails, nil
	}
	if err != nil {
		return "", fmt.Errorf("read guardrails: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
