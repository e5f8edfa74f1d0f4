package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToSeed(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing"), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, id := range []string{"trickster", "sage", "muse", "jester", "night_watch"} {
		if _, ok := c.Get(id); !ok {
			t.Fatalf("Get(%q) missing from seed catalog", id)
		}
	}
	if c.Guardrails() != DefaultGuardrails {
		t.Fatalf("Guardrails() = %q, want default", c.Guardrails())
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	pdir := filepath.Join(dir, "pirate")
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(pdir, "metadata.json"), `{"id":"pirate","name":"Captain","default_voice":"en_US-ryan","reply_length":"medium"}`)
	writeFile(t, filepath.Join(pdir, "system_prompt.txt"), "  Talk like a pirate.\n")
	writeFile(t, filepath.Join(dir, "guardrails.txt"), "Be safe.\n")

	c, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p, ok := c.Get("pirate")
	if !ok {
		t.Fatalf("Get(pirate) missing")
	}
	if p.SystemPrompt != "Talk like a pirate." {
		t.Fatalf("SystemPrompt = %q", p.SystemPrompt)
	}
	if p.Name != "Captain" || p.ReplyLength != "medium" || p.DefaultVoice != "en_US-ryan" {
		t.Fatalf("persona = %+v", p)
	}
	if c.Guardrails() != "Be safe." {
		t.Fatalf("Guardrails() = %q", c.Guardrails())
	}
	if _, ok := c.Get("trickster"); ok {
		t.Fatalf("seed persona leaked into directory catalog")
	}
}

func TestLoadRejectsBrokenMetadata(t *testing.T) {
	dir := t.TempDir()
	pdir := filepath.Join(dir, "broken")
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(pdir, "metadata.json"), `{"id":`)
	if _, err := Load(dir, ""); err == nil {
		t.Fatalf("Load() error = nil, want parse error")
	}
}

func TestLoadExplicitGuardrailsMustExist(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatalf("Load() error = nil, want missing guardrails error")
	}
}

func TestListIsSorted(t *testing.T) {
	c := NewCatalog(Seed(), "")
	list := c.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Fatalf("List() not sorted: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}

func TestModeSelect(t *testing.T) {
	modes := DefaultModes()
	cases := []struct {
		utterance string
		scene     bool
		want      string
	}{
		{utterance: "Tell me a riddle please", want: "riddle"},
		{utterance: "Once upon a time there was a story", want: "story"},
		{utterance: "write me a haiku about rain", want: "haiku"},
		{utterance: "I need some advice", want: "advice"},
		{utterance: "how do I look in this outfit", scene: true, want: "fashion"},
		{utterance: "how do I look in this outfit", scene: false, want: FallbackMode},
		{utterance: "hey there, how are you", want: "chat"},
		{utterance: "zxcv qwerty", want: FallbackMode},
		{utterance: "this is thin", want: FallbackMode},
	}
	for _, tc := range cases {
		got := modes.Select(tc.utterance, tc.scene)
		if got.Name != tc.want {
			t.Fatalf("Select(%q, scene=%v) = %q, want %q", tc.utterance, tc.scene, got.Name, tc.want)
		}
	}
}

func TestModeValid(t *testing.T) {
	modes := DefaultModes()
	for _, name := range []string{"chat", "riddle", "haiku", "story", "auto", " Chat "} {
		if !modes.Valid(name) {
			t.Fatalf("Valid(%q) = false, want true", name)
		}
	}
	if modes.Valid("karaoke") {
		t.Fatalf("Valid(karaoke) = true, want false")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
