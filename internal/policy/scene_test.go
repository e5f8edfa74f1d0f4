package policy

import (
	"strings"
	"testing"
)

func TestSanitizeSceneDropsIdentityTags(t *testing.T) {
	in := Scene{
		Caption: "A room with a red umbrella",
		Tags:    []string{"Umbrella", "woman", "red hat!", "asian", "30 years old", "umbrella", "plant"},
	}
	out, dropped := SanitizeScene(in)
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	want := []string{"umbrella", "red hat", "plant"}
	if strings.Join(out.Tags, "|") != strings.Join(want, "|") {
		t.Fatalf("Tags = %v, want %v", out.Tags, want)
	}
	if out.Caption != in.Caption {
		t.Fatalf("Caption = %q, want unchanged", out.Caption)
	}
}

func TestSanitizeSceneClearsIdentifyingCaption(t *testing.T) {
	out, dropped := SanitizeScene(Scene{Caption: "An elderly man smiling"})
	if out.Caption != "" || dropped != 1 {
		t.Fatalf("got caption %q dropped %d, want cleared", out.Caption, dropped)
	}
	if !out.Empty() {
		t.Fatalf("Empty() = false, want true")
	}
	if out.PromptFragment() != "" {
		t.Fatalf("PromptFragment() = %q, want empty", out.PromptFragment())
	}
}

func TestScenePromptFragment(t *testing.T) {
	frag := Scene{Caption: "A neon-lit booth", Tags: []string{"umbrella", "guitar"}}.PromptFragment()
	if !strings.Contains(frag, "A neon-lit booth.") || !strings.Contains(frag, "umbrella, guitar") {
		t.Fatalf("PromptFragment() = %q", frag)
	}
}

func TestSanitizeSceneKeepsColourAndSizeOnClothing(t *testing.T) {
	in := Scene{
		Caption: "a white wall behind a person in a black jacket",
		Tags:    []string{"black jacket", "white shirt", "old poster", "short sleeves", "tall hat", "red hat"},
	}
	out, dropped := SanitizeScene(in)
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0 (tags %v)", dropped, out.Tags)
	}
	if len(out.Tags) != len(in.Tags) {
		t.Fatalf("Tags = %v, want all of %v", out.Tags, in.Tags)
	}
	if out.Caption != in.Caption {
		t.Fatalf("Caption = %q, want unchanged", out.Caption)
	}
}

func TestSanitizeSceneDropsPersonDescriptions(t *testing.T) {
	cases := []string{
		"black woman",
		"white guy",
		"old man",
		"young person",
		"tall person",
		"dark-skinned visitor",
		"pale skin",
		"her name is ada",
	}
	for _, tag := range cases {
		t.Run(tag, func(t *testing.T) {
			out, dropped := SanitizeScene(Scene{Tags: []string{tag}})
			if dropped != 1 || len(out.Tags) != 0 {
				t.Fatalf("SanitizeScene(%q) tags=%v dropped=%d, want dropped", tag, out.Tags, dropped)
			}
		})
	}

	out, _ := SanitizeScene(Scene{Caption: "an old lady in a white shirt"})
	if out.Caption != "" {
		t.Fatalf("Caption = %q, want cleared", out.Caption)
	}
}
