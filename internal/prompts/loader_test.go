package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writePrompt(t *testing.T, dir, file, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o600); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
}

func TestDefaults_AllPromptsPresent(t *testing.T) {
	t.Parallel()

	set := Defaults()
	want := []string{Analyst, Banter, BanterNight, Morning, Recommender, SMS}
	if diff := cmp.Diff(want, set.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	for _, name := range want {
		if strings.TrimSpace(set.System(name)) == "" {
			t.Errorf("prompt %s has empty body", name)
		}
	}
	if got := set.MaxTokens(Banter, 999); got != 50 {
		t.Errorf("banter max tokens = %d, want 50", got)
	}
	if got := set.MaxTokens(BanterNight, 7); got != 7 {
		t.Errorf("banter_night max tokens = %d, want fallback 7", got)
	}
	if !strings.HasPrefix(set.Get(Analyst).Source, "embedded:") {
		t.Errorf("source = %q", set.Get(Analyst).Source)
	}
}

func TestLoad_OverridesByName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePrompt(t, dir, "analyst.md", "---\nname: analyst\nmaxTokens: 2048\n---\nSummarise in English.\n")
	writePrompt(t, dir, "notes.txt", "ignored")

	set, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := set.System(Analyst); got != "Summarise in English." {
		t.Errorf("analyst = %q", got)
	}
	if got := set.MaxTokens(Analyst, 0); got != 2048 {
		t.Errorf("max tokens = %d", got)
	}
	if set.System(Recommender) == "" {
		t.Error("untouched defaults should survive an override")
	}
}

func TestLoad_PlainFileUsesFileName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePrompt(t, dir, "sms.md", "짧게 인사해.\n")
	set, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := set.System(SMS); got != "짧게 인사해." {
		t.Errorf("sms = %q", got)
	}
}

func TestLoad_MissingDirKeepsDefaults(t *testing.T) {
	t.Parallel()

	set, err := Load(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.System(Analyst) != Defaults().System(Analyst) {
		t.Error("missing dir should return defaults")
	}
}

func TestLoad_SkipsInvalidYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePrompt(t, dir, "analyst.md", "---\nname: [broken\n---\nbody\n")
	set, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.System(Analyst) != Defaults().System(Analyst) {
		t.Error("invalid override should be skipped")
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePrompt(t, dir, "a.md", "---\nname: analyst\n---\none\n")
	writePrompt(t, dir, "b.md", "---\nname: analyst\n---\ntwo\n")
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "duplicate prompt name") {
		t.Fatalf("err = %v, want duplicate name error", err)
	}

	unclosed := t.TempDir()
	writePrompt(t, unclosed, "analyst.md", "---\nname: analyst\nbody without end\n")
	if _, err := Load(unclosed); err == nil {
		t.Fatal("expected error for unclosed frontmatter")
	}

	file := filepath.Join(t.TempDir(), "file.md")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(file); err == nil {
		t.Fatal("expected error when path is a file")
	}
}

func TestGet_Unknown(t *testing.T) {
	t.Parallel()

	p := Defaults().Get("nope")
	if p.Name != "nope" || p.System != "" {
		t.Errorf("Get(unknown) = %+v", p)
	}
}
