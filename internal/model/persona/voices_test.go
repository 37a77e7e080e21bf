package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSelectVoiceIsDeterministic(t *testing.T) {
	catalog := DefaultVoiceCatalog()

	for _, p := range Seed() {
		first := catalog.SelectVoice("en-US", p.ID)
		if first == "" {
			t.Fatalf("no voice selected for persona %s", p.ID)
		}
		for i := 0; i < 20; i++ {
			if got := catalog.SelectVoice("en-US", p.ID); got != first {
				t.Fatalf("voice changed between derivations: %s vs %s", got, first)
			}
		}
	}
}

func TestSelectVoiceUsesLanguageVoices(t *testing.T) {
	catalog := &VoiceCatalog{
		DefaultLanguage: "en-US",
		Languages: map[string][]string{
			"en-US": {"Puck"},
			"de-DE": {"Kore"},
		},
	}

	cases := []struct {
		language string
		want     string
	}{
		{language: "de-DE", want: "Kore"},
		{language: "DE-de", want: "Kore"},
		{language: "de", want: "Kore"},
		{language: "de_AT", want: "Kore"},
		{language: "xx-YY", want: "Puck"},
		{language: "", want: "Puck"},
	}

	for _, tc := range cases {
		if got := catalog.SelectVoice(tc.language, "mentor"); got != tc.want {
			t.Fatalf("SelectVoice(%q) = %s, want %s", tc.language, got, tc.want)
		}
	}
}

func TestParseVoiceCatalogValidates(t *testing.T) {
	if _, err := ParseVoiceCatalog([]byte("languages: {}")); err == nil {
		t.Fatal("expected error for empty catalog")
	}
	if _, err := ParseVoiceCatalog([]byte("languages:\n  en-US: []\n")); err == nil {
		t.Fatal("expected error for language without voices")
	}
	if _, err := ParseVoiceCatalog([]byte("default_language: fr-FR\nlanguages:\n  en-US: [Puck]\n")); err == nil {
		t.Fatal("expected error for unknown default language")
	}

	catalog, err := ParseVoiceCatalog([]byte("languages:\n  it-IT: [Leda]\n"))
	if err != nil {
		t.Fatalf("ParseVoiceCatalog err: %v", err)
	}
	if catalog.DefaultLanguage != "it-IT" {
		t.Fatalf("expected default language it-IT, got %s", catalog.DefaultLanguage)
	}
}

func TestLoadVoiceCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte("default_language: en-US\nlanguages:\n  en-US: [Orus]\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadVoiceCatalog(path)
	if err != nil {
		t.Fatalf("LoadVoiceCatalog err: %v", err)
	}
	if got := catalog.SelectVoice("en-US", "anyone"); got != "Orus" {
		t.Fatalf("expected Orus, got %s", got)
	}

	if _, err := LoadVoiceCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolveFallsBackToDefaultPersona(t *testing.T) {
	store := NewMemoryStore(Seed())

	p, ok := Resolve(store, "unknown")
	if !ok || p.ID != DefaultID {
		t.Fatalf("expected default persona, got %+v", p)
	}

	p, ok = Resolve(store, "examiner")
	if !ok || p.ID != "examiner" {
		t.Fatalf("expected examiner, got %+v", p)
	}

	if _, ok := Resolve(NewMemoryStore(nil), "mentor"); ok {
		t.Fatal("empty store should not resolve")
	}
}
