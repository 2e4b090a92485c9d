package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/glossary"
)

func testGlossary(t *testing.T) *glossary.Glossary {
	t.Helper()
	g, err := glossary.New([]glossary.Entry{
		{Term: "agent", Translation: "агент"},
		{Term: "smart contract", Translation: "смарт-контракт"},
	})
	if err != nil {
		t.Fatalf("glossary.New: %v", err)
	}
	return g
}

func TestBuildWithMissingFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, err := Build(nil, Options{
		StylePath:   filepath.Join(dir, "TRANSLATE.md"),
		CleanupPath: filepath.Join(dir, "HUMANIZER.md"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(ctx.System(), "from English to Russian") {
		t.Fatalf("System() = %q, want language pair", ctx.System())
	}
	if strings.Contains(ctx.System(), "GLOSSARY") {
		t.Fatalf("System() contains glossary section for empty glossary")
	}
}

func TestBuildIncludesAllSections(t *testing.T) {
	dir := t.TempDir()
	style := filepath.Join(dir, "TRANSLATE.md")
	cleanup := filepath.Join(dir, "HUMANIZER.md")
	if err := os.WriteFile(style, []byte("Use formal register."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cleanup, []byte("Drop filler words."), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, err := Build(testGlossary(t), Options{StylePath: style, CleanupPath: cleanup, SourceLang: "en", TargetLang: "ru"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sys := ctx.System()
	for _, want := range []string{"Use formal register.", "Drop filler words.", "- agent -> агент", "- smart contract -> смарт-контракт"} {
		if !strings.Contains(sys, want) {
			t.Fatalf("System() missing %q", want)
		}
	}
	if strings.Index(sys, "Use formal register.") > strings.Index(sys, "Drop filler words.") {
		t.Fatalf("style section must precede cleanup section")
	}
}

func TestSystemIsStable(t *testing.T) {
	a := New("rules", "", testGlossary(t), "en", "ru")
	b := New("rules", "", testGlossary(t), "en", "ru")
	if a.System() != b.System() || a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("contexts built from identical inputs differ")
	}
	c := New("other rules", "", testGlossary(t), "en", "ru")
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("fingerprint did not change with rules")
	}
}

func TestUserPositionLine(t *testing.T) {
	ctx := New("", "", nil, "en", "de")
	chunk := chunker.Chunk{Index: 1, Body: "## Two\n\nText."}

	multi := ctx.User("book.md", chunk, 3)
	if !strings.Contains(multi, "This is chunk 2/3.") {
		t.Fatalf("User() = %q, want position line", multi)
	}
	single := ctx.User("book.md", chunk, 1)
	if strings.Contains(single, "This is chunk") {
		t.Fatalf("User() contains position line for single chunk")
	}
	if strings.Contains(single, "decimal comma") {
		t.Fatalf("User() contains Russian number rules for German target")
	}
}

func TestSourceRoundTrip(t *testing.T) {
	ctx := New("", "", nil, "en", "ru")
	body := "## Heading\n\nSome *text* with `code`."
	user := ctx.User("a.md", chunker.Chunk{Body: body}, 1)

	got, ok := Source(user)
	if !ok {
		t.Fatalf("Source() found no markers")
	}
	if got != body {
		t.Fatalf("Source() = %q, want %q", got, body)
	}
	if _, ok := Source("no markers here"); ok {
		t.Fatalf("Source() = ok for text without markers")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("абвгде"); got != 2 {
		t.Fatalf("EstimateTokens = %d, want 2", got)
	}
}
