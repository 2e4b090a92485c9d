// Package prompt assembles the fixed instruction context shared by every
// chunk of a run and the per-chunk user message.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/glossary"
	"github.com/minios-linux/docweave/langmeta"
)

// Markers enclosing the source text in the user message.
const (
	BeginMarker = "---BEGIN SOURCE TEXT---"
	EndMarker   = "---END SOURCE TEXT---"
)

const rule = "============================================================"

// Options names the inputs of a translation context.
type Options struct {
	// StylePath is the translation style guide (TRANSLATE.md).
	StylePath string
	// CleanupPath holds editorial cleanup rules (HUMANIZER.md).
	CleanupPath string
	// SourceLang and TargetLang are language codes, e.g. "en" and "ru".
	SourceLang string
	TargetLang string
}

// Context is the immutable instruction set for one run.
type Context struct {
	system     string
	glossary   *glossary.Glossary
	sourceName string
	targetName string
	targetLang string
}

// Build reads the style and cleanup files and returns the run context.
// Missing files contribute empty sections.
func Build(g *glossary.Glossary, opts Options) (*Context, error) {
	style, err := readOptional(opts.StylePath)
	if err != nil {
		return nil, err
	}
	cleanup, err := readOptional(opts.CleanupPath)
	if err != nil {
		return nil, err
	}
	return New(style, cleanup, g, opts.SourceLang, opts.TargetLang), nil
}

// New builds a context from already loaded rule texts.
func New(style, cleanup string, g *glossary.Glossary, sourceLang, targetLang string) *Context {
	if g == nil {
		g = glossary.Empty()
	}
	if sourceLang == "" {
		sourceLang = "en"
	}
	if targetLang == "" {
		targetLang = "ru"
	}
	c := &Context{
		glossary:   g,
		sourceName: langmeta.Resolve(sourceLang).Name,
		targetName: langmeta.Resolve(targetLang).Name,
		targetLang: targetLang,
	}
	c.system = c.buildSystem(style, cleanup)
	return c
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func (c *Context) buildSystem(style, cleanup string) string {
	parts := []string{
		fmt.Sprintf("You are a professional technical translator from %s to %s.", c.sourceName, c.targetName),
		"Follow the rules below exactly.",
	}

	if strings.TrimSpace(style) != "" {
		parts = append(parts, rule+"\nTRANSLATION STYLE GUIDE\n"+rule, style)
	}

	if strings.TrimSpace(cleanup) != "" {
		parts = append(parts,
			rule+"\nEDITORIAL CLEANUP RULES\n"+
				"Apply only the rules that remove machine-generated phrasing.\n"+
				"Do not add a personal voice, emotions, humour or first person.\n"+rule,
			cleanup)
	}

	if c.glossary.Len() > 0 {
		lines := make([]string, 0, c.glossary.Len())
		for _, e := range c.glossary.Entries() {
			lines = append(lines, fmt.Sprintf("- %s -> %s", e.Term, e.Translation))
		}
		parts = append(parts,
			rule+"\nCANONICAL GLOSSARY\n"+
				"When a source term occurs in the text, use ONLY its canonical translation.\n"+rule,
			strings.Join(lines, "\n"))
	}

	return strings.Join(parts, "\n\n")
}

// System returns the system instruction. It is identical for every chunk.
func (c *Context) System() string {
	return c.system
}

// Glossary returns the glossary the context was built with.
func (c *Context) Glossary() *glossary.Glossary {
	return c.glossary
}

// TargetName returns the English name of the target language.
func (c *Context) TargetName() string {
	return c.targetName
}

// Fingerprint identifies the system instruction; batch records store it so
// a later poll can tell whether the rules changed since submission.
func (c *Context) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.system))
	return hex.EncodeToString(sum[:8])
}

// User builds the per-chunk user message. The position line is added only
// when the document has more than one chunk.
func (c *Context) User(document string, chunk chunker.Chunk, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following Markdown document from %s to %s.\n\n", c.sourceName, c.targetName)
	fmt.Fprintf(&b, "File: %s", document)
	if total > 1 {
		fmt.Fprintf(&b, "\n\nThis is chunk %d/%d. Translate only this fragment.", chunk.Index+1, total)
	}
	b.WriteString("\n\nCRITICAL:\n")

	rules := []string{
		"Preserve the Markdown structure 1:1 (headings, lists, tables, code blocks, links, images).",
		"Do NOT translate code blocks, URLs, contract addresses, identifiers or tickers.",
		"Use ONLY the canonical terms from the glossary.",
	}
	rules = append(rules, localeRules[c.targetLang]...)
	rules = append(rules,
		"Remove machine-generated phrasing per the cleanup rules, without adding a personal voice.",
		"Return ONLY the translated text. No comments, explanations or wrappers.",
	)
	for i, r := range rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}

	b.WriteString("\n" + BeginMarker + "\n\n")
	b.WriteString(chunk.Body)
	b.WriteString("\n\n" + EndMarker + "\n\n")
	b.WriteString("Return ONLY the translation. No preamble, no postscript.")
	return b.String()
}

// localeRules holds target-language conventions added to the user message.
var localeRules = map[string][]string{
	"ru": {
		"Number format: space as thousands separator (1 000), decimal comma (15,73), percent without a space (0,5%).",
		"Modality: must -> должен, should -> следует, can/may -> может, is required to -> обязан.",
	},
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 3
}

// Source extracts the text between the source markers of a user message.
// It returns false when the markers are absent.
func Source(user string) (string, bool) {
	start := strings.Index(user, BeginMarker)
	end := strings.LastIndex(user, EndMarker)
	if start < 0 || end < start {
		return "", false
	}
	body := user[start+len(BeginMarker) : end]
	return strings.TrimSuffix(strings.TrimPrefix(body, "\n\n"), "\n\n"), true
}
