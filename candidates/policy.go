package candidates

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/minios-linux/docweave/glossary"
	"github.com/minios-linux/docweave/provider"
)

// Sample is one translated document offered for term extraction.
type Sample struct {
	Document    string
	Source      string
	Translation string
}

// Policy extracts candidate terms from a sample.
type Policy interface {
	Name() string
	Extract(ctx context.Context, s Sample) ([]Term, error)
}

// Policy names accepted by NewPolicy.
const (
	PolicyParenthetical = "parenthetical"
	PolicyModel         = "model"
	PolicyNone          = "none"
)

// NewPolicy returns the named policy. The model policy needs a client.
func NewPolicy(name string, client provider.Client, model string, g *glossary.Glossary) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyParenthetical:
		return Parenthetical{}, nil
	case PolicyModel:
		if client == nil {
			return nil, fmt.Errorf("candidate policy %q requires a provider", name)
		}
		return &Model{Client: client, Model: model, Glossary: g}, nil
	case PolicyNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown candidate policy %q", name)
	}
}

// ---------------------------------------------------------------------------
// None
// ---------------------------------------------------------------------------

// None collects nothing.
type None struct{}

func (None) Name() string { return PolicyNone }

func (None) Extract(context.Context, Sample) ([]Term, error) { return nil, nil }

// ---------------------------------------------------------------------------
// Parenthetical
// ---------------------------------------------------------------------------

// Parenthetical finds terms the translator kept in the source language next
// to their rendering, as in "доказательство с нулевым разглашением
// (zero-knowledge proof)".
type Parenthetical struct{}

var parenPattern = regexp.MustCompile(`([^\s()]+(?:[ \t]+[^\s()]+){0,4})[ \t]+\(([A-Za-z][A-Za-z0-9 .+/-]{1,60})\)`)

const maxContext = 200

func (Parenthetical) Name() string { return PolicyParenthetical }

func (Parenthetical) Extract(_ context.Context, s Sample) ([]Term, error) {
	var out []Term
	now := time.Now().UTC()
	for _, line := range strings.Split(s.Translation, "\n") {
		for _, m := range parenPattern.FindAllStringSubmatch(line, -1) {
			term := strings.TrimSpace(m[2])
			translation := rendering(m[1], len(strings.Fields(term)))
			if translation == "" || !hasLetter(term) {
				continue
			}
			out = append(out, Term{
				Term:        term,
				Translation: translation,
				Document:    s.Document,
				Context:     clip(strings.TrimSpace(line), maxContext),
				FirstSeen:   now,
			})
		}
	}
	return out, nil
}

// rendering takes as many trailing non-ASCII words before the parenthesis
// as the source term has words, capped at 4.
func rendering(prefix string, words int) string {
	if words < 1 {
		words = 1
	}
	if words > 4 {
		words = 4
	}
	fields := strings.Fields(prefix)
	var picked []string
	for i := len(fields) - 1; i >= 0 && len(picked) < words; i-- {
		w := strings.Trim(fields[i], ",;:«»\"'")
		if w == "" || isASCII(w) {
			break
		}
		picked = append([]string{w}, picked...)
	}
	return strings.Join(picked, " ")
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Model asks the text-generation service for a JSON list of terms.
type Model struct {
	Client   provider.Client
	Model    string
	Glossary *glossary.Glossary
	// MaxChars bounds the translation excerpt sent for extraction.
	MaxChars int
}

const modelSystem = `You are a terminology assistant. Given a source text and its translation, list technical terms that have a consistent translation and are worth adding to a glossary. Skip terms listed as already known. Answer with a JSON array only: [{"term_en": "...", "term_ru": "...", "context": "..."}].`

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func (*Model) Name() string { return PolicyModel }

func (m *Model) Extract(ctx context.Context, s Sample) ([]Term, error) {
	limit := m.MaxChars
	if limit <= 0 {
		limit = 20000
	}

	var b strings.Builder
	if m.Glossary.Len() > 0 {
		b.WriteString("Already known terms:\n")
		for _, e := range m.Glossary.Entries() {
			fmt.Fprintf(&b, "- %s\n", e.Term)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "SOURCE:\n%s\n\nTRANSLATION:\n%s\n", clip(s.Source, limit), clip(s.Translation, limit))

	resp, err := m.Client.Translate(ctx, provider.Request{
		Model:     m.Model,
		MaxTokens: 4096,
		System:    modelSystem,
		Messages:  []provider.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("candidate extraction: %w", err)
	}

	content := strings.TrimSpace(resp.Text)
	if match := markdownCodeBlock.FindStringSubmatch(content); len(match) > 1 {
		content = match[1]
	}
	var raw []struct {
		Term        string `json:"term_en"`
		Translation string `json:"term_ru"`
		Context     string `json:"context"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("candidate extraction: parsing answer: %w", err)
	}

	now := time.Now().UTC()
	out := make([]Term, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Term) == "" {
			continue
		}
		out = append(out, Term{
			Term:        r.Term,
			Translation: r.Translation,
			Document:    s.Document,
			Context:     clip(r.Context, maxContext),
			FirstSeen:   now,
		})
	}
	return out, nil
}
