// Package glossary loads the canonical term mapping enforced during
// translation.
//
// The glossary file is a JSON (or YAML) array of entries:
//
//	[
//	  {"term_en": "agent", "term_ru": "агент", "definition": "...", "rationale": "..."}
//	]
//
// The generic keys "term" and "translation" are accepted as well. Keys are
// case-normalized; a missing file yields an empty glossary. Any malformed
// entry rejects the whole file.
package glossary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformed is returned when the glossary file cannot be used as a whole.
var ErrMalformed = errors.New("malformed glossary")

// Entry is a single canonical term.
type Entry struct {
	Term        string `json:"term_en" yaml:"term_en"`
	Translation string `json:"term_ru" yaml:"term_ru"`
	Definition  string `json:"definition,omitempty" yaml:"definition,omitempty"`
	Rationale   string `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// rawEntry accepts both the language-specific and the generic key names.
type rawEntry struct {
	TermEN      string `json:"term_en" yaml:"term_en"`
	TermRU      string `json:"term_ru" yaml:"term_ru"`
	Term        string `json:"term" yaml:"term"`
	Translation string `json:"translation" yaml:"translation"`
	Definition  string `json:"definition" yaml:"definition"`
	Rationale   string `json:"rationale" yaml:"rationale"`
}

// Glossary is an immutable term mapping.
type Glossary struct {
	entries []Entry
	index   map[string]int
	path    string
}

// Empty returns a glossary with no entries.
func Empty() *Glossary {
	return &Glossary{index: make(map[string]int)}
}

// Load reads a glossary file. A missing file is not an error.
func Load(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			g := Empty()
			g.path = path
			return g, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raws []rawEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raws, err = decodeYAML(data)
	default:
		raws, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrMalformed, err)
	}

	g, err := build(raws)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g.path = path
	return g, nil
}

// New builds a glossary from in-memory entries with the same validation as Load.
func New(entries []Entry) (*Glossary, error) {
	raws := make([]rawEntry, len(entries))
	for i, e := range entries {
		raws[i] = rawEntry{TermEN: e.Term, TermRU: e.Translation, Definition: e.Definition, Rationale: e.Rationale}
	}
	return build(raws)
}

func decodeJSON(data []byte) ([]rawEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("top-level value is not a JSON array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	raws := make([]rawEntry, 0, len(items))
	for i, item := range items {
		var r rawEntry
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("entry %d: %v", i, err)
		}
		raws = append(raws, r)
	}
	return raws, nil
}

func decodeYAML(data []byte) ([]rawEntry, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("top-level value is not a YAML sequence")
	}
	var raws []rawEntry
	if err := node.Content[0].Decode(&raws); err != nil {
		return nil, err
	}
	return raws, nil
}

func build(raws []rawEntry) (*Glossary, error) {
	g := &Glossary{
		entries: make([]Entry, 0, len(raws)),
		index:   make(map[string]int, len(raws)),
	}
	for i, r := range raws {
		term := firstNonEmpty(r.TermEN, r.Term)
		translation := firstNonEmpty(r.TermRU, r.Translation)
		if term == "" {
			return nil, fmt.Errorf("%w: entry %d has no term", ErrMalformed, i)
		}
		if translation == "" {
			return nil, fmt.Errorf("%w: entry %d (%q) has no translation", ErrMalformed, i, term)
		}
		key := Normalize(term)
		if prev, dup := g.index[key]; dup {
			return nil, fmt.Errorf("%w: entry %d (%q) duplicates entry %d", ErrMalformed, i, term, prev)
		}
		g.index[key] = len(g.entries)
		g.entries = append(g.entries, Entry{
			Term:        term,
			Translation: translation,
			Definition:  strings.TrimSpace(r.Definition),
			Rationale:   strings.TrimSpace(r.Rationale),
		})
	}
	return g, nil
}

// Normalize returns the lookup key for a term: lower-cased with runs of
// whitespace collapsed to a single space.
func Normalize(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Len returns the number of entries.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Path returns the file the glossary was loaded from (may be empty).
func (g *Glossary) Path() string {
	if g == nil {
		return ""
	}
	return g.path
}

// Entries returns a copy of the entries in file order.
func (g *Glossary) Entries() []Entry {
	if g == nil {
		return nil
	}
	return append([]Entry(nil), g.entries...)
}

// Lookup returns the entry for term, ignoring case and spacing.
func (g *Glossary) Lookup(term string) (Entry, bool) {
	if g == nil {
		return Entry{}, false
	}
	idx, ok := g.index[Normalize(term)]
	if !ok {
		return Entry{}, false
	}
	return g.entries[idx], true
}

// Contains reports whether term has a canonical translation.
func (g *Glossary) Contains(term string) bool {
	_, ok := g.Lookup(term)
	return ok
}

// Apply replaces every verbatim occurrence of a glossary term in text with
// its canonical translation, longest terms first. It is a mechanical
// substitution used for offline previews and deterministic test doubles.
func (g *Glossary) Apply(text string) string {
	if g.Len() == 0 {
		return text
	}
	ordered := g.Entries()
	// Longest first so "agent loop" wins over "agent".
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i].Term) > len(ordered[j].Term) })
	pairs := make([]string, 0, 2*len(ordered))
	for _, e := range ordered {
		pairs = append(pairs, e.Term, e.Translation)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
