// Package candidates collects terminology that appears in translated output
// but is absent from the glossary, for later human review.
//
// Collection is best-effort: extraction never fails a translation.
package candidates

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minios-linux/docweave/atomicfile"
	"github.com/minios-linux/docweave/glossary"
)

// DefaultFile is the conventional candidates file name.
const DefaultFile = "glossary_candidates.json"

// Term is a proposed glossary entry.
type Term struct {
	Term        string    `json:"term_en"`
	Translation string    `json:"term_ru,omitempty"`
	Document    string    `json:"document"`
	Context     string    `json:"context,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
}

// Collection is the set of candidates accumulated across runs.
type Collection struct {
	mu    sync.Mutex
	path  string
	terms []Term
	index map[string]int
	dirty bool
}

// Load reads the candidates file. A missing file yields an empty collection.
func Load(path string) (*Collection, error) {
	c := &Collection{path: path, index: make(map[string]int)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("reading candidates: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return c, nil
	}

	var terms []Term
	if err := json.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("parsing candidates %s: %w", path, err)
	}
	for _, t := range terms {
		key := glossary.Normalize(t.Term)
		if key == "" {
			continue
		}
		if _, ok := c.index[key]; ok {
			continue
		}
		c.index[key] = len(c.terms)
		c.terms = append(c.terms, t)
	}
	return c, nil
}

// Path returns the file the collection is saved to.
func (c *Collection) Path() string {
	return c.path
}

// Add merges terms into the collection. Terms already in the glossary or
// already collected are ignored; the recorded sighting is never replaced. It returns
// the number of new candidates.
func (c *Collection) Add(g *glossary.Glossary, terms []Term) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, t := range terms {
		t.Term = strings.Join(strings.Fields(t.Term), " ")
		t.Translation = strings.TrimSpace(t.Translation)
		key := glossary.Normalize(t.Term)
		if key == "" || g.Contains(t.Term) {
			continue
		}
		if t.FirstSeen.IsZero() {
			t.FirstSeen = time.Now().UTC()
		}
		if _, ok := c.index[key]; ok {
			continue
		}
		c.index[key] = len(c.terms)
		c.terms = append(c.terms, t)
		c.dirty = true
		added++
	}
	return added
}

// Terms returns the candidates ordered by first sighting.
func (c *Collection) Terms() []Term {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]Term(nil), c.terms...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

// Len returns the number of candidates.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.terms)
}

// Save writes the collection atomically if it changed since loading.
func (c *Collection) Save() error {
	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if !dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.Terms(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding candidates: %w", err)
	}
	data = append(data, '\n')
	if err := atomicfile.Write(c.path, data, 0o644); err != nil {
		return fmt.Errorf("saving candidates: %w", err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}
