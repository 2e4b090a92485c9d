// Package chunker splits Markdown documents into ordered, structure-aligned
// chunks bounded by a character threshold.
//
// Chunks are contiguous slices of the source. Each chunk records the blank
// lines before its body (Lead) and the whitespace after it (Trail), so that
// concatenating Lead+Body+Trail of every chunk in order reproduces the
// source byte for byte:
//
//	Join(New(n).Split(doc)) == doc   for every doc and every n
//
// Splitting happens on level-2 headings first ("## " at the start of a line)
// and then, for sections that are still too large, on blank-line paragraph
// boundaries. Fenced code blocks (``` or ~~~) are never split.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the threshold used when none is configured
// (roughly 10k tokens of English prose).
const DefaultMaxChars = 40000

// ---------------------------------------------------------------------------
// Chunk model
// ---------------------------------------------------------------------------

// Kind describes the structural boundary a chunk was cut on.
type Kind int

const (
	// KindWholeDocument is the single chunk of a document under the threshold.
	KindWholeDocument Kind = iota
	// KindHeadingSection groups one or more consecutive level-2 sections.
	KindHeadingSection
	// KindParagraphFragment is a run of paragraphs from an oversized section.
	KindParagraphFragment
)

func (k Kind) String() string {
	switch k {
	case KindWholeDocument:
		return "whole-document"
	case KindHeadingSection:
		return "heading-section"
	case KindParagraphFragment:
		return "paragraph-fragment"
	default:
		return "unknown"
	}
}

// Chunk is one translation unit.
type Chunk struct {
	// Index is the zero-based position of the chunk in its document.
	Index int
	// Kind is the boundary the chunk was cut on.
	Kind Kind
	// Lead holds the blank lines preceding Body.
	Lead string
	// Body is the text sent for translation.
	Body string
	// Trail holds the whitespace following Body.
	Trail string
	// Oversized is set when the chunk exceeds the threshold because a single
	// paragraph could not be split further.
	Oversized bool
}

// Span returns the exact source slice covered by the chunk.
func (c Chunk) Span() string {
	return c.Lead + c.Body + c.Trail
}

// Chars returns the chunk length in characters.
func (c Chunk) Chars() int {
	return utf8.RuneCountInString(c.Span())
}

// Empty reports whether the chunk has nothing to translate.
func (c Chunk) Empty() bool {
	return c.Body == ""
}

// Join concatenates chunk spans in slice order.
func Join(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Lead)
		b.WriteString(c.Body)
		b.WriteString(c.Trail)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Splitter
// ---------------------------------------------------------------------------

// Splitter holds the chunk size threshold.
type Splitter struct {
	maxChars int
}

// New returns a splitter with the given threshold in characters.
// A non-positive threshold selects DefaultMaxChars.
func New(maxChars int) *Splitter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Splitter{maxChars: maxChars}
}

// MaxChars returns the configured threshold.
func (s *Splitter) MaxChars() int {
	return s.maxChars
}

// Split divides text into chunks. The result is never empty.
func (s *Splitter) Split(text string) []Chunk {
	if utf8.RuneCountInString(text) <= s.maxChars {
		return []Chunk{newChunk(0, KindWholeDocument, text, s.maxChars)}
	}

	var spans []string
	var kinds []Kind

	var cur strings.Builder
	curLen := 0
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		spans = append(spans, cur.String())
		kinds = append(kinds, KindHeadingSection)
		cur.Reset()
		curLen = 0
	}

	for _, sec := range sections(text) {
		n := utf8.RuneCountInString(sec)
		if curLen+n <= s.maxChars {
			cur.WriteString(sec)
			curLen += n
			continue
		}
		flush()
		if n > s.maxChars {
			for _, frag := range s.groupParagraphs(sec) {
				spans = append(spans, frag)
				kinds = append(kinds, KindParagraphFragment)
			}
			continue
		}
		cur.WriteString(sec)
		curLen = n
	}
	flush()

	chunks := make([]Chunk, len(spans))
	for i, span := range spans {
		chunks[i] = newChunk(i, kinds[i], span, s.maxChars)
	}
	return chunks
}

// groupParagraphs greedily packs the paragraphs of an oversized section.
// A paragraph that alone exceeds the threshold becomes its own group.
func (s *Splitter) groupParagraphs(section string) []string {
	var groups []string
	var cur strings.Builder
	curLen := 0

	for _, para := range paragraphs(section) {
		n := utf8.RuneCountInString(para)
		if curLen+n <= s.maxChars {
			cur.WriteString(para)
			curLen += n
			continue
		}
		if cur.Len() > 0 {
			groups = append(groups, cur.String())
			cur.Reset()
		}
		cur.WriteString(para)
		curLen = n
	}
	if cur.Len() > 0 {
		groups = append(groups, cur.String())
	}
	return groups
}

func newChunk(index int, kind Kind, span string, maxChars int) Chunk {
	lead, rest := splitLead(span)
	body := strings.TrimRight(rest, whitespace)
	return Chunk{
		Index:     index,
		Kind:      kind,
		Lead:      lead,
		Body:      body,
		Trail:     rest[len(body):],
		Oversized: utf8.RuneCountInString(span) > maxChars,
	}
}

// ---------------------------------------------------------------------------
// Separators
// ---------------------------------------------------------------------------

const whitespace = " \t\r\n"

// splitLead cuts the leading blank lines off s. Indentation of the first
// non-blank line stays with the body.
func splitLead(s string) (lead, rest string) {
	ws := len(s) - len(strings.TrimLeft(s, whitespace))
	nl := strings.LastIndexByte(s[:ws], '\n')
	if nl < 0 {
		return "", s
	}
	return s[:nl+1], s[nl+1:]
}

// TrimSeparators strips leading blank lines and all trailing whitespace
// from s, the same way chunk bodies are cut at split time. Applying it to a
// chunk Body returns the Body unchanged.
func TrimSeparators(s string) string {
	_, rest := splitLead(s)
	return strings.TrimRight(rest, whitespace)
}

// ---------------------------------------------------------------------------
// Structure scanning
// ---------------------------------------------------------------------------

// line is one source line with its structural classification.
type line struct {
	start   int  // byte offset of the first character
	blank   bool // only whitespace
	inside  bool // inside a fenced code block (including the closing fence)
	heading bool // "## " level-2 heading outside a fence
}

// scanLines classifies each line of text, tracking fenced code blocks. A
// fence closes only on a line of the same character, at least as long as
// the opening run, with nothing after it but spaces.
func scanLines(text string) []line {
	var lines []line
	inFence := false
	var open byte // fence character of the open block
	openLen := 0

	for pos := 0; pos < len(text); {
		end := strings.IndexByte(text[pos:], '\n')
		next := len(text)
		if end >= 0 {
			next = pos + end + 1
		}
		raw := strings.TrimRight(text[pos:next], "\r\n")
		trimmed := strings.TrimLeft(raw, " ")
		indent := len(raw) - len(trimmed)

		l := line{start: pos, blank: strings.TrimSpace(raw) == ""}
		char, n := fenceRun(trimmed)
		fence := indent <= 3 && n >= 3

		switch {
		case inFence:
			l.inside = true
			if fence && char == open && n >= openLen && strings.TrimSpace(trimmed[n:]) == "" {
				inFence = false
			}
		case fence:
			inFence = true
			open, openLen = char, n
		default:
			l.heading = strings.HasPrefix(raw, "## ")
		}

		lines = append(lines, l)
		pos = next
	}
	return lines
}

// fenceRun returns the leading backtick or tilde of s and how many times
// it repeats.
func fenceRun(s string) (byte, int) {
	if s == "" || (s[0] != '`' && s[0] != '~') {
		return 0, 0
	}
	n := 0
	for n < len(s) && s[n] == s[0] {
		n++
	}
	return s[0], n
}

// sections cuts text before every level-2 heading that is not at offset 0.
func sections(text string) []string {
	var cuts []int
	for _, l := range scanLines(text) {
		if l.heading && l.start > 0 {
			cuts = append(cuts, l.start)
		}
	}
	return cutAt(text, cuts)
}

// paragraphs cuts text at the first non-blank line after a blank line,
// outside fenced code blocks. Separating blank lines stay with the
// preceding paragraph.
func paragraphs(text string) []string {
	var cuts []int
	lines := scanLines(text)
	for i := 1; i < len(lines); i++ {
		prev, l := lines[i-1], lines[i]
		if !l.blank && !l.inside && prev.blank && !prev.inside {
			cuts = append(cuts, l.start)
		}
	}
	return cutAt(text, cuts)
}

// cutAt slices text at the given offsets. A cut that would produce a
// whitespace-only part is skipped so blank lines join the following part.
func cutAt(text string, cuts []int) []string {
	parts := make([]string, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		if strings.TrimSpace(text[prev:c]) == "" {
			continue
		}
		parts = append(parts, text[prev:c])
		prev = c
	}
	return append(parts, text[prev:])
}
