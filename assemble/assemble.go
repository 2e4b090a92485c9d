// Package assemble merges translated chunks back into a single document.
//
// Chunks are concatenated in index order. Each translated body is stripped
// of the blank lines and trailing whitespace a model tends to add, then
// wrapped in the separators recorded at split time, so the blank-line
// structure of the output matches the source exactly.
package assemble

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/minios-linux/docweave/chunker"
)

// ErrMissingChunk is returned when a chunk has no translation.
var ErrMissingChunk = errors.New("missing chunk translation")

// Assemble rebuilds a document from its chunks and their translations,
// keyed by chunk index. Chunks with an empty body need no translation.
// The result depends only on the inputs: repeated calls are byte-identical.
func Assemble(chunks []chunker.Chunk, translated map[int]string) (string, error) {
	ordered := append([]chunker.Chunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var missing []int
	var b strings.Builder
	for _, c := range ordered {
		body := c.Body
		if !c.Empty() {
			text, ok := translated[c.Index]
			if !ok {
				missing = append(missing, c.Index)
				continue
			}
			body = chunker.TrimSeparators(text)
		}
		b.WriteString(c.Lead)
		b.WriteString(body)
		b.WriteString(c.Trail)
	}

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: chunks %v of %d", ErrMissingChunk, missing, len(chunks))
	}
	return b.String(), nil
}

// Missing returns the indexes of non-empty chunks without a translation.
func Missing(chunks []chunker.Chunk, translated map[int]string) []int {
	var out []int
	for _, c := range chunks {
		if c.Empty() {
			continue
		}
		if _, ok := translated[c.Index]; !ok {
			out = append(out, c.Index)
		}
	}
	sort.Ints(out)
	return out
}
