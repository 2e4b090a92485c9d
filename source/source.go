// Package source discovers the documents of a translation run and loads
// their text. Markdown and plain text are read as-is; PDF text is
// extracted page by page and Word documents are converted to Markdown.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/minios-linux/docweave/atomicfile"
)

// ErrNotFound is returned when a named document does not exist.
var ErrNotFound = errors.New("source document not found")

// Extensions lists the accepted source file extensions.
var Extensions = []string{".md", ".txt", ".pdf", ".docx"}

// Document is one unit of work.
type Document struct {
	// ID is the file name relative to the source directory.
	ID string
	// Path is the source file.
	Path string
	// Target is the output file.
	Target string
}

// Skipped reports whether the output already exists.
func (d Document) Skipped() bool {
	return atomicfile.Exists(d.Target)
}

// Selection picks documents out of the source directory.
type Selection struct {
	// File, when set, restricts the run to one named document.
	File string
	// Force includes documents whose output already exists.
	Force bool
}

// Discover lists source documents in name order. Outputs land in outDir
// under the same name, with .pdf, .docx and .txt sources producing .md
// outputs.
// Documents whose output exists are still listed; callers apply the skip
// gate with Skipped and Selection.Force.
func Discover(srcDir, outDir string, sel Selection) ([]Document, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("reading source directory: %w", err)
	}

	var docs []Document
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !accepted(e.Name()) {
			continue
		}
		docs = append(docs, Document{
			ID:     e.Name(),
			Path:   filepath.Join(srcDir, e.Name()),
			Target: filepath.Join(outDir, TargetName(e.Name())),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	if sel.File == "" {
		return docs, nil
	}
	name := filepath.Base(sel.File)
	for _, d := range docs {
		if d.ID == name {
			return []Document{d}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// TargetName maps a source file name to its output name.
func TargetName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" || ext == ".docx" || ext == ".txt" {
		return strings.TrimSuffix(name, filepath.Ext(name)) + ".md"
	}
	return name
}

func accepted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load returns the text of a source file.
func Load(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDOCX(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func loadPDF(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF %s: %w", path, err)
	}
	defer file.Close()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting page %d of %s: %w", i, path, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("no extractable text in %s", path)
	}
	return strings.Join(pages, "\n\n") + "\n", nil
}
