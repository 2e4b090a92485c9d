package source

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// docxBody is the main document part of a WordprocessingML package.
const docxBody = "word/document.xml"

// loadDOCX extracts the body text of a .docx file as Markdown. Heading
// styles 1-4 become # headings, list paragraphs become "- " items and
// tables become pipe tables. Blocks keep their document order.
func loadDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening DOCX %s: %w", path, err)
	}
	defer zr.Close()

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%s has no %s", path, docxBody)
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s in %s: %w", docxBody, path, err)
	}
	defer rc.Close()

	blocks, err := docxBlocks(rc)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(blocks) == 0 {
		return "", fmt.Errorf("no extractable text in %s", path)
	}
	return strings.Join(blocks, "\n\n") + "\n", nil
}

func docxBlocks(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		blocks []string
		para   strings.Builder
		style  string
		inText bool
		depth  int // table nesting
		rows   [][]string
		cell   []string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				style = ""
			case "pStyle":
				style = attr(t, "val")
			case "t":
				inText = true
			case "tab":
				// Tab stops in paragraph properties carry a val; run tabs do not.
				if attr(t, "val") == "" {
					para.WriteByte('\t')
				}
			case "br", "cr":
				para.WriteByte('\n')
			case "tbl":
				depth++
				if depth == 1 {
					rows = nil
				}
			case "tr":
				if depth == 1 {
					rows = append(rows, nil)
				}
			case "tc":
				if depth == 1 {
					cell = nil
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if text == "" {
					break
				}
				if depth > 0 {
					cell = append(cell, text)
				} else {
					blocks = append(blocks, docxParagraph(style, text))
				}
			case "tc":
				if depth == 1 && len(rows) > 0 {
					rows[len(rows)-1] = append(rows[len(rows)-1], strings.Join(cell, " "))
				}
			case "tbl":
				depth--
				if depth == 0 {
					if table := pipeTable(rows); table != "" {
						blocks = append(blocks, table)
					}
				}
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return blocks, nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// docxParagraph applies the Markdown prefix of a paragraph style id.
func docxParagraph(style, text string) string {
	s := strings.ToLower(style)
	if level, ok := strings.CutPrefix(s, "heading"); ok {
		if n, err := strconv.Atoi(level); err == nil && n >= 1 && n <= 4 {
			return strings.Repeat("#", n) + " " + text
		}
	}
	if strings.Contains(s, "list") {
		return "- " + text
	}
	return text
}

// pipeTable renders rows as a Markdown table whose first row is the header.
func pipeTable(rows [][]string) string {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return ""
	}
	line := func(cells []string) string {
		escaped := make([]string, len(cells))
		for i, c := range cells {
			escaped[i] = strings.ReplaceAll(strings.ReplaceAll(c, "\n", " "), "|", `\|`)
		}
		return "| " + strings.Join(escaped, " | ") + " |"
	}
	sep := make([]string, len(rows[0]))
	for i := range sep {
		sep[i] = "---"
	}

	lines := []string{line(rows[0]), "| " + strings.Join(sep, " | ") + " |"}
	for _, row := range rows[1:] {
		lines = append(lines, line(row))
	}
	return strings.Join(lines, "\n")
}
