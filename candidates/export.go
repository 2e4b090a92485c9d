package candidates

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/minios-linux/docweave/atomicfile"
)

const sheetName = "Candidates"

var exportHeader = []any{"Term", "Translation", "Document", "Context", "First seen"}

// ExportXLSX writes the candidates to a spreadsheet for reviewers.
func (c *Collection) ExportXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &exportHeader); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "E1", bold); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	for i, t := range c.Terms() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		row := []any{t.Term, t.Translation, t.Document, t.Context, t.FirstSeen.Format("2006-01-02 15:04:05")}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}

	for col, width := range map[string]float64{"A": 30, "B": 30, "C": 24, "D": 80, "E": 20} {
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := atomicfile.WriteReader(path, buf, 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
