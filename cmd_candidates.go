package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/i18n"
)

// ---------------------------------------------------------------------------
// candidates
// ---------------------------------------------------------------------------

func newCandidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: i18n.T("Review terminology missing from the glossary"),
		Long: i18n.T(`Every translated document is scanned for terms that have no glossary
entry. Candidates accumulate across runs in glossary_candidates.json and
are never promoted automatically; review them and copy the good ones into
the glossary.

Examples:
  docweave candidates list
  docweave candidates export review.xlsx`),
	}

	cmd.AddCommand(newCandidatesListCmd(), newCandidatesExportCmd())
	return cmd
}

func loadCandidates() (*candidates.Collection, error) {
	proj, err := loadProject("")
	if err != nil {
		return nil, err
	}
	return candidates.Load(proj.cfg.CandidatesPath())
}

func newCandidatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   i18n.T("List collected candidate terms"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := loadCandidates()
			if err != nil {
				return err
			}
			if coll.Len() == 0 {
				logger.Info(i18n.T("no candidate terms collected"), "file", coll.Path())
				return nil
			}

			fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue,
				fmt.Sprintf(i18n.N("%d candidate term", "%d candidate terms", coll.Len()), coll.Len()), colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
			for _, t := range coll.Terms() {
				fmt.Fprintf(os.Stderr, "  %s\n", candidateLine(t))
			}
			fmt.Fprintln(os.Stderr)
			return nil
		},
	}
}

// candidateLine renders one term as "term -> translation (document)".
func candidateLine(t candidates.Term) string {
	var b strings.Builder
	b.WriteString(t.Term)
	if t.Translation != "" {
		b.WriteString(" → ")
		b.WriteString(t.Translation)
	}
	if t.Document != "" {
		fmt.Fprintf(&b, "  %s(%s)%s", colorYellow, t.Document, colorReset)
	}
	return b.String()
}

func newCandidatesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE.xlsx",
		Short: i18n.T("Export candidate terms to a spreadsheet for review"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[0]
			if !strings.EqualFold(filepath.Ext(out), ".xlsx") {
				return fmt.Errorf(i18n.T("export file must end in .xlsx: %s"), out)
			}
			coll, err := loadCandidates()
			if err != nil {
				return err
			}
			if err := coll.ExportXLSX(out); err != nil {
				return err
			}
			logSuccess(fmt.Sprintf(i18n.N("exported %d term", "exported %d terms", coll.Len()), coll.Len()), "file", out)
			return nil
		},
	}
}
