package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minios-linux/docweave/i18n"
	"github.com/minios-linux/docweave/prompt"
	"github.com/minios-linux/docweave/resilience"
	"github.com/minios-linux/docweave/source"
	"github.com/minios-linux/docweave/translate"
)

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	file   string
	model  string
	force  bool
	dryRun bool
	batch  bool
	budget float64
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate",
		Short: i18n.T("Translate documents from the source directory"),
		Long: i18n.T(`Translate every document in the source directory whose output does not
exist yet.

By default chunks are translated one at a time with retries on transient
failures. With --batch all chunks are submitted as one asynchronous batch
at half the price; collect the results later with 'docweave batch status'.

Examples:
  # Translate everything not yet translated
  docweave translate

  # Retranslate one document
  docweave translate --file install.md --force

  # Estimate tokens and cost without calling the service
  docweave translate --dry-run

  # Submit a batch job
  docweave translate --batch

  # Stop before the run spends more than $5
  docweave translate --budget 5`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runTranslate(cmd.Context(), a)
			if report != nil {
				printReport(report)
			}
			if err != nil {
				return err
			}
			if report.Incomplete() {
				return errDocumentsFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&a.file, "file", "", i18n.T("Translate only this document"))
	cmd.Flags().StringVar(&a.model, "model", "", i18n.T("Model name (overrides config and TRANSLATE_MODEL)"))
	cmd.Flags().BoolVar(&a.force, "force", false, i18n.T("Retranslate documents whose output exists"))
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, i18n.T("Split and estimate cost without calling the service"))
	cmd.Flags().BoolVar(&a.batch, "batch", false, i18n.T("Submit all chunks as one asynchronous batch"))
	cmd.Flags().Float64Var(&a.budget, "budget", 0, i18n.T("Stop before spending more than this many USD (overrides config)"))

	_ = cmd.RegisterFlagCompletionFunc("file", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		proj, err := loadProject("")
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		docs, err := source.Discover(proj.cfg.SourcePath(), proj.cfg.OutputPath(), source.Selection{})
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		names := make([]string, 0, len(docs))
		for _, d := range docs {
			names = append(names, d.ID)
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// runTranslate performs one translate invocation. Configuration problems
// are returned before any document is processed.
func runTranslate(ctx context.Context, a translateArgs) (*translate.Report, error) {
	proj, err := loadProject(a.model)
	if err != nil {
		return nil, err
	}
	defer proj.flushMetrics()
	cfg := proj.cfg

	pctx, err := prompt.Build(proj.glossary, prompt.Options{
		StylePath:   cfg.StylePath(),
		CleanupPath: cfg.CleanupPath(),
		SourceLang:  cfg.SourceLang,
		TargetLang:  cfg.TargetLang,
	})
	if err != nil {
		return nil, err
	}

	runner := &translate.Runner{
		Context:  pctx,
		Executor: resilience.NewExecutor(cfg.Retry, logger),
		Lock:     proj.lock,
		Metrics:  proj.metrics,
		Logger:   logger,
		Options: translate.Options{
			Provider:      cfg.Provider,
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			ChunkChars:    cfg.ChunkChars,
			ChunkPause:    cfg.ChunkPause,
			DocumentPause: cfg.DocumentPause,
			Force:         a.force,
			DryRun:        a.dryRun,
			Budget:        cfg.Budget,
		},
	}
	if a.budget > 0 {
		runner.Options.Budget = a.budget
	}

	if !a.dryRun {
		conn, err := proj.connect()
		if err != nil {
			return nil, err
		}
		runner.Client = conn.client
		runner.Options.Provider = conn.provider.ID

		coll, policy, err := proj.candidates(conn.client)
		if err != nil {
			return nil, err
		}
		runner.Candidates = coll
		runner.Policy = policy

		if a.batch {
			tracker, err := proj.tracker(conn)
			if err != nil {
				return nil, err
			}
			runner.Batch = conn.batch
			runner.Tracker = tracker
		}
	}

	docs, err := source.Discover(cfg.SourcePath(), cfg.OutputPath(), source.Selection{File: a.file, Force: a.force})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		logger.Warn(i18n.T("no documents found"), "dir", cfg.SourcePath())
		return &translate.Report{Model: cfg.Model, Estimated: a.dryRun}, nil
	}
	if a.file == "" && !a.dryRun {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		if n := proj.lock.Clean(ids); n > 0 {
			logger.Debug("dropped lock entries of removed sources", "count", n)
		}
	}

	logger.Info(i18n.T("starting run"),
		"documents", len(docs),
		"model", cfg.Model,
		"glossary", proj.glossary.Len(),
		"target", pctx.TargetName())

	if a.batch {
		return runner.Submit(ctx, docs)
	}
	return runner.Run(ctx, docs)
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

func printReport(r *translate.Report) {
	fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, i18n.T("Summary"), colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

	for _, d := range r.Documents {
		fmt.Fprintf(os.Stderr, "  %-32s %s\n", d.Document, statusCell(d))
	}
	if len(r.Documents) > 0 {
		fmt.Fprintln(os.Stderr)
	}

	for _, line := range summaryLines(r) {
		fmt.Fprintf(os.Stderr, "  %s\n", line)
	}

	if r.BatchID != "" {
		fmt.Fprintf(os.Stderr, "\n  %s\n", fmt.Sprintf(i18n.T("Check progress with: docweave batch status %s"), r.BatchID))
	}
	fmt.Fprintln(os.Stderr)
}

func statusCell(d translate.DocumentResult) string {
	switch d.Status {
	case translate.StatusTranslated:
		return colorGreen + i18n.T("translated") + colorReset
	case translate.StatusSkipped:
		if d.Stale {
			return colorYellow + i18n.T("skipped (source changed)") + colorReset
		}
		return colorYellow + i18n.T("skipped") + colorReset
	case translate.StatusFailed:
		msg := colorRed + i18n.T("failed") + colorReset
		if d.Err != nil {
			msg += ": " + d.Err.Error()
		}
		return msg
	case translate.StatusDryRun:
		return fmt.Sprintf(i18n.N("%d chunk, ~%d tokens", "%d chunks, ~%d tokens", d.Chunks), d.Chunks, d.InputTokens)
	case translate.StatusOverBudget:
		return colorYellow + i18n.T("not sent (budget exhausted)") + colorReset
	case translate.StatusSubmitted:
		return colorBlue + fmt.Sprintf(i18n.N("submitted (%d chunk)", "submitted (%d chunks)", d.Chunks), d.Chunks) + colorReset
	default:
		return string(d.Status)
	}
}

// summaryLines renders the counters and cost of a report.
func summaryLines(r *translate.Report) []string {
	var lines []string
	add := func(label string, n int) {
		if n > 0 {
			lines = append(lines, fmt.Sprintf("%-12s %d", label+":", n))
		}
	}
	add(i18n.T("Translated"), r.Count(translate.StatusTranslated))
	add(i18n.T("Submitted"), r.Count(translate.StatusSubmitted))
	add(i18n.T("Estimated"), r.Count(translate.StatusDryRun))
	add(i18n.T("Skipped"), r.Count(translate.StatusSkipped))
	add(i18n.T("Over budget"), r.Count(translate.StatusOverBudget))
	add(i18n.T("Failed"), r.Count(translate.StatusFailed))

	if r.InputTokens > 0 || r.OutputTokens > 0 {
		lines = append(lines, fmt.Sprintf("%-12s %d in / %d out", i18n.T("Tokens")+":", r.InputTokens, r.OutputTokens))
		cost := fmt.Sprintf("%-12s $%.2f", i18n.T("Cost")+":", r.Cost())
		if r.Estimated {
			cost += " " + i18n.T("(estimate)")
		}
		if r.Mode == translate.ModeBatch {
			cost += " " + i18n.T("(batch pricing)")
		}
		lines = append(lines, cost)
	}
	return lines
}
