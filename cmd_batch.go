package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minios-linux/docweave/batchjob"
	"github.com/minios-linux/docweave/i18n"
)

// ---------------------------------------------------------------------------
// batch
// ---------------------------------------------------------------------------

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: i18n.T("Inspect and collect asynchronous batch jobs"),
		Long: i18n.T(`Batch jobs are submitted with 'docweave translate --batch' and recorded in
.docweave/batches.yaml. Polling an ended job writes every document whose
chunks all succeeded; documents with a failed chunk are never written.

Examples:
  docweave batch list
  docweave batch status msgbatch_01ABC...`),
	}

	cmd.AddCommand(newBatchStatusCmd(), newBatchListCmd())
	return cmd
}

func newBatchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: i18n.T("Poll a batch job and collect its results once ended"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchStatus(cmd.Context(), args[0])
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			proj, err := loadProject("")
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			t, err := proj.tracker(nil)
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			var ids []string
			for _, j := range t.List() {
				if !j.State.Terminal() {
					ids = append(ids, j.ID+"\t"+string(j.State))
				}
			}
			return ids, cobra.ShellCompDirectiveNoFileComp
		},
	}
}

func runBatchStatus(ctx context.Context, id string) error {
	proj, err := loadProject("")
	if err != nil {
		return err
	}
	defer proj.flushMetrics()

	// A terminal job is reported from the local record; only live jobs
	// need credentials.
	local, err := proj.tracker(nil)
	if err != nil {
		return err
	}
	tracker := local
	if job, ok := local.Store.Get(id); ok && !job.State.Terminal() {
		if job.Provider != "" && job.Provider != proj.cfg.Provider {
			logger.Warn(i18n.T("job was submitted with another provider"), "job", job.Provider, "config", proj.cfg.Provider)
		}
		conn, err := proj.connect()
		if err != nil {
			return err
		}
		if tracker, err = proj.tracker(conn); err != nil {
			return err
		}
	}

	rep, err := tracker.Poll(ctx, id)
	if err != nil {
		return err
	}
	printJob(rep.Job)

	if rep.Job.State == batchjob.StateFailed || rep.Job.State == batchjob.StateExpired {
		logger.Error(i18n.T("batch job did not complete; start a new run to retry"), "id", rep.Job.ID, "state", string(rep.Job.State))
		return errDocumentsFailed
	}
	for _, o := range rep.Job.Outcomes {
		if o.Status == batchjob.OutcomeFailed {
			return errDocumentsFailed
		}
	}
	return nil
}

func newBatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   i18n.T("List recorded batch jobs"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			proj, err := loadProject("")
			if err != nil {
				return err
			}
			t, err := proj.tracker(nil)
			if err != nil {
				return err
			}
			jobs := t.List()
			if len(jobs) == 0 {
				logger.Info(i18n.T("no batch jobs recorded"))
				return nil
			}

			fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, i18n.T("Batch Jobs"), colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
			for _, j := range jobs {
				fmt.Fprintf(os.Stderr, "  %-40s %s  %s\n", j.ID, stateCell(j.State), j.SubmittedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintln(os.Stderr)
			return nil
		},
	}
}

func printJob(j batchjob.Job) {
	fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, fmt.Sprintf(i18n.T("Batch %s"), j.ID), colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("State:"), stateCell(j.State))
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Model:"), j.Model)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Submitted:"), j.SubmittedAt.Local().Format(time.DateTime))
	if !j.ExpiresAt.IsZero() && !j.State.Terminal() {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Expires:"), j.ExpiresAt.Local().Format(time.DateTime))
	}
	c := j.Counts
	fmt.Fprintf(os.Stderr, "  %-12s %d processing, %d succeeded, %d errored, %d canceled, %d expired\n",
		i18n.T("Requests:"), c.Processing, c.Succeeded, c.Errored, c.Canceled, c.Expired)
	if j.InputTokens > 0 || j.OutputTokens > 0 {
		fmt.Fprintf(os.Stderr, "  %-12s %d in / %d out\n", i18n.T("Tokens:"), j.InputTokens, j.OutputTokens)
	}

	if len(j.Outcomes) > 0 {
		fmt.Fprintln(os.Stderr)
		for _, o := range j.Outcomes {
			cell := colorGreen + i18n.T("written") + colorReset
			if o.Status == batchjob.OutcomeFailed {
				cell = colorRed + i18n.T("failed") + colorReset + ": " + o.Error
			}
			fmt.Fprintf(os.Stderr, "  %-32s %s\n", o.Document, cell)
		}
	}
	fmt.Fprintln(os.Stderr)
}

func stateCell(s batchjob.State) string {
	switch s {
	case batchjob.StateCompleted:
		return colorGreen + string(s) + colorReset
	case batchjob.StateFailed, batchjob.StateExpired:
		return colorRed + string(s) + colorReset
	default:
		return colorYellow + string(s) + colorReset
	}
}
