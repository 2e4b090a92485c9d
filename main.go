// docweave: chunked document translation with glossary enforcement.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/minios-linux/docweave/i18n"
	"github.com/minios-linux/docweave/termlog"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors for the summary tables.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

// errDocumentsFailed is returned when at least one document was left
// untranslated. The outcome has already been reported, so main only sets
// the exit status.
var errDocumentsFailed = errors.New("some documents failed")

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir     string
	verbose     bool
	apiKeyFlag  string
	metricsFile string
)

// logger is the process-wide structured logger; replaced in PersistentPreRun.
var logger = slog.New(termlog.New(os.Stderr, nil))

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(termlog.New(os.Stderr, &termlog.Options{
		Level:   level,
		NoColor: !termlog.ColorEnabled(os.Stderr),
	}))
}

// logSuccess writes an [OK] line.
func logSuccess(msg string, args ...any) {
	logger.Log(context.Background(), termlog.LevelSuccess, msg, args...)
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docweave",
		Short: i18n.T("Chunked document translation with glossary enforcement"),
		Long: i18n.T(`docweave translates long Markdown, text and PDF documents through a
text-generation service. Documents are split into structure-preserving
chunks, every chunk receives the same style rules and glossary, and the
translated chunks are reassembled into one faithful document.

Commands:
  translate   Translate untranslated documents (sync or batch)
  batch       Inspect and collect asynchronous batch jobs
  candidates  Review terminology missing from the glossary
  auth        Manage provider API keys`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = newLogger()
		},
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", i18n.T("Project root directory"))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, i18n.T("Enable debug logging"))
	root.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", i18n.T("API key (or DOCWEAVE_API_KEY / ANTHROPIC_API_KEY)"))
	root.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", i18n.T("Write Prometheus metrics to this textfile after the run"))

	root.AddCommand(
		newTranslateCmd(),
		newBatchCmd(),
		newCandidatesCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	i18n.Init("")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		if !errors.Is(err, errDocumentsFailed) {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docweave version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}
