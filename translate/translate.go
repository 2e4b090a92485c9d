// Package translate dispatches document chunks to the text-generation
// service. A run works either synchronously, one chunk at a time with
// retries and pacing, or as a single asynchronous batch submission tracked
// by the batchjob package.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/minios-linux/docweave/assemble"
	"github.com/minios-linux/docweave/atomicfile"
	"github.com/minios-linux/docweave/batchjob"
	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/lockfile"
	"github.com/minios-linux/docweave/metrics"
	"github.com/minios-linux/docweave/prompt"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/resilience"
	"github.com/minios-linux/docweave/source"
	"github.com/minios-linux/docweave/termlog"
)

// ---------------------------------------------------------------------------
// Modes
// ---------------------------------------------------------------------------

const (
	ModeSync  = metrics.ModeSync
	ModeBatch = metrics.ModeBatch
)

var (
	// ErrDocument marks a document that could not be translated.
	ErrDocument = errors.New("document translation failed")
	// ErrNotConfigured is returned when a run lacks a required collaborator.
	ErrNotConfigured = errors.New("translation run not configured")
)

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Options controls the translation behavior.
type Options struct {
	// Provider is the provider id recorded with batch jobs.
	Provider string
	// Model is the model identifier.
	Model string
	// MaxTokens bounds the output of one chunk request.
	MaxTokens int
	// ChunkChars is the chunk size threshold in characters.
	ChunkChars int
	// ChunkPause is the minimum interval between chunk requests.
	ChunkPause time.Duration
	// DocumentPause is the minimum interval between documents.
	DocumentPause time.Duration
	// Force re-translates documents whose output already exists.
	Force bool
	// DryRun splits and estimates without calling the service.
	DryRun bool
	// Budget caps the spend of one run in USD. Zero means no cap.
	Budget float64
}

func (o *Options) effectiveModel() string {
	if o.Model != "" {
		return o.Model
	}
	return provider.DefaultModel
}

func (o *Options) effectiveMaxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return provider.DefaultMaxTokens
}

func (o *Options) effectiveChunkChars() int {
	if o.ChunkChars > 0 {
		return o.ChunkChars
	}
	return chunker.DefaultMaxChars
}

func (o *Options) effectiveChunkPause() time.Duration {
	if o.ChunkPause > 0 {
		return o.ChunkPause
	}
	return time.Second
}

func (o *Options) effectiveDocumentPause() time.Duration {
	if o.DocumentPause > 0 {
		return o.DocumentPause
	}
	return 2 * time.Second
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Runner owns the collaborators of one translation run.
type Runner struct {
	// Client serves synchronous runs.
	Client provider.Client
	// Batch and Tracker serve batch submissions.
	Batch   provider.BatchClient
	Tracker *batchjob.Tracker
	// Context is the instruction set shared by every chunk.
	Context *prompt.Context
	// Executor retries transient failures; defaults to resilience defaults.
	Executor *resilience.Executor

	Candidates *candidates.Collection
	Policy     candidates.Policy

	// Lock records source checksums of written outputs. Optional.
	Lock *lockfile.LockFile

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Options Options

	// Load reads source text; defaults to source.Load.
	Load func(path string) (string, error)

	chunkGate *rate.Limiter
	docGate   *rate.Limiter
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func (r *Runner) load(path string) (string, error) {
	if r.Load != nil {
		return r.Load(path)
	}
	return source.Load(path)
}

func (r *Runner) prepare() error {
	if r.Context == nil {
		r.Context = prompt.New("", "", nil, "", "")
	}
	if r.Executor == nil {
		r.Executor = resilience.NewExecutor(resilience.DefaultConfig(), r.Logger)
	}
	if r.chunkGate == nil {
		r.chunkGate = rate.NewLimiter(rate.Every(r.Options.effectiveChunkPause()), 1)
	}
	if r.docGate == nil {
		r.docGate = rate.NewLimiter(rate.Every(r.Options.effectiveDocumentPause()), 1)
	}
	return nil
}

// Run translates docs synchronously in order. A failed document does not
// stop the run; its output is never written. The returned error is non-nil
// only when the run itself was interrupted. Candidates and lock entries
// gathered before an interruption are still saved.
func (r *Runner) Run(ctx context.Context, docs []source.Document) (*Report, error) {
	if r.Client == nil && !r.Options.DryRun {
		return nil, fmt.Errorf("%w: no provider client", ErrNotConfigured)
	}
	if err := r.prepare(); err != nil {
		return nil, err
	}
	defer r.flush()

	log := r.logger()
	report := &Report{Mode: ModeSync, Model: r.Options.effectiveModel(), Estimated: r.Options.DryRun}
	splitter := chunker.New(r.Options.effectiveChunkChars())
	budget := newBudget(r.Options.Budget, false)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !r.Options.Force && doc.Skipped() {
			report.add(r.skip(ModeSync, doc))
			continue
		}
		if budget.exhausted {
			report.add(r.overBudget(ModeSync, doc))
			continue
		}

		text, err := r.load(doc.Path)
		if err != nil {
			r.fail(report, ModeSync, DocumentResult{Document: doc.ID, Target: doc.Target}, err)
			continue
		}
		chunks := splitter.Split(text)
		r.warnOversized(doc.ID, chunks)

		if r.Options.DryRun {
			report.add(estimate(doc, text, chunks))
			r.Metrics.ObserveDocument(ModeSync, string(StatusDryRun))
			continue
		}

		if !budget.admit(estimate(doc, text, chunks)) {
			log.Warn("budget exhausted", "spent", fmt.Sprintf("$%.2f", budget.spent), "budget", fmt.Sprintf("$%.2f", budget.limit))
			report.add(r.overBudget(ModeSync, doc))
			continue
		}

		if err := r.docGate.Wait(ctx); err != nil {
			return report, err
		}
		sum, _ := lockfile.HashFile(doc.Path)

		res, translated, err := r.translateDocument(ctx, doc, chunks)
		budget.charge(res)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			r.fail(report, ModeSync, res, err)
			continue
		}
		report.add(res)
		r.Metrics.ObserveDocument(ModeSync, string(StatusTranslated))
		log.Log(ctx, termlog.LevelSuccess, "document written", "document", doc.ID, "target", doc.Target)
		r.Lock.Record(doc.ID, lockfile.Entry{
			Source:      sum,
			Model:       r.Options.effectiveModel(),
			Fingerprint: r.Context.Fingerprint(),
		})

		r.collect(ctx, doc.ID, text, translated)
	}
	return report, nil
}

// flush persists candidates and lock entries. Both only write when
// something changed.
func (r *Runner) flush() {
	if r.Candidates != nil {
		if err := r.Candidates.Save(); err != nil {
			r.logger().Warn("saving candidates failed", "error", err)
		}
	}
	if err := r.Lock.Save(); err != nil {
		r.logger().Warn("saving lock file failed", "error", err)
	}
}

func (r *Runner) overBudget(mode string, doc source.Document) DocumentResult {
	r.logger().Info("not sent, budget exhausted", "document", doc.ID)
	r.Metrics.ObserveDocument(mode, string(StatusOverBudget))
	return DocumentResult{Document: doc.ID, Target: doc.Target, Status: StatusOverBudget}
}

// skip applies the skip gate to a document whose output exists. A source
// edited since its output was recorded is flagged but still skipped.
func (r *Runner) skip(mode string, doc source.Document) DocumentResult {
	res := DocumentResult{Document: doc.ID, Target: doc.Target, Status: StatusSkipped}
	if sum, err := lockfile.HashFile(doc.Path); err == nil && r.Lock.Changed(doc.ID, sum) {
		res.Stale = true
		r.logger().Warn("source changed since it was translated; rerun with --force to refresh", "document", doc.ID)
	} else {
		r.logger().Info("skipping, output exists", "document", doc.ID, "target", doc.Target)
	}
	r.Metrics.ObserveDocument(mode, string(StatusSkipped))
	return res
}

func (r *Runner) fail(report *Report, mode string, res DocumentResult, err error) {
	res.Status = StatusFailed
	res.Err = fmt.Errorf("%w: %s: %w", ErrDocument, res.Document, err)
	report.add(res)
	r.Metrics.ObserveDocument(mode, string(StatusFailed))
	r.logger().Error("document failed", "document", res.Document, "error", err)
}

func (r *Runner) warnOversized(doc string, chunks []chunker.Chunk) {
	for _, c := range chunks {
		if c.Oversized {
			r.logger().Warn("chunk exceeds size threshold", "document", doc, "chunk", c.Index, "chars", c.Chars(), "max", r.Options.effectiveChunkChars())
		}
	}
}

// translateDocument sends every chunk in order and writes the output only
// when all of them succeeded.
func (r *Runner) translateDocument(ctx context.Context, doc source.Document, chunks []chunker.Chunk) (DocumentResult, string, error) {
	log := r.logger()
	res := DocumentResult{Document: doc.ID, Target: doc.Target, Chunks: len(chunks)}
	translated := make(map[int]string, len(chunks))

	log.Info("translating document", "document", doc.ID, "chunks", len(chunks))
	for _, c := range chunks {
		if c.Empty() {
			continue
		}
		if err := r.chunkGate.Wait(ctx); err != nil {
			return res, "", err
		}
		if len(chunks) > 1 {
			log.Info("translating chunk", "document", doc.ID, "chunk", fmt.Sprintf("%d/%d", c.Index+1, len(chunks)), "chars", c.Chars())
		}

		req := provider.Request{
			Model:     r.Options.effectiveModel(),
			MaxTokens: r.Options.effectiveMaxTokens(),
			System:    r.Context.System(),
			Messages:  []provider.Message{{Role: "user", Content: r.Context.User(doc.ID, c, len(chunks))}},
		}

		var resp provider.Response
		started := time.Now()
		err := r.Executor.Execute(ctx, "translate", func(ctx context.Context) error {
			var err error
			resp, err = r.Client.Translate(ctx, req)
			return err
		}, provider.Classify)
		if err != nil {
			r.Metrics.ObserveChunk(ModeSync, metrics.ChunkFailure, time.Since(started))
			if len(translated) > 0 {
				res.Partial = translated
			}
			return res, "", fmt.Errorf("chunk %d/%d: %w", c.Index+1, len(chunks), err)
		}
		r.Metrics.ObserveChunk(ModeSync, metrics.ChunkSuccess, time.Since(started))
		r.Metrics.AddTokens(ModeSync, resp.InputTokens, resp.OutputTokens)
		if resp.Truncated {
			log.Warn("output hit the token limit", "document", doc.ID, "chunk", c.Index+1)
		}

		translated[c.Index] = resp.Text
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens
	}

	text, err := assemble.Assemble(chunks, translated)
	if err != nil {
		return res, "", err
	}
	if err := atomicfile.Write(doc.Target, []byte(text), 0o644); err != nil {
		return res, "", err
	}
	res.Status = StatusTranslated
	return res, text, nil
}

// collect runs candidate extraction; failures are logged and ignored.
func (r *Runner) collect(ctx context.Context, doc, src, translation string) {
	if r.Candidates == nil || r.Policy == nil {
		return
	}
	terms, err := r.Policy.Extract(ctx, candidates.Sample{Document: doc, Source: src, Translation: translation})
	if err != nil {
		r.logger().Warn("candidate extraction failed", "document", doc, "error", err)
		return
	}
	if added := r.Candidates.Add(r.Context.Glossary(), terms); added > 0 {
		r.logger().Info("new glossary candidates", "document", doc, "count", added)
	}
}
