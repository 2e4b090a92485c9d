package translate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/minios-linux/docweave/atomicfile"
	"github.com/minios-linux/docweave/batchjob"
	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/lockfile"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/source"
)

// Submit sends one tagged request per chunk of every selected document as a
// single batch. Submission is not retried. The correlation record is
// persisted before Submit returns; results are collected later through
// batchjob.Tracker.Poll. With a budget set, documents are admitted while
// their estimated batch cost still fits.
func (r *Runner) Submit(ctx context.Context, docs []source.Document) (*Report, error) {
	if !r.Options.DryRun && (r.Batch == nil || r.Tracker == nil) {
		return nil, fmt.Errorf("%w: batch client and tracker are required", ErrNotConfigured)
	}
	if err := r.prepare(); err != nil {
		return nil, err
	}
	log := r.logger()
	report := &Report{Mode: ModeBatch, Model: r.Options.effectiveModel(), Estimated: r.Options.DryRun, RunID: uuid.NewString()}
	splitter := chunker.New(r.Options.effectiveChunkChars())
	budget := newBudget(r.Options.Budget, true)

	var reqs []provider.Request
	var records []batchjob.DocumentRecord
	var pending []int // report indexes of submitted documents

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !r.Options.Force && doc.Skipped() {
			report.add(r.skip(ModeBatch, doc))
			continue
		}
		if budget.exhausted {
			report.add(r.overBudget(ModeBatch, doc))
			continue
		}

		text, err := r.load(doc.Path)
		if err != nil {
			r.fail(report, ModeBatch, DocumentResult{Document: doc.ID, Target: doc.Target}, err)
			continue
		}
		chunks := splitter.Split(text)
		r.warnOversized(doc.ID, chunks)

		if r.Options.DryRun {
			report.add(estimate(doc, text, chunks))
			r.Metrics.ObserveDocument(ModeBatch, string(StatusDryRun))
			continue
		}

		est := estimate(doc, text, chunks)
		if !budget.admit(est) {
			log.Warn("budget exhausted", "spent", fmt.Sprintf("$%.2f", budget.spent), "budget", fmt.Sprintf("$%.2f", budget.limit))
			report.add(r.overBudget(ModeBatch, doc))
			continue
		}
		budget.charge(est)

		docNum := len(records)
		rec := batchjob.DocumentRecord{ID: doc.ID, Source: doc.Path, Target: doc.Target}
		rec.Checksum, _ = lockfile.HashFile(doc.Path)
		tagged := 0
		for _, c := range chunks {
			cr := batchjob.ChunkRecord{Index: c.Index, Lead: c.Lead, Trail: c.Trail}
			if !c.Empty() {
				cr.Tag = batchjob.Tag(docNum, c.Index)
				reqs = append(reqs, provider.Request{
					Tag:       cr.Tag,
					Model:     r.Options.effectiveModel(),
					MaxTokens: r.Options.effectiveMaxTokens(),
					System:    r.Context.System(),
					Messages:  []provider.Message{{Role: "user", Content: r.Context.User(doc.ID, c, len(chunks))}},
				})
				tagged++
			}
			rec.Chunks = append(rec.Chunks, cr)
		}

		if tagged == 0 {
			// Nothing to translate: the output is the source whitespace.
			if err := atomicfile.Write(doc.Target, []byte(chunker.Join(chunks)), 0o644); err != nil {
				r.fail(report, ModeBatch, DocumentResult{Document: doc.ID, Target: doc.Target}, err)
				continue
			}
			report.add(DocumentResult{Document: doc.ID, Target: doc.Target, Status: StatusTranslated, Chunks: len(chunks)})
			continue
		}

		records = append(records, rec)
		pending = append(pending, len(report.Documents))
		report.add(DocumentResult{Document: doc.ID, Target: doc.Target, Status: StatusSubmitted, Chunks: len(chunks)})
	}

	if len(reqs) == 0 {
		return report, nil
	}

	status, err := r.Batch.SubmitBatch(ctx, reqs)
	if err != nil {
		for _, i := range pending {
			d := &report.Documents[i]
			d.Status = StatusFailed
			d.Err = fmt.Errorf("%w: %s: batch submission: %w", ErrDocument, d.Document, err)
			r.Metrics.ObserveDocument(ModeBatch, string(StatusFailed))
		}
		return report, fmt.Errorf("submitting batch: %w", err)
	}
	report.BatchID = status.ID

	job := batchjob.Job{
		ID:          status.ID,
		RunID:       report.RunID,
		Provider:    r.Options.Provider,
		Model:       r.Options.effectiveModel(),
		Fingerprint: r.Context.Fingerprint(),
		State:       batchjob.StateSubmitted,
		SubmittedAt: status.CreatedAt,
		ExpiresAt:   status.ExpiresAt,
		Requests:    len(reqs),
		Counts:      status.Counts,
		Documents:   records,
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	if err := r.Tracker.Record(job); err != nil {
		return report, fmt.Errorf("recording batch %s: %w", status.ID, err)
	}
	for range pending {
		r.Metrics.ObserveDocument(ModeBatch, string(StatusSubmitted))
	}
	log.Info("batch submitted", "id", status.ID, "requests", len(reqs), "documents", len(records))
	return report, nil
}
