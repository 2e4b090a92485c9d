package batchjob

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minios-linux/docweave/assemble"
	"github.com/minios-linux/docweave/atomicfile"
	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/glossary"
	"github.com/minios-linux/docweave/lockfile"
	"github.com/minios-linux/docweave/metrics"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/termlog"
)

// Tracker drives batch jobs through their lifecycle.
type Tracker struct {
	Store  *Store
	Client provider.BatchClient

	// Glossary, Candidates and Policy enable candidate collection for
	// documents written on completion. All optional.
	Glossary   *glossary.Glossary
	Candidates *candidates.Collection
	Policy     candidates.Policy
	// LoadSource reads a source document for candidate extraction.
	LoadSource func(path string) (string, error)

	// Lock records written outputs. Optional.
	Lock *lockfile.LockFile

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Report is the result of a poll.
type Report struct {
	Job Job
	// Status is the service-side status; zero when the job was already
	// terminal and the service was not contacted.
	Status provider.BatchStatus
}

func (t *Tracker) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// Record persists a freshly submitted job.
func (t *Tracker) Record(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("batch job without id")
	}
	if job.State == "" {
		job.State = StateSubmitted
	}
	if job.State != StateSubmitted {
		return fmt.Errorf("%w: new job in state %s", ErrInvalidTransition, job.State)
	}
	if _, exists := t.Store.Get(job.ID); exists {
		return fmt.Errorf("batch job %s already recorded", job.ID)
	}
	now := t.now()
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = now
	}
	job.UpdatedAt = now
	t.Store.Put(job)
	if err := t.Store.Save(); err != nil {
		return err
	}
	t.Metrics.ObserveBatchTransition(string(StateSubmitted))
	return nil
}

// List returns all known jobs, newest first.
func (t *Tracker) List() []Job {
	return t.Store.List()
}

// Poll checks a job. In-progress jobs only report; ended jobs have their
// results demultiplexed, documents written and the job moved to a terminal
// state. Terminal jobs report without contacting the service.
func (t *Tracker) Poll(ctx context.Context, id string) (Report, error) {
	job, ok := t.Store.Get(id)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.State.Terminal() {
		return Report{Job: job}, nil
	}

	status, err := t.Client.Poll(ctx, id)
	if err != nil {
		return Report{Job: job}, fmt.Errorf("%w: polling %s: %w", ErrBatchJob, id, err)
	}
	job.Counts = status.Counts
	if !status.ExpiresAt.IsZero() {
		job.ExpiresAt = status.ExpiresAt
	}

	if !status.Ended() {
		if job.State == StateSubmitted {
			if err := job.Transition(StatePolling, t.now()); err != nil {
				return Report{Job: job}, err
			}
			t.Metrics.ObserveBatchTransition(string(StatePolling))
		}
		job.UpdatedAt = t.now()
		t.Store.Put(job)
		if err := t.Store.Save(); err != nil {
			return Report{Job: job, Status: status}, err
		}
		return Report{Job: job, Status: status}, nil
	}

	results, err := t.Client.Results(ctx, id)
	if err != nil {
		return Report{Job: job, Status: status}, fmt.Errorf("%w: fetching results of %s: %w", ErrBatchJob, id, err)
	}

	job.Outcomes = t.commit(ctx, &job, results)

	final := finalState(status.Counts)
	if err := job.Transition(final, t.now()); err != nil {
		return Report{Job: job, Status: status}, err
	}
	job.Documents = nil
	t.Store.Put(job)
	if err := t.Store.Save(); err != nil {
		return Report{Job: job, Status: status}, err
	}
	t.Metrics.ObserveBatchTransition(string(final))
	t.logger().Info("batch finished", "id", id, "state", final, "succeeded", status.Counts.Succeeded, "errored", status.Counts.Errored)
	return Report{Job: job, Status: status}, nil
}

// finalState maps the service request counts of an ended batch.
func finalState(c provider.RequestCounts) State {
	switch {
	case c.Succeeded > 0:
		return StateCompleted
	case c.Expired > 0 && c.Errored == 0 && c.Canceled == 0:
		return StateExpired
	default:
		return StateFailed
	}
}

// commit writes every document whose chunks all succeeded and returns the
// per-document outcomes.
func (t *Tracker) commit(ctx context.Context, job *Job, results []provider.BatchResult) []Outcome {
	log := t.logger()
	byTag := make(map[string]provider.BatchResult, len(results))
	for _, r := range results {
		byTag[r.Tag] = r
	}

	var outcomes []Outcome
	candidatesChanged := false
	for _, doc := range job.Documents {
		chunks := make([]chunker.Chunk, 0, len(doc.Chunks))
		translated := make(map[int]string, len(doc.Chunks))
		var problems []string

		for _, c := range doc.Chunks {
			chunk := chunker.Chunk{Index: c.Index, Lead: c.Lead, Trail: c.Trail}
			if c.Tag == "" {
				chunks = append(chunks, chunk)
				continue
			}
			// Any non-empty body marks the chunk as needing a translation.
			chunk.Body = c.Tag
			chunks = append(chunks, chunk)

			r, ok := byTag[c.Tag]
			if !ok {
				problems = append(problems, fmt.Sprintf("chunk %d: no result", c.Index))
				continue
			}
			delete(byTag, c.Tag)
			if r.Outcome != provider.OutcomeSucceeded {
				problems = append(problems, fmt.Sprintf("chunk %d: %s", c.Index, r.Outcome))
				continue
			}
			if r.Response.Truncated {
				log.Warn("output hit the token limit", "document", doc.ID, "chunk", c.Index)
			}
			job.InputTokens += r.Response.InputTokens
			job.OutputTokens += r.Response.OutputTokens
			t.Metrics.AddTokens(metrics.ModeBatch, r.Response.InputTokens, r.Response.OutputTokens)
			translated[c.Index] = r.Response.Text
		}

		outcome := Outcome{Document: doc.ID, Target: doc.Target}
		if len(problems) > 0 {
			outcome.Status = OutcomeFailed
			outcome.Error = strings.Join(problems, "; ")
			outcomes = append(outcomes, outcome)
			t.Metrics.ObserveDocument(metrics.ModeBatch, OutcomeFailed)
			log.Error("document failed", "document", doc.ID, "error", outcome.Error)
			continue
		}

		text, err := assemble.Assemble(chunks, translated)
		if err == nil {
			err = atomicfile.Write(doc.Target, []byte(text), 0o644)
		}
		if err != nil {
			outcome.Status = OutcomeFailed
			outcome.Error = err.Error()
			outcomes = append(outcomes, outcome)
			t.Metrics.ObserveDocument(metrics.ModeBatch, OutcomeFailed)
			log.Error("document failed", "document", doc.ID, "error", err)
			continue
		}

		outcome.Status = OutcomeWritten
		outcomes = append(outcomes, outcome)
		t.Metrics.ObserveDocument(metrics.ModeBatch, OutcomeWritten)
		log.Log(ctx, termlog.LevelSuccess, "document written", "document", doc.ID, "target", doc.Target)
		t.Lock.Record(doc.ID, lockfile.Entry{
			Source:      doc.Checksum,
			Model:       job.Model,
			Fingerprint: job.Fingerprint,
			Batch:       job.ID,
		})

		if t.collect(ctx, doc, text) {
			candidatesChanged = true
		}
	}

	for tag := range byTag {
		log.Warn("result with unknown tag", "id", job.ID, "tag", tag)
	}
	if candidatesChanged {
		if err := t.Candidates.Save(); err != nil {
			log.Warn("saving candidates failed", "error", err)
		}
	}
	if err := t.Lock.Save(); err != nil {
		log.Warn("saving lock file failed", "error", err)
	}
	return outcomes
}

func (t *Tracker) collect(ctx context.Context, doc DocumentRecord, translation string) bool {
	if t.Candidates == nil || t.Policy == nil {
		return false
	}
	sample := candidates.Sample{Document: doc.ID, Translation: translation}
	if t.LoadSource != nil {
		if src, err := t.LoadSource(doc.Source); err == nil {
			sample.Source = src
		}
	}
	terms, err := t.Policy.Extract(ctx, sample)
	if err != nil {
		t.logger().Warn("candidate extraction failed", "document", doc.ID, "error", err)
		return false
	}
	return t.Candidates.Add(t.Glossary, terms) > 0
}
