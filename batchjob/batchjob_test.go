package batchjob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/lockfile"
	"github.com/minios-linux/docweave/prompt"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/provider/mock"
)

type countingBatch struct {
	provider.BatchClient
	polls int
}

func (c *countingBatch) Poll(ctx context.Context, id string) (provider.BatchStatus, error) {
	c.polls++
	return c.BatchClient.Poll(ctx, id)
}

type testDoc struct {
	name string
	text string
}

// submit chunks docs, submits them through client and records the job.
func submit(t *testing.T, tr *Tracker, dir string, docs []testDoc) Job {
	t.Helper()
	pctx := prompt.New("", "", nil, "en", "ru")
	splitter := chunker.New(40)

	var reqs []provider.Request
	var records []DocumentRecord
	for d, doc := range docs {
		chunks := splitter.Split(doc.text)
		rec := DocumentRecord{
			ID:       doc.name,
			Source:   filepath.Join(dir, "src", doc.name),
			Target:   filepath.Join(dir, "out", doc.name),
			Checksum: "sum-" + doc.name,
		}
		for _, c := range chunks {
			cr := ChunkRecord{Index: c.Index, Lead: c.Lead, Trail: c.Trail}
			if !c.Empty() {
				cr.Tag = Tag(d, c.Index)
				reqs = append(reqs, provider.Request{
					Tag:      cr.Tag,
					System:   pctx.System(),
					Messages: []provider.Message{{Role: "user", Content: pctx.User(doc.name, c, len(chunks))}},
				})
			}
			rec.Chunks = append(rec.Chunks, cr)
		}
		records = append(records, rec)
	}

	st, err := tr.Client.SubmitBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	job := Job{ID: st.ID, RunID: "run-1", Provider: "mock", Model: "m", Requests: len(reqs), Documents: records}
	if err := tr.Record(job); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, _ := tr.Store.Get(st.ID)
	return got
}

func newTracker(t *testing.T, b provider.BatchClient) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return &Tracker{Store: store, Client: b}, dir
}

const twoSections = "# Title\n\nIntro paragraph.\n\n## First\n\nAlpha beta.\n\n## Second\n\nGamma delta.\n"

func TestPollUnknownJob(t *testing.T) {
	tr, _ := newTracker(t, &mock.Batch{})
	if _, err := tr.Poll(context.Background(), "msgbatch_nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestPollServiceErrorKeepsJob(t *testing.T) {
	tr, _ := newTracker(t, &mock.Batch{})
	if err := tr.Record(Job{ID: "msgbatch_lost", RunID: "run-1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	_, err := tr.Poll(context.Background(), "msgbatch_lost")
	if !errors.Is(err, ErrBatchJob) {
		t.Fatalf("err = %v, want ErrBatchJob", err)
	}
	job, _ := tr.Store.Get("msgbatch_lost")
	if job.State != StateSubmitted {
		t.Fatalf("State = %s, want submitted", job.State)
	}
}

func TestPollLifecycle(t *testing.T) {
	counter := &countingBatch{BatchClient: &mock.Batch{Client: &mock.Client{Pad: true}, PendingPolls: 1}}
	tr, dir := newTracker(t, counter)
	job := submit(t, tr, dir, []testDoc{{name: "a.md", text: twoSections}, {name: "b.md", text: "Short note.\n"}})

	if job.State != StateSubmitted {
		t.Fatalf("State = %s, want submitted", job.State)
	}

	rep, err := tr.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rep.Job.State != StatePolling || rep.Status.Ended() {
		t.Fatalf("after first poll: state %s ended %v", rep.Job.State, rep.Status.Ended())
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "a.md")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("document written before batch ended")
	}

	rep, err = tr.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rep.Job.State != StateCompleted {
		t.Fatalf("State = %s, want completed", rep.Job.State)
	}
	if rep.Job.Documents != nil {
		t.Fatalf("correlation table not pruned: %+v", rep.Job.Documents)
	}
	if len(rep.Job.Outcomes) != 2 || rep.Job.Outcomes[0].Status != OutcomeWritten {
		t.Fatalf("unexpected outcomes: %+v", rep.Job.Outcomes)
	}

	// The echo client returns the source, so reassembly must reproduce it.
	for _, name := range []string{"a.md", "b.md"} {
		data, err := os.ReadFile(filepath.Join(dir, "out", name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		want := twoSections
		if name == "b.md" {
			want = "Short note.\n"
		}
		if string(data) != want {
			t.Fatalf("%s = %q, want %q", name, data, want)
		}
	}

	polls := counter.polls
	rep, err = tr.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("re-poll: %v", err)
	}
	if counter.polls != polls {
		t.Fatalf("terminal re-poll contacted the service")
	}
	if rep.Job.State != StateCompleted {
		t.Fatalf("terminal state changed to %s", rep.Job.State)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	stored, ok := reloaded.Get(job.ID)
	if !ok || stored.State != StateCompleted || stored.EndedAt.IsZero() {
		t.Fatalf("persisted job = %+v", stored)
	}
}

func TestPollRecordsLockEntries(t *testing.T) {
	tr, dir := newTracker(t, &mock.Batch{Client: &mock.Client{}})
	lock, err := lockfile.Load(dir)
	if err != nil {
		t.Fatalf("lockfile.Load: %v", err)
	}
	tr.Lock = lock
	job := submit(t, tr, dir, []testDoc{{name: "a.md", text: "Short note.\n"}})

	rep, err := tr.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rep.Job.State != StateCompleted {
		t.Fatalf("State = %s, want completed", rep.Job.State)
	}

	reloaded, err := lockfile.Load(dir)
	if err != nil {
		t.Fatalf("lockfile.Load: %v", err)
	}
	e, ok := reloaded.Get("a.md")
	if !ok {
		t.Fatal("written document not recorded in the lock file")
	}
	if e.Source != "sum-a.md" || e.Batch != job.ID || e.Model != "m" {
		t.Fatalf("lock entry = %+v", e)
	}
}

func TestPollPartialResults(t *testing.T) {
	b := &mock.Batch{Client: &mock.Client{}, Outcomes: map[string]string{Tag(0, 1): provider.OutcomeErrored}}
	tr, dir := newTracker(t, b)
	job := submit(t, tr, dir, []testDoc{{name: "a.md", text: twoSections}, {name: "b.md", text: "Short note.\n"}})

	rep, err := tr.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rep.Job.State != StateCompleted {
		t.Fatalf("State = %s, want completed", rep.Job.State)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "a.md")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("incomplete document was written")
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "b.md")); err != nil {
		t.Fatalf("complete document missing: %v", err)
	}
	var failed *Outcome
	for i := range rep.Job.Outcomes {
		if rep.Job.Outcomes[i].Document == "a.md" {
			failed = &rep.Job.Outcomes[i]
		}
	}
	if failed == nil || failed.Status != OutcomeFailed || !strings.Contains(failed.Error, "chunk 1") {
		t.Fatalf("unexpected outcome for a.md: %+v", failed)
	}
}

func TestPollExpiredBatch(t *testing.T) {
	b := &mock.Batch{Client: &mock.Client{}, Outcomes: map[string]string{Tag(0, 0): provider.OutcomeExpired}}
	tr, dir := newTracker(t, b)
	job := submit(t, tr, dir, []testDoc{{name: "b.md", text: "Short note.\n"}})

	rep, err := tr.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rep.Job.State != StateExpired {
		t.Fatalf("State = %s, want expired", rep.Job.State)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "b.md")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expired document was written")
	}
}

func TestPollCollectsCandidates(t *testing.T) {
	b := &mock.Batch{Client: &mock.Client{}}
	tr, dir := newTracker(t, b)
	coll, _ := candidates.Load(filepath.Join(dir, candidates.DefaultFile))
	tr.Candidates = coll
	tr.Policy = candidates.Parenthetical{}

	job := submit(t, tr, dir, []testDoc{{name: "b.md", text: "Узел хранит состояние (state).\n"}})
	if _, err := tr.Poll(context.Background(), job.ID); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	terms := coll.Terms()
	if len(terms) != 1 || terms[0].Term != "state" || terms[0].Document != "b.md" {
		t.Fatalf("unexpected candidates: %+v", terms)
	}
	if _, err := os.Stat(coll.Path()); err != nil {
		t.Fatalf("candidates not saved: %v", err)
	}
}

func TestRecordRejectsDuplicates(t *testing.T) {
	tr, _ := newTracker(t, &mock.Batch{})
	job := Job{ID: "msgbatch_x", Requests: 1}
	if err := tr.Record(job); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tr.Record(job); err == nil {
		t.Fatalf("second Record err = nil")
	}
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateSubmitted, StatePolling, true},
		{StateSubmitted, StateCompleted, true},
		{StatePolling, StateExpired, true},
		{StatePolling, StateSubmitted, false},
		{StateCompleted, StatePolling, false},
		{StateFailed, StateCompleted, false},
		{StateExpired, StateFailed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}

	j := Job{State: StateCompleted}
	if err := j.Transition(StatePolling, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition err = %v, want ErrInvalidTransition", err)
	}
}

func TestFinalState(t *testing.T) {
	cases := []struct {
		counts provider.RequestCounts
		want   State
	}{
		{provider.RequestCounts{Succeeded: 1, Errored: 3}, StateCompleted},
		{provider.RequestCounts{Expired: 2}, StateExpired},
		{provider.RequestCounts{Expired: 2, Errored: 1}, StateFailed},
		{provider.RequestCounts{Canceled: 1}, StateFailed},
	}
	for _, tc := range cases {
		if got := finalState(tc.counts); got != tc.want {
			t.Fatalf("finalState(%+v) = %s, want %s", tc.counts, got, tc.want)
		}
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	s, _ := Load(t.TempDir())
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Put(Job{ID: "old", SubmittedAt: base})
	s.Put(Job{ID: "new", SubmittedAt: base.Add(time.Hour)})
	s.Put(Job{ID: "old", SubmittedAt: base, State: StateFailed})

	jobs := s.List()
	if len(jobs) != 2 || jobs[0].ID != "new" || jobs[1].State != StateFailed {
		t.Fatalf("unexpected list: %+v", jobs)
	}
}

func TestStoreKeepsWhitespaceSeparators(t *testing.T) {
	dir := t.TempDir()
	s, _ := Load(dir)
	chunks := []ChunkRecord{
		{Tag: Tag(0, 0), Index: 0, Trail: "\n"},
		{Tag: Tag(0, 1), Index: 1, Lead: "\n\n", Trail: "\n\n"},
		{Tag: Tag(0, 2), Index: 2, Lead: "\t\n\n", Trail: " \n"},
		{Index: 3, Lead: "\r\n  \r\n"},
		{Tag: Tag(0, 4), Index: 4},
	}
	s.Put(Job{ID: "msgbatch_ws", State: StateSubmitted, Documents: []DocumentRecord{{ID: "a.md", Chunks: chunks}}})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	job, ok := reloaded.Get("msgbatch_ws")
	if !ok {
		t.Fatal("job lost on reload")
	}
	got := job.Documents[0].Chunks
	if len(got) != len(chunks) {
		t.Fatalf("chunks = %d, want %d", len(got), len(chunks))
	}
	for i := range chunks {
		if got[i] != chunks[i] {
			t.Fatalf("chunk %d = %+v, want %+v", i, got[i], chunks[i])
		}
	}
}
