package translate

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minios-linux/docweave/batchjob"
	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/lockfile"
	"github.com/minios-linux/docweave/prompt"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/provider/mock"
	"github.com/minios-linux/docweave/resilience"
	"github.com/minios-linux/docweave/source"
)

const longDoc = "# Book\n\nPreface text.\n\n## One\n\nFirst chapter body.\n\n## Two\n\nSecond chapter body.\n"

type fixture struct {
	dir  string
	src  string
	out  string
	docs []source.Document
}

func newFixture(t *testing.T, files map[string]string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{dir: dir, src: filepath.Join(dir, "src"), out: filepath.Join(dir, "out")}
	if err := os.MkdirAll(f.src, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(f.src, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := source.Discover(f.src, f.out, source.Selection{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	f.docs = docs
	return f
}

func (f fixture) output(t *testing.T, name string) (string, bool) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.out, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", false
	}
	if err != nil {
		t.Fatal(err)
	}
	return string(data), true
}

func fastExecutor(attempts int) *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	}, nil)
}

func newRunner(client provider.Client) *Runner {
	return &Runner{
		Client:   client,
		Context:  prompt.New("", "", nil, "en", "ru"),
		Executor: fastExecutor(3),
		Options: Options{
			ChunkChars:    30,
			ChunkPause:    time.Millisecond,
			DocumentPause: time.Millisecond,
		},
	}
}

func TestRunTranslatesAndSkips(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": longDoc, "b.md": "Done already.\n"})
	if err := os.MkdirAll(f.out, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.out, "b.md"), []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := &mock.Client{Pad: true}
	report, err := newRunner(client).Run(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("report failed: %+v", report.Documents)
	}
	if report.Count(StatusTranslated) != 1 || report.Count(StatusSkipped) != 1 {
		t.Fatalf("unexpected report: %+v", report.Documents)
	}

	got, ok := f.output(t, "a.md")
	if !ok || got != longDoc {
		t.Fatalf("a.md = %q, want %q", got, longDoc)
	}
	if got, _ := f.output(t, "b.md"); got != "existing" {
		t.Fatalf("skipped output was overwritten: %q", got)
	}

	calls := client.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	for i, c := range calls {
		if strings.Contains(c.Messages[0].Content, "File: b.md") {
			t.Fatalf("skipped document was sent to the service")
		}
		want := "This is chunk " + string(rune('1'+i)) + "/3."
		if !strings.Contains(c.Messages[0].Content, want) {
			t.Fatalf("call %d out of order: missing %q", i, want)
		}
	}
	if report.InputTokens == 0 || report.OutputTokens == 0 {
		t.Fatalf("token totals not accumulated: %+v", report)
	}
}

func TestRunForceRetranslates(t *testing.T) {
	f := newFixture(t, map[string]string{"b.md": "Fresh text.\n"})
	if err := os.MkdirAll(f.out, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.out, "b.md"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newRunner(&mock.Client{Prefix: "RU "})
	r.Options.Force = true
	if _, err := r.Run(context.Background(), f.docs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, _ := f.output(t, "b.md"); got != "RU Fresh text.\n" {
		t.Fatalf("b.md = %q, want forced translation", got)
	}
}

func TestRunFlagsChangedSources(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": "First.\n", "b.md": "Second.\n"})
	lock, err := lockfile.Load(f.dir)
	if err != nil {
		t.Fatalf("lockfile.Load: %v", err)
	}

	r := newRunner(&mock.Client{})
	r.Lock = lock
	if _, err := r.Run(context.Background(), f.docs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	e, ok := lock.Get("a.md")
	if !ok || e.Source != lockfile.Hash([]byte("First.\n")) || e.Fingerprint != r.Context.Fingerprint() {
		t.Fatalf("lock entry = %+v, %v", e, ok)
	}
	if _, err := os.Stat(lock.Path()); err != nil {
		t.Fatalf("lock file not saved: %v", err)
	}

	if err := os.WriteFile(filepath.Join(f.src, "a.md"), []byte("First, edited.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	report, err := r.Run(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Count(StatusSkipped) != 2 {
		t.Fatalf("unexpected report: %+v", report.Documents)
	}
	for _, d := range report.Documents {
		if want := d.Document == "a.md"; d.Stale != want {
			t.Fatalf("%s Stale = %v, want %v", d.Document, d.Stale, want)
		}
	}
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": longDoc})
	client := &mock.Client{}
	r := newRunner(client)
	r.Options.DryRun = true

	report, err := r.Run(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.Calls()) != 0 {
		t.Fatalf("dry run called the service")
	}
	if _, ok := f.output(t, "a.md"); ok {
		t.Fatalf("dry run wrote output")
	}
	d := report.Documents[0]
	tokens := len(longDoc) / 3
	if d.Status != StatusDryRun || d.Chunks != 3 || d.InputTokens != tokens+8000 || d.OutputTokens != int(float64(tokens)*1.15) {
		t.Fatalf("unexpected estimate: %+v", d)
	}
	if !report.Estimated {
		t.Fatalf("Estimated = false for dry run")
	}
}

func TestRunIsolatesDocumentFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": longDoc, "b.md": longDoc, "c.md": "Fine one.\n"})
	client := &mock.Client{Fail: func(_ int, req provider.Request) error {
		content := req.Messages[0].Content
		if strings.Contains(content, "File: b.md") && strings.Contains(content, "Second chapter") {
			return &provider.HTTPStatusError{Provider: "mock", Operation: "messages", StatusCode: 529, Status: "529 Overloaded"}
		}
		return nil
	}}

	report, err := newRunner(client).Run(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Failed() || report.Count(StatusTranslated) != 2 {
		t.Fatalf("unexpected report: %+v", report.Documents)
	}
	if _, ok := f.output(t, "b.md"); ok {
		t.Fatalf("failed document was written")
	}
	if _, ok := f.output(t, "c.md"); !ok {
		t.Fatalf("document after the failure was not processed")
	}

	bCalls := 0
	for _, c := range client.Calls() {
		if strings.Contains(c.Messages[0].Content, "File: b.md") {
			bCalls++
		}
	}
	// Two chunks succeed, the third is attempted three times.
	if bCalls != 5 {
		t.Fatalf("b.md attempts = %d, want 5", bCalls)
	}
	for _, d := range report.Documents {
		switch d.Document {
		case "b.md":
			if !errors.Is(d.Err, ErrDocument) {
				t.Fatalf("b.md error = %v, want ErrDocument", d.Err)
			}
			if len(d.Partial) != 2 {
				t.Fatalf("b.md partial = %q, want the two translated chunks", d.Partial)
			}
			for i, text := range d.Partial {
				if strings.Contains(text, "Second chapter") {
					t.Fatalf("partial chunk %d holds the failed text: %q", i, text)
				}
			}
		default:
			if d.Partial != nil {
				t.Fatalf("%s partial = %q, want nil", d.Document, d.Partial)
			}
		}
	}
}

func TestRunDoesNotRetryPermanentErrors(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": "Text.\n"})
	client := &mock.Client{Fail: func(int, provider.Request) error {
		return &provider.HTTPStatusError{Provider: "mock", Operation: "messages", StatusCode: 400, Status: "400 Bad Request"}
	}}
	report, err := newRunner(client).Run(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Failed() || len(client.Calls()) != 1 {
		t.Fatalf("calls = %d failed = %v, want 1 call and a failure", len(client.Calls()), report.Failed())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": "Text.\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newRunner(&mock.Client{}).Run(ctx, f.docs); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRunSavesProgressWhenCancelled(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.md": "Узел хранит состояние (state).\n",
		"b.md": "Журнал пишет событие (event).\n",
	})
	coll, err := candidates.Load(filepath.Join(f.dir, candidates.DefaultFile))
	if err != nil {
		t.Fatal(err)
	}
	lock, err := lockfile.Load(f.dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &mock.Client{Fail: func(call int, _ provider.Request) error {
		if call == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}}
	r := newRunner(client)
	r.Candidates = coll
	r.Policy = candidates.Parenthetical{}
	r.Lock = lock

	if _, err := r.Run(ctx, f.docs); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	saved, err := candidates.Load(coll.Path())
	if err != nil {
		t.Fatalf("reloading candidates: %v", err)
	}
	if saved.Len() != 1 || saved.Terms()[0].Term != "state" {
		t.Fatalf("saved candidates = %+v, want state", saved.Terms())
	}
	reloaded, err := lockfile.Load(f.dir)
	if err != nil {
		t.Fatalf("reloading lock file: %v", err)
	}
	if _, ok := reloaded.Get("a.md"); !ok {
		t.Fatalf("lock entry for a.md not saved")
	}
	if _, ok := reloaded.Get("b.md"); ok {
		t.Fatalf("lock entry recorded for the interrupted document")
	}
}

func TestRunRequiresClient(t *testing.T) {
	if _, err := (&Runner{}).Run(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRunCollectsCandidates(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": "Узел хранит состояние (state).\n"})
	coll, err := candidates.Load(filepath.Join(f.dir, candidates.DefaultFile))
	if err != nil {
		t.Fatal(err)
	}
	r := newRunner(&mock.Client{})
	r.Candidates = coll
	r.Policy = candidates.Parenthetical{}

	if _, err := r.Run(context.Background(), f.docs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if coll.Len() != 1 || coll.Terms()[0].Term != "state" {
		t.Fatalf("unexpected candidates: %+v", coll.Terms())
	}
	if _, err := os.Stat(coll.Path()); err != nil {
		t.Fatalf("candidates not saved: %v", err)
	}
}

func TestSubmitAndPoll(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": longDoc, "b.md": "Short.\n"})
	store, err := batchjob.Load(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	b := &mock.Batch{Client: &mock.Client{Pad: true}}
	tracker := &batchjob.Tracker{Store: store, Client: b}

	r := newRunner(nil)
	r.Batch = b
	r.Tracker = tracker
	r.Options.Provider = "mock"

	report, err := r.Submit(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.BatchID == "" || report.RunID == "" || report.Count(StatusSubmitted) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	reloaded, err := batchjob.Load(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	job, ok := reloaded.Get(report.BatchID)
	if !ok {
		t.Fatalf("job %s not persisted", report.BatchID)
	}
	if job.Requests != 4 || len(job.Documents) != 2 || job.Documents[1].Chunks[0].Tag != batchjob.Tag(1, 0) {
		t.Fatalf("unexpected record: %+v", job)
	}
	if _, ok := f.output(t, "a.md"); ok {
		t.Fatalf("batch submission wrote output")
	}

	// Collection normally happens in a later process that reloads the store.
	rep, err := (&batchjob.Tracker{Store: reloaded, Client: b}).Poll(context.Background(), report.BatchID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rep.Job.State != batchjob.StateCompleted {
		t.Fatalf("State = %s, want completed", rep.Job.State)
	}
	if got, _ := f.output(t, "a.md"); got != longDoc {
		t.Fatalf("a.md = %q, want %q", got, longDoc)
	}
	if got, _ := f.output(t, "b.md"); got != "Short.\n" {
		t.Fatalf("b.md = %q, want %q", got, "Short.\n")
	}
}

func TestSubmitReloadKeepsOddSeparators(t *testing.T) {
	const doc = "Intro paragraph here.\n \t\n\n## Tabbed section\n\nBody text goes here.\n \n\t\n"
	f := newFixture(t, map[string]string{"c.md": doc})
	store, _ := batchjob.Load(f.dir)
	b := &mock.Batch{Client: &mock.Client{}}

	r := newRunner(nil)
	r.Batch = b
	r.Tracker = &batchjob.Tracker{Store: store, Client: b}
	report, err := r.Submit(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	reloaded, err := batchjob.Load(f.dir)
	if err != nil {
		t.Fatalf("reloading store: %v", err)
	}
	if _, err := (&batchjob.Tracker{Store: reloaded, Client: b}).Poll(context.Background(), report.BatchID); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got, _ := f.output(t, "c.md"); got != doc {
		t.Fatalf("c.md = %q, want %q", got, doc)
	}
}

func TestSubmitFailureMarksDocuments(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": "Text.\n"})
	store, _ := batchjob.Load(f.dir)
	b := &mock.Batch{SubmitErr: errors.New("quota exceeded")}

	r := newRunner(nil)
	r.Batch = b
	r.Tracker = &batchjob.Tracker{Store: store, Client: b}

	report, err := r.Submit(context.Background(), f.docs)
	if err == nil {
		t.Fatalf("Submit err = nil")
	}
	if !report.Failed() {
		t.Fatalf("documents not marked failed: %+v", report.Documents)
	}
	if len(store.List()) != 0 {
		t.Fatalf("failed submission was recorded")
	}
}

func TestCost(t *testing.T) {
	if got := Cost(1_000_000, 1_000_000, false); math.Abs(got-18) > 1e-9 {
		t.Fatalf("Cost = %v, want 18", got)
	}
	if got := Cost(1_000_000, 1_000_000, true); math.Abs(got-9) > 1e-9 {
		t.Fatalf("Cost(batch) = %v, want 9", got)
	}
}

// budgetDoc estimates at about $0.23 synchronously and $0.11 in a batch.
var budgetDoc = strings.Repeat("Word ", 6000) + "\n"

func TestRunStopsAtBudget(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": budgetDoc, "b.md": budgetDoc, "c.md": "Tiny.\n"})
	client := &mock.Client{}
	r := newRunner(client)
	r.Options.ChunkChars = 100000
	r.Options.Budget = 0.3

	report, err := r.Run(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(StatusTranslated) != 1 || report.Count(StatusOverBudget) != 2 {
		t.Fatalf("unexpected report: %+v", report.Documents)
	}
	if report.Documents[0].Document != "a.md" || report.Documents[0].Status != StatusTranslated {
		t.Fatalf("first document = %+v, want a.md translated", report.Documents[0])
	}
	// Once exhausted, later documents are not sent even if they would fit.
	if len(client.Calls()) != 1 {
		t.Fatalf("calls = %d, want 1", len(client.Calls()))
	}
	if _, ok := f.output(t, "c.md"); ok {
		t.Fatalf("document past the budget was written")
	}
	if report.Failed() || !report.Incomplete() {
		t.Fatalf("Failed = %v Incomplete = %v, want a clean but incomplete run", report.Failed(), report.Incomplete())
	}
}

func TestRunWithoutBudgetTranslatesAll(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": budgetDoc, "b.md": budgetDoc})
	r := newRunner(&mock.Client{})
	r.Options.ChunkChars = 100000

	report, err := r.Run(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(StatusTranslated) != 2 {
		t.Fatalf("unexpected report: %+v", report.Documents)
	}
}

func TestSubmitStopsAtBudget(t *testing.T) {
	f := newFixture(t, map[string]string{"a.md": budgetDoc, "b.md": budgetDoc})
	store, err := batchjob.Load(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	b := &mock.Batch{Client: &mock.Client{}}
	r := newRunner(nil)
	r.Batch = b
	r.Tracker = &batchjob.Tracker{Store: store, Client: b}
	r.Options.ChunkChars = 100000
	r.Options.Budget = 0.2

	report, err := r.Submit(context.Background(), f.docs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.Count(StatusSubmitted) != 1 || report.Count(StatusOverBudget) != 1 {
		t.Fatalf("unexpected report: %+v", report.Documents)
	}
	job, ok := store.Get(report.BatchID)
	if !ok || len(job.Documents) != 1 || job.Documents[0].ID != "a.md" {
		t.Fatalf("recorded job = %+v, %v", job, ok)
	}
}
