package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minios-linux/docweave/batchjob"
	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/config"
	"github.com/minios-linux/docweave/lockfile"
	"github.com/minios-linux/docweave/settings"
	"github.com/minios-linux/docweave/translate"
)

// newProject lays out a project with a mock provider and returns its root.
func newProject(t *testing.T, cfg string, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	old := rootDir
	rootDir = dir
	t.Cleanup(func() { rootDir = old })

	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv(settings.EnvAPIKey, "")
	t.Setenv(settings.EnvAnthropicAPIKey, "")
	t.Setenv(config.ModelEnv, "")

	write := func(rel, body string) {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if cfg != "" {
		write(config.FileName, cfg)
	}
	write("glossary.json", `[{"term_en": "circuit breaker", "term_ru": "автомат защиты"}]`)
	for name, body := range docs {
		write(filepath.Join("docs", name), body)
	}
	return dir
}

const mockConfig = "provider: mock\nchunk_pause: 1ms\ndocument_pause: 1ms\ncandidate_policy: none\n"

func TestRunTranslateWithMockProvider(t *testing.T) {
	dir := newProject(t, mockConfig, map[string]string{
		"a.md": "# Guide\n\nEnable the circuit breaker before deploying.\n",
		"b.md": "# Notes\n\nNothing special.\n",
	})

	report, err := runTranslate(context.Background(), translateArgs{})
	if err != nil {
		t.Fatalf("runTranslate error: %v", err)
	}
	if got := report.Count(translate.StatusTranslated); got != 2 {
		t.Fatalf("translated = %d, want 2", got)
	}

	out, err := os.ReadFile(filepath.Join(dir, "docs_ru", "a.md"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(out), "автомат защиты") {
		t.Fatalf("output %q lacks the glossary rendering", out)
	}
	if !strings.HasPrefix(string(out), "# Guide") {
		t.Fatalf("output %q lost the heading", out)
	}

	lock, err := lockfile.Load(dir)
	if err != nil {
		t.Fatalf("lockfile.Load: %v", err)
	}
	if got := lock.Names(); len(got) != 2 {
		t.Fatalf("lock entries = %v, want 2", got)
	}

	// A second run skips both documents.
	report, err = runTranslate(context.Background(), translateArgs{})
	if err != nil {
		t.Fatalf("second runTranslate error: %v", err)
	}
	if got := report.Count(translate.StatusSkipped); got != 2 {
		t.Fatalf("skipped = %d, want 2", got)
	}
}

func TestRunTranslateSingleFile(t *testing.T) {
	dir := newProject(t, mockConfig, map[string]string{
		"a.md": "Alpha.\n",
		"b.md": "Beta.\n",
	})

	report, err := runTranslate(context.Background(), translateArgs{file: "b.md"})
	if err != nil {
		t.Fatalf("runTranslate error: %v", err)
	}
	if len(report.Documents) != 1 || report.Documents[0].Document != "b.md" {
		t.Fatalf("documents = %+v, want only b.md", report.Documents)
	}
	if _, err := os.Stat(filepath.Join(dir, "docs_ru", "a.md")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("a.md should not be translated, stat err=%v", err)
	}
}

func TestRunTranslateBudget(t *testing.T) {
	dir := newProject(t, mockConfig+"budget: 0.01\n", map[string]string{"a.md": "Alpha.\n"})

	// The fixed prompt overhead alone is estimated above one cent.
	report, err := runTranslate(context.Background(), translateArgs{})
	if err != nil {
		t.Fatalf("runTranslate error: %v", err)
	}
	if report.Count(translate.StatusOverBudget) != 1 || !report.Incomplete() {
		t.Fatalf("documents = %+v, want a.md held back", report.Documents)
	}
	if _, err := os.Stat(filepath.Join(dir, "docs_ru", "a.md")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("a.md written past the budget, stat err=%v", err)
	}

	report, err = runTranslate(context.Background(), translateArgs{budget: 1})
	if err != nil {
		t.Fatalf("runTranslate error: %v", err)
	}
	if report.Count(translate.StatusTranslated) != 1 {
		t.Fatalf("documents = %+v, want --budget to override the config", report.Documents)
	}
}

func TestRunTranslateMissingKeyIsConfigError(t *testing.T) {
	dir := newProject(t, "", map[string]string{"a.md": "Alpha.\n"})

	_, err := runTranslate(context.Background(), translateArgs{})
	if !errors.Is(err, config.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "docs_ru")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output directory created despite configuration error")
	}
}

func TestRunTranslateMalformedGlossaryAborts(t *testing.T) {
	dir := newProject(t, mockConfig, map[string]string{"a.md": "Alpha.\n"})
	if err := os.WriteFile(filepath.Join(dir, "glossary.json"), []byte(`{"not": "a list"}`), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := runTranslate(context.Background(), translateArgs{})
	if !errors.Is(err, config.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestRunTranslateDryRunNeedsNoKey(t *testing.T) {
	newProject(t, "", map[string]string{"a.md": strings.Repeat("Some words here. ", 300)})

	report, err := runTranslate(context.Background(), translateArgs{dryRun: true})
	if err != nil {
		t.Fatalf("runTranslate error: %v", err)
	}
	if !report.Estimated || report.Count(translate.StatusDryRun) != 1 {
		t.Fatalf("report = %+v, want one estimated document", report)
	}
	if report.InputTokens == 0 {
		t.Fatal("dry run estimated no tokens")
	}
}

func TestRunTranslateBatchRecordsJob(t *testing.T) {
	dir := newProject(t, mockConfig, map[string]string{"a.md": "# One\n\nFirst.\n"})

	report, err := runTranslate(context.Background(), translateArgs{batch: true})
	if err != nil {
		t.Fatalf("runTranslate error: %v", err)
	}
	if report.BatchID == "" {
		t.Fatal("no batch id in report")
	}

	store, err := batchjob.Load(dir)
	if err != nil {
		t.Fatalf("batchjob.Load: %v", err)
	}
	job, ok := store.Get(report.BatchID)
	if !ok {
		t.Fatalf("job %s not recorded", report.BatchID)
	}
	if job.State != batchjob.StateSubmitted || job.Provider != "mock" {
		t.Fatalf("job = %+v, want submitted mock job", job)
	}
}

func TestRunBatchStatusUnknownJob(t *testing.T) {
	newProject(t, mockConfig, nil)

	err := runBatchStatus(context.Background(), "msgbatch_missing")
	if !errors.Is(err, batchjob.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestMetricsFileWritten(t *testing.T) {
	dir := newProject(t, mockConfig+"metrics_file: metrics.prom\n", map[string]string{"a.md": "Alpha.\n"})

	if _, err := runTranslate(context.Background(), translateArgs{}); err != nil {
		t.Fatalf("runTranslate error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "metrics.prom"))
	if err != nil {
		t.Fatalf("reading metrics file: %v", err)
	}
	if !strings.Contains(string(data), "docweave_translate_documents_total") {
		t.Fatalf("metrics file lacks document counter:\n%s", data)
	}
}

func TestSummaryLines(t *testing.T) {
	r := &translate.Report{
		Mode: translate.ModeSync,
		Documents: []translate.DocumentResult{
			{Document: "a.md", Status: translate.StatusTranslated},
			{Document: "b.md", Status: translate.StatusTranslated},
			{Document: "c.md", Status: translate.StatusFailed},
			{Document: "d.md", Status: translate.StatusOverBudget},
		},
		InputTokens:  1000,
		OutputTokens: 1000,
	}

	got := strings.Join(summaryLines(r), "\n")
	for _, want := range []string{"Translated:  2", "Failed:      1", "Over budget: 1", "1000 in / 1000 out", "$0.02"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary %q lacks %q", got, want)
		}
	}
	if strings.Contains(got, "Skipped") {
		t.Fatalf("summary %q lists an empty counter", got)
	}

	r.Mode = translate.ModeBatch
	r.Estimated = true
	got = strings.Join(summaryLines(r), "\n")
	if !strings.Contains(got, "$0.01 (estimate) (batch pricing)") {
		t.Fatalf("batch summary = %q", got)
	}
}

func storedCredential(t *testing.T, providerID string) settings.Credential {
	t.Helper()
	keys, err := settings.Open()
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	c, _ := keys.Lookup(providerID)
	return c
}

func TestAuthLoginStoresKey(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := authLogin("anthropic", strings.NewReader("sk-ant-secret-123\n")); err != nil {
		t.Fatalf("authLogin error: %v", err)
	}
	if got := storedCredential(t, "anthropic"); got.Key != "sk-ant-secret-123" {
		t.Fatalf("stored key = %q", got.Key)
	}

	// Empty input keeps the existing key.
	if err := authLogin("anthropic", strings.NewReader("\n")); err != nil {
		t.Fatalf("authLogin keep error: %v", err)
	}
	if got := storedCredential(t, "anthropic"); got.Key != "sk-ant-secret-123" {
		t.Fatalf("key after keep = %q", got.Key)
	}

	if err := authLogin("custom-openai", strings.NewReader("http://llm.local/v1\nkey-1\n")); err != nil {
		t.Fatalf("authLogin custom error: %v", err)
	}
	if got := storedCredential(t, "custom-openai"); got.BaseURL != "http://llm.local/v1" {
		t.Fatalf("base URL = %q", got.BaseURL)
	}

	if err := authLogin("ollama", strings.NewReader("x\n")); err == nil {
		t.Fatal("expected error for provider without keys")
	}
	if err := authLogin("openai", strings.NewReader("")); err == nil {
		t.Fatal("expected error on empty input")
	}
}

func TestCandidateLine(t *testing.T) {
	got := candidateLine(candidates.Term{Term: "rate limiter", Translation: "ограничитель", Document: "net.md"})
	if !strings.HasPrefix(got, "rate limiter → ограничитель") || !strings.Contains(got, "(net.md)") {
		t.Fatalf("candidateLine() = %q", got)
	}
	if got := candidateLine(candidates.Term{Term: "quorum"}); got != "quorum" {
		t.Fatalf("candidateLine(bare) = %q, want quorum", got)
	}
}
