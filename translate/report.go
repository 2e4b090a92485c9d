package translate

import (
	"unicode/utf8"

	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/prompt"
	"github.com/minios-linux/docweave/source"
)

// Status is the outcome of one document in a run.
type Status string

const (
	StatusTranslated Status = "translated"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
	StatusDryRun     Status = "dry-run"
	StatusSubmitted  Status = "submitted"
	StatusOverBudget Status = "over-budget"
)

// Pricing in USD per million tokens. Batch requests cost half.
const (
	CostInputPerM  = 3.0
	CostOutputPerM = 15.0
)

// promptOverheadTokens approximates the fixed instructions sent with each
// document in dry-run estimates.
const promptOverheadTokens = 8000

// DocumentResult is the outcome of one document.
type DocumentResult struct {
	Document     string
	Target       string
	Status       Status
	Chunks       int
	Chars        int
	InputTokens  int
	OutputTokens int
	// Stale marks a skipped document whose source changed since its
	// output was produced.
	Stale bool
	// Partial holds the chunks translated before a failure, by index.
	// It is never written to the output.
	Partial map[int]string
	Err     error
}

// Report summarizes a run.
type Report struct {
	Mode  string
	Model string
	// Estimated is set for dry runs; token counts are estimates.
	Estimated bool
	// RunID and BatchID identify a batch submission.
	RunID   string
	BatchID string

	Documents    []DocumentResult
	InputTokens  int
	OutputTokens int
}

func (r *Report) add(res DocumentResult) {
	r.Documents = append(r.Documents, res)
	r.InputTokens += res.InputTokens
	r.OutputTokens += res.OutputTokens
}

// Count returns the number of documents with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, d := range r.Documents {
		if d.Status == s {
			n++
		}
	}
	return n
}

// Failed reports whether any document failed.
func (r *Report) Failed() bool {
	return r.Count(StatusFailed) > 0
}

// Incomplete reports whether any selected document was left untranslated,
// either failed or held back by the budget.
func (r *Report) Incomplete() bool {
	return r.Failed() || r.Count(StatusOverBudget) > 0
}

// Cost returns the estimated cost of the run in USD.
func (r *Report) Cost() float64 {
	return Cost(r.InputTokens, r.OutputTokens, r.Mode == ModeBatch)
}

// Cost prices a token count.
func Cost(input, output int, batch bool) float64 {
	c := (float64(input)*CostInputPerM + float64(output)*CostOutputPerM) / 1_000_000
	if batch {
		c /= 2
	}
	return c
}

// estimate predicts usage of a document without calling the service.
func estimate(doc source.Document, text string, chunks []chunker.Chunk) DocumentResult {
	tokens := prompt.EstimateTokens(text)
	return DocumentResult{
		Document:     doc.ID,
		Target:       doc.Target,
		Status:       StatusDryRun,
		Chunks:       len(chunks),
		Chars:        utf8.RuneCountInString(text),
		InputTokens:  tokens + promptOverheadTokens,
		OutputTokens: int(float64(tokens) * 1.15),
	}
}

// budget tracks spend against a per-run cap.
type budget struct {
	limit     float64
	spent     float64
	batch     bool
	exhausted bool
}

func newBudget(limit float64, batch bool) *budget {
	return &budget{limit: limit, batch: batch}
}

// admit reports whether a document with the estimated usage fits in what
// is left. Once a document does not fit, nothing more is admitted.
func (b *budget) admit(est DocumentResult) bool {
	if b.limit <= 0 {
		return true
	}
	if b.exhausted || b.spent+Cost(est.InputTokens, est.OutputTokens, b.batch) > b.limit {
		b.exhausted = true
		return false
	}
	return true
}

// charge adds actual usage.
func (b *budget) charge(res DocumentResult) {
	b.spent += Cost(res.InputTokens, res.OutputTokens, b.batch)
}
