// Package mock provides deterministic stand-ins for the text-generation
// service, used by tests and by the "mock" provider for offline dry runs of
// the whole pipeline.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minios-linux/docweave/glossary"
	"github.com/minios-linux/docweave/prompt"
	"github.com/minios-linux/docweave/provider"
)

// Client echoes the source text of each request, with glossary terms
// substituted and an optional prefix.
type Client struct {
	// Prefix is prepended to every translation.
	Prefix string
	// Glossary terms are replaced in the echoed text.
	Glossary *glossary.Glossary
	// Pad wraps the answer in stray blank lines, as real models sometimes do.
	Pad bool
	// Fail, when set, is consulted before answering; a non-nil error is
	// returned instead of a translation.
	Fail func(call int, req provider.Request) error

	mu    sync.Mutex
	calls []provider.Request
}

var _ provider.Client = (*Client)(nil)

// Translate implements provider.Client.
func (c *Client) Translate(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return provider.Response{}, err
	}
	c.mu.Lock()
	c.calls = append(c.calls, req)
	call := len(c.calls)
	c.mu.Unlock()

	if c.Fail != nil {
		if err := c.Fail(call, req); err != nil {
			return provider.Response{}, err
		}
	}
	return c.answer(req), nil
}

func (c *Client) answer(req provider.Request) provider.Response {
	user := ""
	if n := len(req.Messages); n > 0 {
		user = req.Messages[n-1].Content
	}
	src, ok := prompt.Source(user)
	if !ok {
		src = user
	}

	text := c.Prefix + c.Glossary.Apply(src)
	if c.Pad {
		text = "\n" + text + "\n\n"
	}
	return provider.Response{
		Text:         text,
		InputTokens:  prompt.EstimateTokens(req.System + user),
		OutputTokens: prompt.EstimateTokens(text),
	}
}

// Calls returns the requests received so far.
func (c *Client) Calls() []provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Request(nil), c.calls...)
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

// Batch simulates the asynchronous batch service on top of a Client.
type Batch struct {
	// Client produces the translations of succeeded requests.
	Client *Client
	// PendingPolls is the number of polls answered with in_progress
	// before the batch ends.
	PendingPolls int
	// Outcomes overrides the outcome of individual tags.
	Outcomes map[string]string
	// SubmitErr, when set, is returned by SubmitBatch.
	SubmitErr error

	mu      sync.Mutex
	seq     int
	batches map[string]*batch
}

type batch struct {
	reqs    []provider.Request
	polls   int
	created time.Time
}

var _ provider.BatchClient = (*Batch)(nil)

// SubmitBatch implements provider.BatchClient.
func (b *Batch) SubmitBatch(ctx context.Context, reqs []provider.Request) (provider.BatchStatus, error) {
	if err := ctx.Err(); err != nil {
		return provider.BatchStatus{}, err
	}
	if b.SubmitErr != nil {
		return provider.BatchStatus{}, b.SubmitErr
	}
	if len(reqs) == 0 {
		return provider.BatchStatus{}, fmt.Errorf("mock batches: no requests")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batches == nil {
		b.batches = make(map[string]*batch)
	}
	b.seq++
	id := fmt.Sprintf("msgbatch_mock_%03d", b.seq)
	b.batches[id] = &batch{reqs: append([]provider.Request(nil), reqs...), created: time.Now().UTC()}
	return b.statusLocked(id), nil
}

// Poll implements provider.BatchClient.
func (b *Batch) Poll(ctx context.Context, id string) (provider.BatchStatus, error) {
	if err := ctx.Err(); err != nil {
		return provider.BatchStatus{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.batches[id]
	if !ok {
		return provider.BatchStatus{}, &provider.HTTPStatusError{Provider: "mock", Operation: "batches", StatusCode: 404, Status: "404 Not Found"}
	}
	bt.polls++
	return b.statusLocked(id), nil
}

func (b *Batch) statusLocked(id string) provider.BatchStatus {
	bt := b.batches[id]
	s := provider.BatchStatus{
		ID:        id,
		State:     provider.BatchInProgress,
		CreatedAt: bt.created,
		ExpiresAt: bt.created.Add(24 * time.Hour),
	}
	if bt.polls <= b.PendingPolls {
		s.Counts.Processing = len(bt.reqs)
		return s
	}
	s.State = provider.BatchEnded
	s.EndedAt = bt.created
	for _, r := range bt.reqs {
		switch b.outcome(r.Tag) {
		case provider.OutcomeSucceeded:
			s.Counts.Succeeded++
		case provider.OutcomeErrored:
			s.Counts.Errored++
		case provider.OutcomeCanceled:
			s.Counts.Canceled++
		case provider.OutcomeExpired:
			s.Counts.Expired++
		}
	}
	return s
}

func (b *Batch) outcome(tag string) string {
	if o, ok := b.Outcomes[tag]; ok {
		return o
	}
	return provider.OutcomeSucceeded
}

// Results implements provider.BatchClient. Results are returned in reverse
// tag order, as the real service gives no ordering guarantee.
func (b *Batch) Results(ctx context.Context, id string) ([]provider.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	bt, ok := b.batches[id]
	b.mu.Unlock()
	if !ok {
		return nil, &provider.HTTPStatusError{Provider: "mock", Operation: "batch results", StatusCode: 404, Status: "404 Not Found"}
	}

	client := b.Client
	if client == nil {
		client = &Client{}
	}
	results := make([]provider.BatchResult, 0, len(bt.reqs))
	for _, r := range bt.reqs {
		res := provider.BatchResult{Tag: r.Tag, Outcome: b.outcome(r.Tag)}
		switch res.Outcome {
		case provider.OutcomeSucceeded:
			res.Response = client.answer(r)
		case provider.OutcomeErrored:
			res.Error = `{"type":"invalid_request_error","message":"mock failure"}`
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return strings.Compare(results[i].Tag, results[j].Tag) > 0 })
	return results, nil
}
