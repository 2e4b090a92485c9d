package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AnthropicVersion is sent with every request.
const AnthropicVersion = "2023-06-01"

// Anthropic talks to the Messages and Message Batches APIs.
type Anthropic struct {
	prov Provider
	http *httpDoer
}

var (
	_ Client      = (*Anthropic)(nil)
	_ BatchClient = (*Anthropic)(nil)
)

// NewAnthropic returns a client for p.
func NewAnthropic(p Provider) *Anthropic {
	headers := map[string]string{"anthropic-version": AnthropicVersion}
	if p.APIKey != "" {
		headers["x-api-key"] = p.APIKey
	}
	return &Anthropic{
		prov: p,
		http: &httpDoer{
			provider: p.ID,
			client:   makeHTTPClient(p.Proxy, p.Timeout),
			headers:  headers,
		},
	}
}

func (a *Anthropic) endpoint(path string) string {
	return strings.TrimRight(a.prov.BaseURL, "/") + path
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type anthropicParams struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type anthropicMessage struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (m anthropicMessage) response() Response {
	var parts []string
	for _, block := range m.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return Response{
		Text:         strings.Join(parts, ""),
		InputTokens:  m.Usage.InputTokens,
		OutputTokens: m.Usage.OutputTokens,
		Truncated:    m.StopReason == "max_tokens",
	}
}

type anthropicBatch struct {
	ID               string        `json:"id"`
	ProcessingStatus string        `json:"processing_status"`
	RequestCounts    RequestCounts `json:"request_counts"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
	EndedAt          *time.Time    `json:"ended_at"`
	ResultsURL       string        `json:"results_url"`
}

func (b anthropicBatch) status() BatchStatus {
	s := BatchStatus{
		ID:        b.ID,
		State:     b.ProcessingStatus,
		Counts:    b.RequestCounts,
		CreatedAt: b.CreatedAt,
		ExpiresAt: b.ExpiresAt,
	}
	if b.EndedAt != nil {
		s.EndedAt = *b.EndedAt
	}
	return s
}

func (a *Anthropic) params(req Request) anthropicParams {
	model := req.Model
	if model == "" {
		model = a.prov.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return anthropicParams{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Translate sends one request to POST /messages.
func (a *Anthropic) Translate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(a.params(req))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	respBody, err := a.http.do(ctx, "messages", http.MethodPost, a.endpoint("/messages"), body)
	if err != nil {
		return Response{}, err
	}

	var msg anthropicMessage
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return Response{}, fmt.Errorf("invalid JSON response: %w", err)
	}
	resp := msg.response()
	if strings.TrimSpace(resp.Text) == "" {
		return resp, fmt.Errorf("%s messages: %w: %w", a.prov.ID, ErrTransient, ErrEmptyResponse)
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Message Batches
// ---------------------------------------------------------------------------

// SubmitBatch creates one batch holding every request. Tags become the
// batch custom_id and must be unique.
func (a *Anthropic) SubmitBatch(ctx context.Context, reqs []Request) (BatchStatus, error) {
	if len(reqs) == 0 {
		return BatchStatus{}, fmt.Errorf("%s batches: no requests", a.prov.ID)
	}
	type item struct {
		CustomID string          `json:"custom_id"`
		Params   anthropicParams `json:"params"`
	}
	payload := struct {
		Requests []item `json:"requests"`
	}{Requests: make([]item, 0, len(reqs))}

	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if !validTag(r.Tag) {
			return BatchStatus{}, fmt.Errorf("%s batches: invalid request tag %q", a.prov.ID, r.Tag)
		}
		if seen[r.Tag] {
			return BatchStatus{}, fmt.Errorf("%s batches: duplicate request tag %q", a.prov.ID, r.Tag)
		}
		seen[r.Tag] = true
		payload.Requests = append(payload.Requests, item{CustomID: r.Tag, Params: a.params(r)})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return BatchStatus{}, fmt.Errorf("building request: %w", err)
	}
	respBody, err := a.http.do(ctx, "batches", http.MethodPost, a.endpoint("/messages/batches"), body)
	if err != nil {
		return BatchStatus{}, err
	}
	return decodeBatch(respBody)
}

// Poll returns the current batch status.
func (a *Anthropic) Poll(ctx context.Context, id string) (BatchStatus, error) {
	respBody, err := a.http.do(ctx, "batches", http.MethodGet, a.endpoint("/messages/batches/"+url.PathEscape(id)), nil)
	if err != nil {
		return BatchStatus{}, err
	}
	return decodeBatch(respBody)
}

func decodeBatch(body []byte) (BatchStatus, error) {
	var b anthropicBatch
	if err := json.Unmarshal(body, &b); err != nil {
		return BatchStatus{}, fmt.Errorf("invalid JSON response: %w", err)
	}
	if b.ID == "" {
		return BatchStatus{}, fmt.Errorf("batch response without id")
	}
	return b.status(), nil
}

// Results streams the JSONL results of an ended batch.
func (a *Anthropic) Results(ctx context.Context, id string) ([]BatchResult, error) {
	resp, err := a.http.send(ctx, "batch results", http.MethodGet, a.endpoint("/messages/batches/"+url.PathEscape(id)+"/results"), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var results []BatchResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1<<20), maxResponseBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row struct {
			CustomID string `json:"custom_id"`
			Result   struct {
				Type    string           `json:"type"`
				Message anthropicMessage `json:"message"`
				Error   json.RawMessage  `json:"error"`
			} `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("invalid batch result line: %w", err)
		}
		r := BatchResult{Tag: row.CustomID, Outcome: row.Result.Type}
		switch row.Result.Type {
		case OutcomeSucceeded:
			r.Response = row.Result.Message.response()
		case OutcomeErrored:
			r.Error = strings.TrimSpace(string(row.Result.Error))
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapTransport(ctx, a.prov.ID, "batch results", err)
	}
	return results, nil
}

// validTag reports whether tag is accepted as a batch custom_id.
func validTag(tag string) bool {
	if len(tag) == 0 || len(tag) > 64 {
		return false
	}
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
