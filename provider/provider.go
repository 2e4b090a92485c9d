// Package provider implements the boundary to the external text-generation
// service: the Anthropic Messages and Message Batches APIs, and
// OpenAI-compatible chat endpoints (OpenAI, Ollama, custom servers) for
// synchronous translation.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderAnthropic    = "anthropic"
	ProviderOpenAI       = "openai"
	ProviderOllama       = "ollama"
	ProviderCustomOpenAI = "custom-openai"
	ProviderMock         = "mock"
)

// DefaultModel is used when neither the config nor the environment names one.
const DefaultModel = "claude-sonnet-4-5-20250929"

// DefaultMaxTokens bounds the output of a single chunk request.
const DefaultMaxTokens = 16384

// ---------------------------------------------------------------------------
// Request / response
// ---------------------------------------------------------------------------

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single chunk translation request.
type Request struct {
	// Tag correlates a batched request with its result.
	Tag       string
	Model     string
	MaxTokens int
	System    string
	Messages  []Message
}

// Response is the translated text plus token usage.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	// Truncated is set when the service stopped at the output token limit.
	Truncated bool
}

// Client translates one request synchronously.
type Client interface {
	Translate(ctx context.Context, req Request) (Response, error)
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

// Batch processing states reported by the service.
const (
	BatchInProgress = "in_progress"
	BatchCanceling  = "canceling"
	BatchEnded      = "ended"
)

// Batch result outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeErrored   = "errored"
	OutcomeCanceled  = "canceled"
	OutcomeExpired   = "expired"
)

// RequestCounts tallies batch requests by outcome.
type RequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

// BatchStatus describes a submitted batch.
type BatchStatus struct {
	ID        string
	State     string
	Counts    RequestCounts
	CreatedAt time.Time
	ExpiresAt time.Time
	EndedAt   time.Time
}

// Ended reports whether the service finished processing the batch.
func (s BatchStatus) Ended() bool {
	return s.State == BatchEnded
}

// BatchResult is the outcome of one tagged request.
type BatchResult struct {
	Tag      string
	Outcome  string
	Response Response
	Error    string
}

// BatchClient submits and tracks asynchronous batches.
type BatchClient interface {
	SubmitBatch(ctx context.Context, reqs []Request) (BatchStatus, error)
	Poll(ctx context.Context, id string) (BatchStatus, error)
	Results(ctx context.Context, id string) ([]BatchResult, error)
}

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for a text-generation service.
type Provider struct {
	// ID is the provider identifier (anthropic, openai, ollama, ...).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
	// Batch reports whether the provider supports batch submission.
	Batch bool
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com/v1",
			Model:   DefaultModel,
			Timeout: 600 * time.Second,
			Batch:   true,
		},
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 300 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Timeout: 600 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 300 * time.Second,
		},
		// Offline echo provider for trial runs; the caller builds it.
		ProviderMock: {
			ID:    ProviderMock,
			Name:  "Mock",
			Model: "mock",
			Batch: true,
		},
	}
}

// Lookup returns the default definition for id.
func Lookup(id string) (Provider, error) {
	p, ok := DefaultProviders()[id]
	if !ok {
		return Provider{}, fmt.Errorf("unknown provider %q", id)
	}
	return p, nil
}

// NeedsKey reports whether the provider requires an API key.
func (p Provider) NeedsKey() bool {
	return p.ID == ProviderAnthropic || p.ID == ProviderOpenAI
}

// New returns the synchronous client for p.
func New(p Provider) (Client, error) {
	if strings.TrimSpace(p.BaseURL) == "" {
		return nil, fmt.Errorf("provider %s: base URL is required", p.ID)
	}
	switch p.ID {
	case ProviderAnthropic:
		return NewAnthropic(p), nil
	default:
		// Everything else speaks the OpenAI chat format.
		return NewOpenAI(p), nil
	}
}

// ---------------------------------------------------------------------------
// HTTP client with proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
