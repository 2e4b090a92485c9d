package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OpenAI talks to an OpenAI-compatible chat/completions endpoint.
type OpenAI struct {
	prov Provider
	http *httpDoer
}

var _ Client = (*OpenAI)(nil)

// NewOpenAI returns a client for p.
func NewOpenAI(p Provider) *OpenAI {
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}
	return &OpenAI{
		prov: p,
		http: &httpDoer{
			provider: p.ID,
			client:   makeHTTPClient(p.Proxy, p.Timeout),
			headers:  headers,
		},
	}
}

func (o *OpenAI) endpoint() string {
	baseURL := strings.TrimRight(o.prov.BaseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func buildOpenAIChatRequest(model string, maxTokens int, system string, messages []Message) ([]byte, error) {
	msgs := make([]Message, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, messages...)
	req := struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
		Temperature float64   `json:"temperature"`
		Stream      bool      `json:"stream"`
	}{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
		Stream:      false,
	}
	return json.Marshal(req)
}

// Translate sends one chat completion request.
func (o *OpenAI) Translate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = o.prov.Model
	}
	body, err := buildOpenAIChatRequest(model, req.MaxTokens, req.System, req.Messages)
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	respBody, err := o.http.do(ctx, "chat", http.MethodPost, o.endpoint(), body)
	if err != nil {
		return Response{}, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("invalid JSON response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("%s chat: API error: %s", o.prov.ID, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Response{}, fmt.Errorf("%s chat: %w: %w", o.prov.ID, ErrTransient, ErrEmptyResponse)
	}
	return Response{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		Truncated:    parsed.Choices[0].FinishReason == "length",
	}, nil
}
