package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds a single response body read into memory.
const maxResponseBytes = 64 << 20

type httpDoer struct {
	provider string
	client   *http.Client
	headers  map[string]string
}

// do sends one request and returns the body of a 2xx answer.
func (d *httpDoer) do(ctx context.Context, operation, method, endpoint string, body []byte) ([]byte, error) {
	resp, err := d.send(ctx, operation, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, wrapTransport(ctx, d.provider, operation, err)
	}
	return respBody, nil
}

// send returns the raw response of a 2xx answer; the caller closes the body.
func (d *httpDoer) send(ctx context.Context, operation, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, wrapTransport(ctx, d.provider, operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return nil, statusError(d.provider, operation, resp, respBody)
	}
	return resp, nil
}
