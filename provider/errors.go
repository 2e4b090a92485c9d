package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minios-linux/docweave/resilience"
)

var (
	// ErrTransient marks failures worth retrying: rate limits, overload,
	// timeouts and dropped connections.
	ErrTransient = errors.New("transient service failure")
	// ErrEmptyResponse is returned when the service answered without text.
	ErrEmptyResponse = errors.New("empty response")
	// ErrBatchUnsupported is returned when a provider cannot run batches.
	ErrBatchUnsupported = errors.New("batch mode is not supported by this provider")
)

// HTTPStatusError is a non-2xx answer from the service.
type HTTPStatusError struct {
	Provider   string
	Operation  string
	StatusCode int
	Status     string
	Body       string
	Delay      time.Duration
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "service status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s status: %s", e.Provider, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Provider, e.Operation, e.Status, truncate(strings.TrimSpace(e.Body), 500))
}

// Is makes errors.Is(err, ErrTransient) true for retryable statuses.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrTransient && isRetryableHTTPStatus(e.StatusCode)
}

// RetryAfter returns the server-provided minimum delay, if any.
func (e *HTTPStatusError) RetryAfter() time.Duration {
	return e.Delay
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout,
		529: // overloaded
		return true
	default:
		return false
	}
}

func statusError(provider, operation string, resp *http.Response, body []byte) *HTTPStatusError {
	e := &HTTPStatusError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.Delay = retryDelay(resp.Header, body)
	}
	return e
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify maps service errors for the retry executor.
func Classify(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if IsTransient(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		// 4xx is a problem with the request, not with the service.
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// retryDelay reads the delay from a retry-after header (seconds or HTTP
// date), falling back to a RetryInfo detail in the body.
func retryDelay(h http.Header, body []byte) time.Duration {
	if v := strings.TrimSpace(h.Get("retry-after")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	return parseRetryDelay(body)
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for a RetryInfo detail with a retryDelay field; zero when absent.
func parseRetryDelay(body []byte) time.Duration {
	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return 0
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000) * time.Millisecond
			}
		}
	}

	return 0
}

// wrapTransport marks connection-level failures as transient unless the
// caller's context ended.
func wrapTransport(ctx context.Context, provider, operation string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s %s: %w: %w", provider, operation, ErrTransient, err)
	}
	return fmt.Errorf("%s %s: %w", provider, operation, err)
}
