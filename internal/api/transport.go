package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Throttle backoff constants. Automatic retries only apply to 429/503 and
// only when enabled with SetMaxRetries.
const (
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// DefaultUserAgent is sent unless overridden with SetDefaultHeader.
const DefaultUserAgent = "adminctl/0.1"

// headerRequestID correlates client and server logs.
const headerRequestID = "X-Request-ID"

// Response is a successful (2xx) HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes requests against a fixed base URL with default headers.
// Its HTTP client carries a cookie jar so the session cookie used by the
// renewal endpoint travels with every call.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.RWMutex
	headers    http.Header
	maxRetries int

	// sleepFunc waits between throttle retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewTransport creates a Transport. A nil httpClient gets a fresh client; a
// client without a cookie jar is copied and given one.
func NewTransport(baseURL string, httpClient *http.Client, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if httpClient.Jar == nil {
		withJar := *httpClient
		// cookiejar.New only fails on a bad PublicSuffixList, and we pass none.
		withJar.Jar, _ = cookiejar.New(nil)
		httpClient = &withJar
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	headers.Set("User-Agent", DefaultUserAgent)

	return &Transport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		headers:    headers,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the base URL every path is appended to.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// HTTPClient returns the underlying client (and therefore its cookie jar).
func (t *Transport) HTTPClient() *http.Client {
	return t.httpClient
}

// SetDefaultHeader sets a header sent on every subsequent request.
func (t *Transport) SetDefaultHeader(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.headers.Set(key, value)
}

// DelDefaultHeader removes a default header.
func (t *Transport) DelDefaultHeader(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.headers.Del(key)
}

// DefaultHeader returns the current value of a default header.
func (t *Transport) DefaultHeader(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.headers.Get(key)
}

// SetMaxRetries enables automatic retries of throttled (429/503) responses.
// Zero, the default, disables them.
func (t *Transport) SetMaxRetries(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maxRetries = max(n, 0)
}

// Send executes req. extra headers override the defaults for this call only.
// A response that never arrives is a *NetworkError; a non-2xx response is an
// *Error carrying the envelope message.
func (t *Transport) Send(ctx context.Context, req Request, extra http.Header) (*Response, error) {
	t.mu.RLock()
	retries := t.maxRetries
	t.mu.RUnlock()

	var attempt int

	for {
		resp, err := t.doOnce(ctx, req, extra)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			t.logger.Warn("request failed without response",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.String("error", err.Error()),
			)

			return nil, &NetworkError{Method: req.Method, Path: req.Path, Err: err}
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			return nil, &NetworkError{Method: req.Method, Path: req.Path, Err: fmt.Errorf("reading body: %w", readErr)}
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			t.logger.Debug("request succeeded",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
			)

			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
		}

		if isRetryable(resp.StatusCode) && attempt < retries {
			backoff := t.retryBackoff(resp, attempt)
			t.logger.Warn("retrying throttled request",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := t.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &Error{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get(headerRequestID),
			Message:    envelopeMessage(body),
			Body:       body,
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry).
func (t *Transport) doOnce(ctx context.Context, req Request, extra http.Header) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.URL(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	t.mu.RLock()
	for k, v := range t.headers {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	t.mu.RUnlock()

	for k, v := range extra {
		httpReq.Header[k] = append([]string(nil), v...)
	}

	if httpReq.Header.Get(headerRequestID) == "" {
		httpReq.Header.Set(headerRequestID, uuid.NewString())
	}

	return t.httpClient.Do(httpReq)
}

// retryBackoff honors a Retry-After header in seconds, else backs off
// exponentially.
func (t *Transport) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(backoff + jitter)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
