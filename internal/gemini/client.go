package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-1.5-flash"

	// FallbackText replaces a response that carries no candidate text.
	FallbackText = "I apologize, but I couldn't generate a response. Please try again."

	defaultTimeout  = 30 * time.Second
	retryBackoff    = 250 * time.Millisecond
	maxResponseSize = 4 << 20 // 4MB
)

var (
	// ErrMissingAPIKey is returned when the client has no API key configured.
	ErrMissingAPIKey = errors.New("gemini API key not configured")
	// ErrTimeout is returned when the upstream call exceeds the client timeout.
	ErrTimeout = errors.New("gemini request timed out")
)

// UpstreamError is returned when the generation API answers with a non-2xx
// status. Body is the upstream error payload, always valid JSON.
type UpstreamError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gemini returned status %d: %s", e.StatusCode, string(e.Body))
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	retry      bool
	httpClient *http.Client
	onDegraded func(model string)
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model name; empty keeps DefaultModel.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at a different API root (tests, proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout bounds each upstream attempt. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry enables one retry on transient network failures. HTTP
// responses, including 5xx, are never retried.
func WithRetry(retry bool) Option {
	return func(c *Client) { c.retry = retry }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDegradationHook registers a callback invoked whenever a successful
// response lacks candidate text and FallbackText is substituted.
func WithDegradationHook(fn func(model string)) Option {
	return func(c *Client) { c.onDegraded = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Gemini client. An empty apiKey is accepted; Generate
// then fails with ErrMissingAPIKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      DefaultModel,
		baseURL:    DefaultBaseURL,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate sends req and returns the first candidate's text. A 2xx response
// without candidate text is not an error: the result carries FallbackText
// and Degraded is set.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	if !c.Configured() {
		return GenerationResult{}, ErrMissingAPIKey
	}

	body, err := json.Marshal(newWireRequest(req))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	attempts := 1
	if c.retry {
		attempts = 2
	}

	var lastErr error
	for attempt := range attempts {
		res, err := c.doGenerate(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == attempts-1 {
			break
		}

		c.logger.Warn("transient gemini failure, retrying", "error", err, "backoff", retryBackoff)
		select {
		case <-ctx.Done():
			return GenerationResult{}, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return GenerationResult{}, lastErr
}

// transportError marks failures that happened before any HTTP response was
// received.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transportError
	if !errors.As(err, &te) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) endpoint() string {
	return c.baseURL + "/models/" + url.PathEscape(c.model) + ":generateContent"
}

func (c *Client) doGenerate(ctx context.Context, body []byte) (GenerationResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if timedOut(ctx, reqCtx) {
			return GenerationResult{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return GenerationResult{}, &transportError{err: fmt.Errorf("executing request: %w", unwrapURLError(err))}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if timedOut(ctx, reqCtx) {
			return GenerationResult{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return GenerationResult{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("gemini API error", "status", resp.StatusCode, "body", string(respBody))
		return GenerationResult{}, &UpstreamError{StatusCode: resp.StatusCode, Body: rawBody(respBody)}
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return GenerationResult{}, fmt.Errorf("decoding response: %w", err)
	}

	text, ok := parsed.firstText()
	if !ok {
		c.logger.Warn("gemini response had no candidate text, using fallback", "model", c.model)
		if c.onDegraded != nil {
			c.onDegraded(c.model)
		}
		return GenerationResult{Text: FallbackText, Degraded: true}, nil
	}
	return GenerationResult{Text: text}, nil
}

// timedOut reports whether the per-attempt deadline fired while the
// caller's own context is still live.
func timedOut(parent, attempt context.Context) bool {
	return parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded)
}

// unwrapURLError drops the *url.Error wrapper so request URLs never end up
// in error messages returned to callers.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
