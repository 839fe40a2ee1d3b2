package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError signals a 429 response from the upstream. RetryAfter is
// the parsed Retry-After header value, or nil when the upstream did not
// send one.
type RateLimitError struct {
	Provider   string
	RetryAfter *time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("upstream %s: rate limited, retry after %s", e.Provider, *e.RetryAfter)
	}
	return fmt.Sprintf("upstream %s: rate limited", e.Provider)
}

// StatusError is any non-429 HTTP error response from the upstream.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: HTTP %d: %s", e.Provider, e.Status, e.Body)
}

// OpenAICompatible is a generic HTTP/SSE client for any provider
// exposing an OpenAI-compatible chat/completions endpoint: POST
// ${BaseURL}/chat/completions, Bearer auth, text/event-stream when
// streaming. It generalizes the
// teacher's per-vendor raw-HTTP client pattern (groq.go) to an arbitrary
// base URL instead of one hardcoded per provider.
type OpenAICompatible struct {
	ProviderName string
	BaseURL      string
	TokenSource  TokenSource
	HTTPClient   *http.Client
}

// TokenSource supplies the bearer token for each request. A static API
// key and an oauth2 clientcredentials-backed source both implement this.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same API key.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// NewOpenAICompatible constructs a client for one provider's base URL.
func NewOpenAICompatible(providerName, baseURL string, tokenSource TokenSource) *OpenAICompatible {
	return &OpenAICompatible{
		ProviderName: providerName,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		TokenSource:  tokenSource,
		HTTPClient:   &http.Client{},
	}
}

// Complete implements Client.
func (c *OpenAICompatible) Complete(ctx context.Context, req Request) (*Response, error) {
	req.Stream = false
	httpResp, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if err := c.classifyError(httpResp, body); err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("upstream %s: decode response: %w", c.ProviderName, err)
	}
	return &resp, nil
}

// CompleteStream implements Client.
func (c *OpenAICompatible) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	req.Stream = true
	httpResp, err := c.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		body, _ := io.ReadAll(httpResp.Body)
		if err := c.classifyError(httpResp, body); err != nil {
			return nil, err
		}
	}

	ch := make(chan StreamChunk)
	go c.pump(httpResp, ch)
	return ch, nil
}

func (c *OpenAICompatible) pump(httpResp *http.Response, ch chan<- StreamChunk) {
	defer close(ch)
	defer func() { _ = httpResp.Body.Close() }()

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == SSEDone {
			return
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		ch <- chunk
	}
	if err := scanner.Err(); err != nil {
		ch <- StreamChunk{Err: fmt.Errorf("upstream %s: stream read: %w", c.ProviderName, err)}
	}
}

func (c *OpenAICompatible) do(ctx context.Context, req Request) (*http.Response, []byte, error) {
	httpResp, err := c.send(ctx, req, false)
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		_ = httpResp.Body.Close()
		return nil, nil, fmt.Errorf("upstream %s: read response: %w", c.ProviderName, err)
	}
	return httpResp, body, nil
}

func (c *OpenAICompatible) send(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: marshal request: %w", c.ProviderName, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream %s: build request: %w", c.ProviderName, err)
	}

	token, err := c.TokenSource.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: token source: %w", c.ProviderName, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: request failed: %w", c.ProviderName, err)
	}
	return httpResp, nil
}

// classifyError inspects a completed HTTP response and returns a
// RateLimitError for 429s (parsing Retry-After) or a
// StatusError for any other non-2xx status. Returns nil for 2xx.
func (c *OpenAICompatible) classifyError(httpResp *http.Response, body []byte) error {
	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return nil
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Provider: c.ProviderName, RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"))}
	}
	return &StatusError{Provider: c.ProviderName, Status: httpResp.StatusCode, Body: string(body)}
}

// parseRetryAfter parses a Retry-After header as a decimal number of
// seconds. Returns nil if the header is absent or not a valid integer
// (the HTTP-date form is not expected from these upstreams).
func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}
