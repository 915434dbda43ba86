// Package interpretation provides a client for the extraction service that
// serves interpretation payloads and accepts reviewer edits.
package interpretation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/record-review/internal/model"
	"github.com/sells-group/record-review/internal/resilience"
)

// Client defines the extraction service operations.
type Client interface {
	// FetchInterpretation returns the latest interpretation payload for a document.
	FetchInterpretation(ctx context.Context, documentID string) (*Interpretation, error)
	// ApplyChanges submits reviewer edits and returns the refreshed payload.
	ApplyChanges(ctx context.Context, documentID string, changes []model.Change) (*Interpretation, error)
}

// Interpretation is a decoded payload together with the bytes it was decoded
// from, so callers can persist the exact service response.
type Interpretation struct {
	Payload *model.InterpretationPayload
	Raw     json.RawMessage
}

type changesRequest struct {
	Changes []model.Change `json:"changes"`
}

// Option configures the interpretation client.
type Option func(*httpClient)

// WithBaseURL sets the service base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second. A non-positive rate
// disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithBreaker sets the circuit breaker guarding the service.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewClient creates a new extraction service client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token: token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewBreaker("interpretation", 0, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchInterpretation(ctx context.Context, documentID string) (*Interpretation, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, eris.New("interpretation: document id is required")
	}
	reqURL := fmt.Sprintf("%s/documents/%s/interpretation", c.baseURL, url.PathEscape(documentID))

	body, err := c.do(ctx, "fetch", documentID, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return decode(body)
}

func (c *httpClient) ApplyChanges(ctx context.Context, documentID string, changes []model.Change) (*Interpretation, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, eris.New("interpretation: document id is required")
	}
	if err := model.ValidateChanges(changes); err != nil {
		return nil, eris.Wrap(err, "interpretation: invalid changes")
	}
	payload, err := json.Marshal(changesRequest{Changes: changes})
	if err != nil {
		return nil, eris.Wrap(err, "interpretation: marshal changes")
	}
	reqURL := fmt.Sprintf("%s/documents/%s/changes", c.baseURL, url.PathEscape(documentID))

	body, err := c.do(ctx, "apply_changes", documentID, http.MethodPost, reqURL, payload)
	if err != nil {
		return nil, err
	}
	return decode(body)
}

// do sends one logical request through the limiter, breaker and retry loop.
// Transient statuses are retried; any other non-2xx status fails at once.
func (c *httpClient) do(ctx context.Context, op, documentID, method, reqURL string, payload []byte) ([]byte, error) {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("interpretation."+op, documentID)
	}

	attempt := func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return c.send(ctx, method, reqURL, payload)
	}

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		if c.breaker == nil {
			return attempt(ctx)
		}
		return resilience.Call(ctx, c.breaker, attempt)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, eris.Wrapf(err, "interpretation: %s %s", op, documentID)
	}
	return body, nil
}

func (c *httpClient) send(ctx context.Context, method, reqURL string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, eris.Wrap(err, "interpretation: create request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "interpretation: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "interpretation: read response body")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	statusErr := eris.Wrap(&resilience.StatusError{
		StatusCode: resp.StatusCode,
		Body:       truncate(body, 512),
		RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}, "interpretation")
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return nil, statusErr
}

func decode(body []byte) (*Interpretation, error) {
	p, err := model.ParsePayload(body)
	if err != nil {
		return nil, eris.Wrap(err, "interpretation: decode response")
	}
	return &Interpretation{Payload: p, Raw: json.RawMessage(body)}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
