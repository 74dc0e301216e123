// Package scryfall provides a client for the Scryfall card catalog API.
package scryfall

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/resilience"
)

const (
	defaultBaseURL = "https://api.scryfall.com"
	// MaxBatchSize is the identifier limit of POST /cards/collection.
	MaxBatchSize       = 75
	defaultSearchLimit = 10
)

// Client defines the catalog operations used by cardwatch.
type Client interface {
	// FetchOne looks up a single card, by ExternalID when set and by exact
	// name otherwise.
	FetchOne(ctx context.Context, key model.ItemKey) model.Lookup
	// FetchMany looks up many cards through the collection endpoint. The
	// result is index-aligned with keys.
	FetchMany(ctx context.Context, keys []model.ItemKey) []model.Lookup
	// Search runs a full-text catalog query and returns at most limit records.
	Search(ctx context.Context, query string, limit int) ([]model.ItemRecord, error)
}

// Option configures the Scryfall client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header Scryfall asks clients to send.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = NewAdaptiveLimiter(rate.Limit(perSec), burst)
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker guards every request with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

// WithBatchSize sets how many identifiers go into one collection request.
func WithBatchSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= MaxBatchSize {
			c.batchSize = n
		}
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *AdaptiveLimiter
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	batchSize int
}

// NewClient creates a new Scryfall client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: "cardwatch/1.0",
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		// Scryfall asks for no more than 10 requests per second.
		limiter:   NewAdaptiveLimiter(10, 1),
		retry:     resilience.DefaultRetryConfig(),
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		batchSize: MaxBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("scryfall", "request")
	}
	return c
}

// do sends one request through the breaker, retrying transient failures.
// Non-2xx responses come back as *resilience.StatusError.
func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "scryfall: marshal request")
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			return c.send(ctx, method, reqURL, body)
		})
	})
}

func (c *httpClient) send(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "scryfall: rate limit wait")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, eris.Wrap(err, "scryfall: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scryfall: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "scryfall: read response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.OnRateLimit()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{StatusCode: resp.StatusCode, Body: errorDetails(data)}
	}
	c.limiter.OnSuccess()
	return data, nil
}

// errorDetails extracts the human-readable part of a Scryfall error object.
func errorDetails(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Details != "" {
		return e.Details
	}
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}

func (c *httpClient) FetchOne(ctx context.Context, key model.ItemKey) model.Lookup {
	var (
		path  string
		query url.Values
	)
	if key.ExternalID != "" {
		path = "/cards/" + url.PathEscape(key.ExternalID)
	} else {
		path = "/cards/named"
		query = url.Values{"exact": {key.Name}}
	}

	data, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		if resilience.IsNotFound(err) {
			return model.NotFound()
		}
		return model.Unavailable(eris.Wrapf(err, "scryfall: fetch %q", key.Name))
	}

	var cd card
	if err := json.Unmarshal(data, &cd); err != nil {
		return model.Unavailable(eris.Wrap(err, "scryfall: decode card"))
	}
	return model.Found(cd.record())
}

func (c *httpClient) FetchMany(ctx context.Context, keys []model.ItemKey) []model.Lookup {
	out := make([]model.Lookup, len(keys))
	for start := 0; start < len(keys); start += c.batchSize {
		end := min(start+c.batchSize, len(keys))
		c.fetchChunk(ctx, keys[start:end], out[start:end])
	}
	return out
}

// fetchChunk fills out for one collection request. A failed request marks
// only this chunk unavailable.
func (c *httpClient) fetchChunk(ctx context.Context, keys []model.ItemKey, out []model.Lookup) {
	req := collectionRequest{Identifiers: make([]identifier, len(keys))}
	for i, k := range keys {
		if k.ExternalID != "" {
			req.Identifiers[i] = identifier{ID: k.ExternalID}
		} else {
			req.Identifiers[i] = identifier{Name: k.Name}
		}
	}

	data, err := c.do(ctx, http.MethodPost, "/cards/collection", nil, req)
	if err == nil {
		var resp collectionResponse
		if err = json.Unmarshal(data, &resp); err == nil {
			for i, k := range keys {
				if cd, ok := resp.match(k); ok {
					out[i] = model.Found(cd.record())
				} else {
					out[i] = model.NotFound()
				}
			}
			return
		}
		err = eris.Wrap(err, "scryfall: decode collection")
	}

	err = eris.Wrapf(err, "scryfall: collection of %d", len(keys))
	for i := range out {
		out[i] = model.Unavailable(err)
	}
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]model.ItemRecord, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	data, err := c.do(ctx, http.MethodGet, "/cards/search", url.Values{
		"q":      {query},
		"unique": {"prints"},
	}, nil)
	if err != nil {
		// Scryfall answers 404 when a query matches nothing.
		if resilience.IsNotFound(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "scryfall: search")
	}

	var list cardList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, eris.Wrap(err, "scryfall: decode search")
	}

	n := min(limit, len(list.Data))
	out := make([]model.ItemRecord, 0, n)
	for _, cd := range list.Data[:n] {
		out = append(out, cd.record())
	}
	return out, nil
}
